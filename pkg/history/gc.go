package history

import (
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/psub/pkg/job"
)

// GCResult reports what a prune removed or would remove.
type GCResult struct {
	Deleted     int      `json:"deleted"`
	WouldDelete int      `json:"would_delete"`
	DryRun      bool     `json:"dry_run"`
	Jobs        []string `json:"jobs,omitempty"`
}

func (r *GCResult) add(dryRun bool, name string) {
	if dryRun {
		r.WouldDelete++
	} else {
		r.Deleted++
	}
	r.Jobs = append(r.Jobs, name)
}

// GC removes jobs submitted more than maxAge before now.
func (s *Store) GC(maxAge time.Duration, now time.Time, dryRun bool) (*GCResult, error) {
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}

	res := &GCResult{DryRun: dryRun}
	for _, j := range jobs {
		if now.Sub(j.SubmitTime.UTC()) <= maxAge {
			continue
		}
		if err := s.prune(j, dryRun); err != nil {
			return res, err
		}
		res.add(dryRun, j.Name)
	}
	return res, nil
}

// Trim keeps the newest limit records and drops the rest from history. Log
// and tmp directories are left in place, so jobs still running keep their
// tasks file and ledger. A limit of zero or less keeps everything.
func (s *Store) Trim(limit int, dryRun bool) (*GCResult, error) {
	return s.trim(limit, dryRun, s.removeRecord)
}

// Keep is Trim that also deletes the dropped jobs' log and tmp directories.
func (s *Store) Keep(limit int, dryRun bool) (*GCResult, error) {
	return s.trim(limit, dryRun, s.Remove)
}

func (s *Store) trim(limit int, dryRun bool, remove func(*job.Job) error) (*GCResult, error) {
	res := &GCResult{DryRun: dryRun}
	if limit <= 0 {
		return res, nil
	}

	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(jobs) <= limit {
		return res, nil
	}

	for _, j := range jobs[limit:] {
		if !dryRun {
			if err := remove(j); err != nil {
				return res, err
			}
			s.logger.Info("Removed job", zap.String("job", j.Name))
		}
		res.add(dryRun, j.Name)
	}
	return res, nil
}

func (s *Store) prune(j *job.Job, dryRun bool) error {
	if dryRun {
		return nil
	}
	if err := s.Remove(j); err != nil {
		return err
	}
	s.logger.Info("Removed job", zap.String("job", j.Name))
	return nil
}
