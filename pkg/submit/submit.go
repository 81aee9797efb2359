// Package submit turns a populated job into files on disk and an array-job
// submission, recording it in history only when the scheduler accepts it.
package submit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/psub/pkg/history"
	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/ledger"
	"github.com/3leaps/psub/pkg/scheduler"
	"github.com/3leaps/psub/pkg/scripts"
)

var (
	// ErrDeclined is returned when the operator answers no at the prompt.
	ErrDeclined = errors.New("submission declined")

	// ErrJobExists is returned when another job already owns the tmp dir,
	// typically a submission with the same name in the same second.
	ErrJobExists = errors.New("job directory already exists")
)

// Confirmer asks the operator to approve a submission.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// PromptConfirmer reads a yes/no answer from In. An empty answer is yes.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptConfirmer) Confirm(prompt string) (bool, error) {
	if p.Out != nil {
		_, _ = fmt.Fprint(p.Out, prompt)
	}
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	if errors.Is(err, io.EOF) && line == "" {
		return false, nil
	}
	return Accepts(line), nil
}

// Accepts reports whether an answer approves the prompt.
func Accepts(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true
	}
	return false
}

// Options control a single submission.
type Options struct {
	// DryRun writes every file but neither prompts nor submits.
	DryRun bool
	// Yes skips the confirmation prompt.
	Yes bool
}

// Result describes the outcome of Submit.
type Result struct {
	Job       *job.Job `json:"job"`
	Submitted bool     `json:"submitted"`
	DryRun    bool     `json:"dry_run"`
	Output    string   `json:"scheduler_output,omitempty"`
}

// Submitter wires the scheduler, history and script settings together.
type Submitter struct {
	Scheduler scheduler.Scheduler
	History   *history.Store
	Scripts   scripts.Options
	Ledger    ledger.Config
	Confirmer Confirmer
	// Out receives the job summary.
	Out io.Writer
	// HistoryLimit trims history records to this many jobs after each
	// submission. Log and tmp directories are kept.
	HistoryLimit int
	Logger       *zap.Logger
	Now          func() time.Time
}

func (s *Submitter) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Submitter) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Prepare validates j and writes its tasks file, scripts and empty ledger.
func (s *Submitter) Prepare(ctx context.Context, j *job.Job) error {
	if j == nil {
		return fmt.Errorf("job is nil")
	}
	if j.Submitted() {
		return job.ErrAlreadySubmitted
	}
	if err := j.Validate(); err != nil {
		return err
	}

	// The tmp dir is claimed exclusively: two jobs sharing it would share a
	// tasks file and a ledger.
	if err := os.MkdirAll(filepath.Dir(j.TmpDir), 0755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	// #nosec G301 -- scheduler workers read scripts and write the ledger here
	if err := os.Mkdir(j.TmpDir, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrJobExists, j.TmpDir)
		}
		return fmt.Errorf("create tmp dir: %w", err)
	}
	// #nosec G301 -- scheduler workers write logs here
	if err := os.MkdirAll(j.LogDir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	if err := scripts.WriteTasks(j); err != nil {
		return err
	}
	opts := s.Scripts
	opts.JournalMode = s.Ledger.JournalMode
	opts.BusyTimeout = s.Ledger.BusyTimeout
	if err := scripts.Write(j, opts); err != nil {
		return err
	}

	cfg := s.Ledger
	cfg.Path = j.LedgerPath()
	l, err := ledger.OpenLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}
	return l.Close()
}

// Submit prepares j, confirms with the operator and hands it to the
// scheduler. History is written only after the scheduler accepts the job.
func (s *Submitter) Submit(ctx context.Context, j *job.Job, opts Options) (*Result, error) {
	log := s.logger()

	if err := s.Prepare(ctx, j); err != nil {
		return nil, err
	}

	if s.Out != nil {
		_, _ = fmt.Fprintln(s.Out, j.String())
	}

	res := &Result{Job: j, DryRun: opts.DryRun}
	if opts.DryRun {
		log.Info("Dry run; not submitting", zap.String("job", j.Name), zap.String("tmp_dir", j.TmpDir))
		return res, nil
	}

	if !opts.Yes {
		if s.Confirmer == nil {
			return res, fmt.Errorf("confirmation required but no prompt is available; pass --yes")
		}
		ok, err := s.Confirmer.Confirm("Submit? [Y/n] ")
		if err != nil {
			return res, err
		}
		if !ok {
			return res, ErrDeclined
		}
	}

	if s.Scheduler == nil {
		return res, fmt.Errorf("no scheduler configured")
	}
	out, err := s.Scheduler.SubmitArray(ctx, scheduler.ArrayRequest{
		SubmissionScript: j.SubmissionScript(),
		TasksFile:        j.TasksFile(),
		BatchSize:        j.Resources.BatchSize,
	})
	res.Output = out
	if err != nil {
		return res, err
	}

	j.SchedulerOutput = strings.TrimSpace(out)
	if err := j.MarkSubmitted(s.now()); err != nil {
		return res, err
	}
	res.Submitted = true

	if s.History != nil {
		if err := s.History.Register(j); err != nil {
			return res, fmt.Errorf("record history: %w", err)
		}
		if s.HistoryLimit > 0 {
			if _, err := s.History.Trim(s.HistoryLimit, false); err != nil {
				log.Warn("History trim failed", zap.Error(err))
			}
		}
	}

	log.Info("Submitted job",
		zap.String("job", j.Name),
		zap.Int("tasks", j.TaskCount()),
	)
	return res, nil
}
