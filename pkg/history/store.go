// Package history persists submitted job descriptors.
//
// Directory layout:
//
//	<root>/<submit_time>__<job_name>/job.json
//
// Records are written once at submit time and never modified. Reads are
// lenient: a record that fails to parse is logged and skipped so one bad file
// never hides the rest of the history.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/psub/pkg/job"
)

const (
	recordFileName = "job.json"
	keyTimeLayout  = "20060102T150405Z"
	keySeparator   = "__"
)

var (
	// ErrNotSubmitted is returned when registering a job without a submit time.
	ErrNotSubmitted = errors.New("job has no submit time")

	// ErrExists is returned when a record with the same key is already stored.
	ErrExists = errors.New("history record already exists")

	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("job not found")
)

// AmbiguousError is returned when a lookup prefix matches several records.
type AmbiguousError struct {
	Input   string
	Matches int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("job %q is ambiguous (%d matches); use the full name or id", e.Input, e.Matches)
}

type Store struct {
	root   string
	logger *zap.Logger
}

func NewStore(root string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: strings.TrimSpace(root), logger: logger}
}

func (s *Store) RootDir() string {
	return s.root
}

// Key is the directory name for a job: submit time then name.
func Key(j *job.Job) (string, error) {
	if j == nil || j.SubmitTime == nil {
		return "", ErrNotSubmitted
	}
	return j.SubmitTime.UTC().Format(keyTimeLayout) + keySeparator + j.Name, nil
}

func (s *Store) recordDir(key string) string {
	return filepath.Join(s.root, key)
}

func (s *Store) recordPath(key string) string {
	return filepath.Join(s.recordDir(key), recordFileName)
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("history root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Register writes the job's record. It fails if the job was never submitted
// or a record with the same key exists.
func (s *Store) Register(j *job.Job) error {
	key, err := Key(j)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	b, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	dir := s.recordDir(key)
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
		return fmt.Errorf("create history dir: %w", err)
	}
	if err := writeRecord(dir, s.recordPath(key), b); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}

	s.logger.Debug("Registered job", zap.String("job", j.Name), zap.String("key", key))
	return nil
}

// writeFile is swapped in tests to simulate a failing disk.
var writeFile = func(f *os.File, b []byte) (int, error) { return f.Write(b) }

func writeRecord(dir, path string, b []byte) error {
	tmp, err := os.CreateTemp(dir, recordFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := writeFile(tmp, b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

func (s *Store) load(key string) (*job.Job, error) {
	b, err := os.ReadFile(s.recordPath(key))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var j job.Job
	if err := json.Unmarshal([]byte(trimmed), &j); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	return &j, nil
}

// List returns every valid record, newest submit time first. Unreadable
// records and records without a submit time are skipped.
func (s *Store) List() ([]*job.Job, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history root: %w", err)
	}

	out := make([]*job.Job, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		j, err := s.load(entry.Name())
		if err != nil {
			s.logger.Warn("Skipping unreadable history record",
				zap.String("record", entry.Name()),
				zap.Error(err),
			)
			continue
		}
		if !j.Submitted() {
			s.logger.Debug("Skipping unsubmitted history record", zap.String("record", entry.Name()))
			continue
		}
		out = append(out, j)
	}

	sort.SliceStable(out, func(a, b int) bool {
		ta, tb := out[a].SubmitTime.UTC(), out[b].SubmitTime.UTC()
		if ta.Equal(tb) {
			return out[a].Name > out[b].Name
		}
		return ta.After(tb)
	})

	return out, nil
}

// Resolve finds a job by exact name, exact id, then unique name or id prefix.
func (s *Store) Resolve(input string) (*job.Job, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("job name or id is required")
	}

	jobs, err := s.List()
	if err != nil {
		return nil, err
	}

	for _, j := range jobs {
		if j.Name == input || j.ID == input {
			return j, nil
		}
	}

	var matches []*job.Job
	for _, j := range jobs {
		if strings.HasPrefix(j.Name, input) || strings.HasPrefix(j.ID, input) {
			matches = append(matches, j)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, input)
	case 1:
		return matches[0], nil
	default:
		return nil, &AmbiguousError{Input: input, Matches: len(matches)}
	}
}

// Latest returns the most recently submitted job.
func (s *Store) Latest() (*job.Job, error) {
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

// removeRecord deletes only the history record for j.
func (s *Store) removeRecord(j *job.Job) error {
	key, err := Key(j)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.recordDir(key)); err != nil {
		return fmt.Errorf("remove %s: %w", s.recordDir(key), err)
	}
	return nil
}

// Remove deletes the record for j along with its log and tmp directories.
func (s *Store) Remove(j *job.Job) error {
	key, err := Key(j)
	if err != nil {
		return err
	}
	for _, dir := range []string{j.LogDir, j.TmpDir, s.recordDir(key)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}
