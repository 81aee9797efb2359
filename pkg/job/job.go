// Package job defines the Job descriptor: one array-job submission with its
// resource request, expanded command list and on-disk working layout.
//
// A Job is built in memory, populated with commands, and stamped with a submit
// time exactly once. After that it is treated as immutable; deriving a rerun of
// the failed tasks produces a new Job (see RerunFailed).
package job

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/psub/pkg/expand"
)

// NameTimeLayout is the timestamp suffix appended to every job name.
const NameTimeLayout = "2006_01_02T150405"

// DefaultBaseName is used when no name is given.
const DefaultBaseName = "job"

// File names inside a job's tmp directory.
const (
	TasksFileName        = "commands.sh"
	SubmissionScriptName = "submission_script.sh"
	RunnerScriptName     = "run_task.sh"
	LedgerFileName       = "exit_status.sqlite"
)

var (
	// ErrEmptyCommandList is returned when submitting a job without commands.
	ErrEmptyCommandList = errors.New("command list is empty")

	// ErrAlreadySubmitted is returned when stamping a job twice.
	ErrAlreadySubmitted = errors.New("job already submitted")

	// ErrNoFailedTasks is returned when a rerun is requested with nothing to rerun.
	ErrNoFailedTasks = errors.New("no failed tasks to rerun")

	// ErrMultilineCommand is returned for commands that would span several
	// lines of the tasks file and shift every later task index.
	ErrMultilineCommand = errors.New("command contains a newline")
)

// Paths are the storage roots a job lays its directories out under.
type Paths struct {
	// Root holds logs and history.
	Root string
	// Scratch holds per-job tmp directories (tasks file, scripts, ledger).
	Scratch string
}

// Job is the persisted descriptor of one submission.
type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	BaseName   string     `json:"base_name,omitempty"`
	Resources  Resources  `json:"resources"`
	Commands   []string   `json:"commands"`
	CreatedAt  time.Time  `json:"created_at"`
	SubmitTime *time.Time `json:"submit_time"`
	LogDir     string     `json:"log_dir"`
	TmpDir     string     `json:"tmp_dir"`

	// RerunOf names the job this one was derived from, if any.
	RerunOf string `json:"rerun_of,omitempty"`

	// SchedulerOutput is the scheduler's stdout captured at submit time.
	SchedulerOutput string `json:"scheduler_output,omitempty"`
}

// New builds an empty job named `<base>.<timestamp>`.
func New(base string, res Resources, paths Paths, now time.Time) *Job {
	base = sanitizeName(base)
	if base == "" {
		base = DefaultBaseName
	}
	name := base + "." + now.Format(NameTimeLayout)

	return &Job{
		ID:        uuid.New().String(),
		Name:      name,
		BaseName:  base,
		Resources: res.Normalize(),
		Commands:  []string{},
		CreatedAt: now.UTC(),
		LogDir:    filepath.Join(paths.Root, "logs", name),
		TmpDir:    filepath.Join(paths.Scratch, name),
	}
}

func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case r == ' ' || r == '\t' || r == '\n':
			return '_'
		}
		return r
	}, s)
}

// Add appends literal commands.
func (j *Job) Add(commands ...string) {
	j.Commands = append(j.Commands, commands...)
}

// AddParameterCombinations expands template over groups and appends the
// result in task-index order.
func (j *Job) AddParameterCombinations(template string, groups ...expand.Group) error {
	commands, err := expand.Expand(template, groups...)
	if err != nil {
		return err
	}
	j.Add(commands...)
	return nil
}

// TaskCount is the number of array tasks.
func (j *Job) TaskCount() int {
	return len(j.Commands)
}

// Command returns the command for a 1-based task index.
func (j *Job) Command(task int) (string, bool) {
	if task < 1 || task > len(j.Commands) {
		return "", false
	}
	return j.Commands[task-1], true
}

// Validate checks that the job can be submitted.
func (j *Job) Validate() error {
	if len(j.Commands) == 0 {
		return ErrEmptyCommandList
	}
	for i, c := range j.Commands {
		if strings.ContainsAny(c, "\r\n") {
			return fmt.Errorf("task %d: %w", i+1, ErrMultilineCommand)
		}
	}
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(j.LogDir) == "" || strings.TrimSpace(j.TmpDir) == "" {
		return fmt.Errorf("job directories are not set")
	}
	return nil
}

// Submitted reports whether the job carries a submit time.
func (j *Job) Submitted() bool {
	return j.SubmitTime != nil
}

// MarkSubmitted stamps the submit time once.
func (j *Job) MarkSubmitted(t time.Time) error {
	if j.SubmitTime != nil {
		return ErrAlreadySubmitted
	}
	ts := t.UTC().Truncate(time.Second)
	j.SubmitTime = &ts
	return nil
}

func (j *Job) TasksFile() string        { return filepath.Join(j.TmpDir, TasksFileName) }
func (j *Job) SubmissionScript() string { return filepath.Join(j.TmpDir, SubmissionScriptName) }
func (j *Job) RunnerScript() string     { return filepath.Join(j.TmpDir, RunnerScriptName) }
func (j *Job) LedgerPath() string       { return filepath.Join(j.TmpDir, LedgerFileName) }

// RerunFailed builds a new job with the same resources restricted to the
// commands at the given 1-based task indices, in ascending index order.
func RerunFailed(orig *Job, failed []int, paths Paths, now time.Time) (*Job, error) {
	if orig == nil {
		return nil, fmt.Errorf("original job is nil")
	}

	want := make(map[int]bool, len(failed))
	for _, task := range failed {
		want[task] = true
	}
	commands := make([]string, 0, len(want))
	for task := 1; task <= len(orig.Commands); task++ {
		if want[task] {
			commands = append(commands, orig.Commands[task-1])
		}
	}
	if len(commands) == 0 {
		return nil, ErrNoFailedTasks
	}

	base := orig.BaseName
	if base == "" {
		base = orig.Name
	}
	next := New(base+"_rerun", orig.Resources, paths, now)
	next.Commands = commands
	next.RerunOf = orig.Name
	return next, nil
}
