package status

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/ledger"
)

// TaskReport is the status of one command.
type TaskReport struct {
	Task    int    `json:"task"`
	Command string `json:"command"`
	State   string `json:"state"`
	// ExitCode is set for terminal states.
	ExitCode *int `json:"exit_code,omitempty"`

	status ledger.TaskStatus
}

// Status returns the decoded task status.
func (t TaskReport) Status() ledger.TaskStatus {
	return t.status
}

// Report is a point-in-time view of a job's progress.
type Report struct {
	Job     string       `json:"job"`
	Summary Summary      `json:"summary"`
	Tasks   []TaskReport `json:"tasks"`
}

// Label is the job-level status label.
func (r *Report) Label() string {
	return r.Summary.Label
}

// ByCommand maps each command to its state label. Duplicate commands keep
// the label of the highest task index; use Tasks for the exact mapping.
func (r *Report) ByCommand() map[string]string {
	out := make(map[string]string, len(r.Tasks))
	for _, t := range r.Tasks {
		out[t.Command] = t.State
	}
	return out
}

// FailedTasks returns the task indices that exited nonzero.
func (r *Report) FailedTasks() []int {
	var out []int
	for _, t := range r.Tasks {
		if t.status.Kind == ledger.Failed {
			out = append(out, t.Task)
		}
	}
	return out
}

// Build derives a report from a job and its ledger entries.
func Build(j *job.Job, entries map[int]ledger.Entry) *Report {
	statuses := Classify(len(j.Commands), entries)
	tasks := make([]TaskReport, len(statuses))
	for i, s := range statuses {
		tr := TaskReport{
			Task:    i + 1,
			Command: j.Commands[i],
			State:   s.String(),
			status:  s,
		}
		if s.Terminal() {
			code := s.ExitCode
			tr.ExitCode = &code
		}
		tasks[i] = tr
	}

	counts := Tally(statuses)
	return &Report{
		Job:     j.Name,
		Summary: Summary{Label: counts.Label(), Counts: counts},
		Tasks:   tasks,
	}
}

// Monitor reads ledgers for jobs. Reads never fail: an unreadable ledger
// reports every task as not yet started.
type Monitor struct {
	cfg    ledger.Config
	logger *zap.Logger
}

// NewMonitor returns a Monitor; cfg supplies ledger options and its Path is
// replaced per job.
func NewMonitor(cfg ledger.Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg, logger: logger}
}

// Report reads the job's ledger and builds its report.
func (m *Monitor) Report(ctx context.Context, j *job.Job) *Report {
	cfg := m.cfg
	cfg.Path = j.LedgerPath()
	return Build(j, ledger.Read(ctx, cfg, m.logger.With(zap.String("job", j.Name))))
}

// ExitCodes maps each command to its state label.
func (m *Monitor) ExitCodes(ctx context.Context, j *job.Job) map[string]string {
	return m.Report(ctx, j).ByCommand()
}

// Status returns the job-level label.
func (m *Monitor) Status(ctx context.Context, j *job.Job) string {
	return m.Report(ctx, j).Label()
}
