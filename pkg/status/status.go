// Package status reduces a job's ledger entries to per-task and job-level
// status labels.
package status

import (
	"fmt"
	"math"

	"github.com/3leaps/psub/pkg/ledger"
)

// Job-level labels.
const (
	LabelFinished      = "Finished"
	LabelNotYetStarted = "Not yet started"
	labelErrors        = "Errors"
	labelRunning       = "Running"
)

// Counts tallies tasks by kind.
type Counts struct {
	Total      int `json:"total"`
	NotStarted int `json:"not_started"`
	Started    int `json:"started"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
}

// Summary is the aggregate status of a job.
type Summary struct {
	Label  string `json:"label"`
	Counts Counts `json:"counts"`
}

// Classify returns the status of every task index 1..n. Entries outside that
// range are ignored; missing entries are NotStarted.
func Classify(n int, entries map[int]ledger.Entry) []ledger.TaskStatus {
	out := make([]ledger.TaskStatus, n)
	for task := 1; task <= n; task++ {
		if e, ok := entries[task]; ok {
			out[task-1] = e.Status
		}
	}
	return out
}

// Tally counts statuses by kind.
func Tally(statuses []ledger.TaskStatus) Counts {
	c := Counts{Total: len(statuses)}
	for _, s := range statuses {
		switch s.Kind {
		case ledger.Started:
			c.Started++
		case ledger.Succeeded:
			c.Succeeded++
		case ledger.Failed:
			c.Failed++
		default:
			c.NotStarted++
		}
	}
	return c
}

// Done reports whether every task has a terminal status.
func (c Counts) Done() bool {
	return c.Started == 0 && c.NotStarted == 0
}

// Label applies the job-level precedence: Finished, then Errors, then
// Not yet started, then Running. Percentages are over all tasks of the job.
func (c Counts) Label() string {
	switch {
	case c.Total == 0:
		return LabelNotYetStarted
	case c.Succeeded == c.Total:
		return LabelFinished
	case c.Failed > 0:
		return fmt.Sprintf("%s [%d%%]", labelErrors, percent(c.Failed, c.Total))
	case c.NotStarted == c.Total:
		return LabelNotYetStarted
	default:
		return fmt.Sprintf("%s [%d%%]", labelRunning, percent(c.Succeeded, c.Total))
	}
}

// Aggregate classifies n tasks against entries and returns the summary.
func Aggregate(n int, entries map[int]ledger.Entry) Summary {
	counts := Tally(Classify(n, entries))
	return Summary{Label: counts.Label(), Counts: counts}
}

// FailedTasks returns the 1-based indices of tasks that exited nonzero.
func FailedTasks(n int, entries map[int]ledger.Entry) []int {
	var out []int
	for i, s := range Classify(n, entries) {
		if s.Kind == ledger.Failed {
			out = append(out, i+1)
		}
	}
	return out
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
