package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// StartedMarker is the raw state written right before a task's command runs.
const StartedMarker = "started"

// Kind is the decoded state of one task.
type Kind int

const (
	// NotStarted means the ledger has no row for the task.
	NotStarted Kind = iota
	// Started means the task is in flight.
	Started
	// Succeeded means the task exited 0.
	Succeeded
	// Failed means the task exited nonzero.
	Failed
)

func (k Kind) String() string {
	switch k {
	case NotStarted:
		return "Not yet started"
	case Started:
		return "Started"
	case Succeeded:
		return "Success"
	case Failed:
		return "Terminated with nonzero status"
	default:
		return "Unknown"
	}
}

// TaskStatus is the tagged state of a task. ExitCode is meaningful only for
// Succeeded and Failed.
type TaskStatus struct {
	Kind     Kind
	ExitCode int
}

// StatusStarted is the in-flight status.
func StatusStarted() TaskStatus {
	return TaskStatus{Kind: Started}
}

// StatusExited is the terminal status for an exit code.
func StatusExited(code int) TaskStatus {
	if code == 0 {
		return TaskStatus{Kind: Succeeded}
	}
	return TaskStatus{Kind: Failed, ExitCode: code}
}

// Terminal reports whether the status is a final exit code.
func (s TaskStatus) Terminal() bool {
	return s.Kind == Succeeded || s.Kind == Failed
}

// String is the human label, with the exit code for failures.
func (s TaskStatus) String() string {
	if s.Kind == Failed {
		return fmt.Sprintf("%s (%d)", s.Kind, s.ExitCode)
	}
	return s.Kind.String()
}

// Encode returns the raw ledger value. NotStarted has no encoding.
func (s TaskStatus) Encode() (string, error) {
	switch s.Kind {
	case Started:
		return StartedMarker, nil
	case Succeeded:
		return "0", nil
	case Failed:
		return strconv.Itoa(s.ExitCode), nil
	default:
		return "", fmt.Errorf("status %q cannot be written to the ledger", s.Kind)
	}
}

// Decode converts a raw ledger value into a TaskStatus.
//
// Values that are neither the started marker nor an integer decode as a
// failure with exit code -1 so they are never mistaken for success.
func Decode(raw string) TaskStatus {
	raw = strings.TrimSpace(raw)
	if raw == StartedMarker {
		return StatusStarted()
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return TaskStatus{Kind: Failed, ExitCode: -1}
	}
	return StatusExited(code)
}

// ParseState parses a CLI state argument ("started" or an exit code).
func ParseState(s string) (TaskStatus, error) {
	s = strings.TrimSpace(s)
	if s == StartedMarker {
		return StatusStarted(), nil
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("invalid state %q (expected %q or an exit code)", s, StartedMarker)
	}
	return StatusExited(code), nil
}
