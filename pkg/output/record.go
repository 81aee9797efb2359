// Package output writes job status as newline-delimited JSON.
//
// Each line is an envelope naming its record type, so a consumer tailing
// `psub status --watch --json` can parse lines independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/psub/pkg/status"
)

// Record types. They follow psub.<type>.v<version>.
const (
	TypeStatus     = "psub.status.v1"
	TypeTransition = "psub.transition.v1"
	TypeError      = "psub.error.v1"
)

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("output writer is closed")

// Record is the envelope for every line.
type Record struct {
	Type string          `json:"type"`
	TS   time.Time       `json:"ts"`
	Job  string          `json:"job"`
	Data json.RawMessage `json:"data"`
}

// StatusRecord is one aggregate snapshot.
type StatusRecord struct {
	Label  string        `json:"label"`
	Counts status.Counts `json:"counts"`
}

// TransitionRecord reports a task whose state changed since the previous
// snapshot.
type TransitionRecord struct {
	Task     int    `json:"task"`
	Command  string `json:"command"`
	From     string `json:"from"`
	To       string `json:"to"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// ErrorRecord reports a failure while watching.
type ErrorRecord struct {
	Message string `json:"message"`
}

// WriteError wraps failures to marshal or write a record.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return "output " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }
