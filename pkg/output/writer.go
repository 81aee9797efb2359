package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/psub/pkg/status"
)

// JSONLWriter writes status records for one job. It remembers the previous
// snapshot so WriteReport emits only tasks that changed.
//
// JSONLWriter is safe for concurrent use.
type JSONLWriter struct {
	w   io.Writer
	job string
	now func() time.Time

	mu     sync.Mutex
	closed bool
	last   map[int]string
}

func NewJSONLWriter(w io.Writer, job string) *JSONLWriter {
	return &JSONLWriter{w: w, job: job, now: time.Now}
}

// WriteReport emits a transition record for each task whose state differs
// from the previous report, then a status record. The first report counts
// every task as coming from "Not yet started".
func (jw *JSONLWriter) WriteReport(ctx context.Context, r *status.Report) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	next := make(map[int]string, len(r.Tasks))
	for _, t := range r.Tasks {
		next[t.Task] = t.State
		from, ok := jw.last[t.Task]
		if !ok {
			from = status.LabelNotYetStarted
		}
		if from == t.State {
			continue
		}
		if err := jw.write(ctx, TypeTransition, TransitionRecord{
			Task:     t.Task,
			Command:  t.Command,
			From:     from,
			To:       t.State,
			ExitCode: t.ExitCode,
		}); err != nil {
			return err
		}
	}
	jw.last = next

	return jw.write(ctx, TypeStatus, StatusRecord{Label: r.Summary.Label, Counts: r.Summary.Counts})
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, msg string) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	return jw.write(ctx, TypeError, ErrorRecord{Message: msg})
}

// Close marks the writer closed. The underlying writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

// write emits one line. Callers hold mu.
func (jw *JSONLWriter) write(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	line, err := json.Marshal(Record{
		Type: recordType,
		TS:   jw.now().UTC(),
		Job:  jw.job,
		Data: payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
