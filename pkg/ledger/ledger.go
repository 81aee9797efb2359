// Package ledger is the durable per-task status store of an array job.
//
// Each task worker writes two rows for the task index it owns: a "started"
// marker just before the command runs and the exit code right after. Workers
// never coordinate with each other; SQLite serializes the single-row upserts.
// A monitor process reads the whole table at any time, including mid-run.
//
// Once a terminal exit code is recorded for a task index it is never
// overwritten.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrTerminalRecorded is returned when a write targets a task that already
// has a terminal exit code.
var ErrTerminalRecorded = errors.New("task already has a terminal status")

// Entry is one decoded ledger row.
type Entry struct {
	Task      int
	Status    TaskStatus
	Raw       string
	UpdatedAt time.Time
}

// Ledger is an open handle on one job's status database.
type Ledger struct {
	db  *sql.DB
	cfg Config
}

// OpenLedger opens the ledger and ensures its schema exists.
func OpenLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	l := &Ledger{db: db, cfg: cfg}
	if err := l.retry(ctx, func() error { return Migrate(ctx, db) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Mark records status for a 1-based task index.
//
// Started may be rewritten (a requeued task starts again); a terminal status
// is final and later writes return ErrTerminalRecorded.
func (l *Ledger) Mark(ctx context.Context, task int, status TaskStatus, at time.Time) error {
	if task < 1 {
		return fmt.Errorf("task index must be >= 1, got %d", task)
	}
	raw, err := status.Encode()
	if err != nil {
		return err
	}

	var affected int64
	err = l.retry(ctx, func() error {
		res, err := l.db.ExecContext(ctx,
			`INSERT INTO task_status (task_index, state, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT(task_index) DO UPDATE SET
			   state = excluded.state,
			   updated_at = excluded.updated_at
			 WHERE task_status.state = ?`,
			task, raw, at.Unix(), StartedMarker)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mark task %d: %w", task, err)
	}
	if affected == 0 {
		return ErrTerminalRecorded
	}
	return nil
}

// MarkStarted records the in-flight marker.
func (l *Ledger) MarkStarted(ctx context.Context, task int, at time.Time) error {
	return l.Mark(ctx, task, StatusStarted(), at)
}

// MarkExit records the terminal exit code.
func (l *Ledger) MarkExit(ctx context.Context, task int, code int, at time.Time) error {
	return l.Mark(ctx, task, StatusExited(code), at)
}

// Entries returns every recorded task keyed by task index.
func (l *Ledger) Entries(ctx context.Context) (map[int]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT task_index, state, updated_at FROM task_status`)
	if err != nil {
		return nil, fmt.Errorf("query task status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]Entry)
	for rows.Next() {
		var (
			task    int
			raw     string
			updated int64
		)
		if err := rows.Scan(&task, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan task status: %w", err)
		}
		out[task] = Entry{
			Task:      task,
			Status:    Decode(raw),
			Raw:       raw,
			UpdatedAt: time.Unix(updated, 0).UTC(),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task status: %w", err)
	}
	return out, nil
}

// retry re-runs fn while SQLite reports lock contention, pacing attempts
// until the busy timeout elapses.
func (l *Ledger) retry(ctx context.Context, fn func() error) error {
	timeout := l.cfg.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	for {
		err := fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if waitErr := limiter.Wait(ctx); waitErr != nil {
			return err
		}
	}
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}
