package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBusyTimeout bounds how long a writer waits on a locked ledger.
const DefaultBusyTimeout = 30 * time.Second

type Config struct {
	// Path is a local filesystem path to the ledger database, converted into
	// a file:<path> DSN.
	Path string

	// JournalMode is applied to local databases (delete, truncate, persist, wal).
	// Empty keeps the SQLite default. WAL needs shared memory and is unsafe when
	// task workers on different hosts share the ledger over a network filesystem.
	JournalMode string

	// BusyTimeout is how long a statement waits for a competing writer.
	BusyTimeout time.Duration
}

var journalModes = map[string]bool{
	"delete":   true,
	"truncate": true,
	"persist":  true,
	"wal":      true,
	"memory":   true,
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("ledger path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}

	return "file:" + filepath.Clean(path), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid ledger path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func configureLocalSQLite(ctx context.Context, db *sql.DB, dsn string, cfg Config) error {
	if db == nil {
		return errors.New("ledger connection is nil")
	}
	if dsn == ":memory:" {
		return nil
	}
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	// One connection per process keeps the PRAGMAs below in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", timeout.Milliseconds())).Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	if mode := strings.ToLower(strings.TrimSpace(cfg.JournalMode)); mode != "" {
		if !journalModes[mode] {
			return fmt.Errorf("unsupported journal mode %q", cfg.JournalMode)
		}
		var journalMode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode="+mode).Scan(&journalMode); err != nil {
			return fmt.Errorf("set journal mode: %w", err)
		}
	}

	return nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- job directories use 0755 so scheduler workers can reach them
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	return nil
}
