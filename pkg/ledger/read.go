package ledger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Read returns a snapshot of the ledger at cfg.Path without ever failing.
//
// A ledger that does not exist yet (job not started) or cannot be read
// yields an empty map. The reader never creates or migrates the database.
func Read(ctx context.Context, cfg Config, logger *zap.Logger) map[int]Entry {
	if logger == nil {
		logger = zap.NewNop()
	}
	empty := map[int]Entry{}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return empty
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debug("Ledger not present", zap.String("path", path), zap.Error(err))
		return empty
	}

	// Readers must not change the journal mode of a live ledger.
	cfg.JournalMode = ""

	db, err := Open(ctx, cfg)
	if err != nil {
		logger.Debug("Ledger unreadable", zap.String("path", cfg.Path), zap.Error(err))
		return empty
	}
	l := &Ledger{db: db, cfg: cfg}
	defer func() { _ = l.Close() }()

	var entries map[int]Entry
	err = l.retry(ctx, func() error {
		var qerr error
		entries, qerr = l.Entries(ctx)
		return qerr
	})
	if err != nil {
		logger.Debug("Ledger query failed", zap.String("path", cfg.Path), zap.Error(err))
		return empty
	}
	return entries
}
