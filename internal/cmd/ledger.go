package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/psub/internal/observability"
	"github.com/3leaps/psub/pkg/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:    "ledger",
	Short:  "Task status ledger operations used by array tasks",
	Hidden: true,
}

var ledgerMarkCmd = &cobra.Command{
	Use:   "mark",
	Short: "Record a task as started or exited",
	Long: `Record one task's state in a job ledger. The generated runner calls this
before and after each command:

  psub ledger mark --db exit_status.sqlite --task 3 --state started
  psub ledger mark --db exit_status.sqlite --task 3 --state 0`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE:        runLedgerMark,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerMarkCmd)

	ledgerMarkCmd.Flags().String("db", "", "Path to the job ledger (required)")
	ledgerMarkCmd.Flags().Int("task", 0, "1-based task index (required)")
	ledgerMarkCmd.Flags().String("state", "", `"started" or an exit code (required)`)
	ledgerMarkCmd.Flags().Duration("busy-timeout", ledger.DefaultBusyTimeout, "Wait this long for competing writers")
	ledgerMarkCmd.Flags().String("journal-mode", "", "SQLite journal mode (empty keeps the ledger's mode)")
	_ = ledgerMarkCmd.MarkFlagRequired("db")
	_ = ledgerMarkCmd.MarkFlagRequired("task")
	_ = ledgerMarkCmd.MarkFlagRequired("state")
}

func runLedgerMark(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("db")
	task, _ := cmd.Flags().GetInt("task")
	rawState, _ := cmd.Flags().GetString("state")
	busy, _ := cmd.Flags().GetDuration("busy-timeout")
	journal, _ := cmd.Flags().GetString("journal-mode")

	path = strings.TrimSpace(path)
	if path == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --db", fmt.Errorf("ledger path is required"))
	}
	if task < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --task", fmt.Errorf("task must be >= 1"))
	}
	st, err := ledger.ParseState(rawState)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --state", err)
	}

	ctx := cmd.Context()
	l, err := ledger.OpenLedger(ctx, ledger.Config{Path: path, JournalMode: journal, BusyTimeout: busy})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open ledger", err)
	}
	defer func() { _ = l.Close() }()

	err = l.Mark(ctx, task, st, time.Now())
	if errors.Is(err, ledger.ErrTerminalRecorded) {
		observability.CLILogger.Warn("Ignoring late ledger write",
			zap.String("db", path),
			zap.Int("task", task),
			zap.String("state", rawState),
		)
		return nil
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to record task state", err)
	}
	return nil
}
