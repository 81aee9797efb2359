package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/psub/internal/observability"
	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/status"
)

var rerunCmd = &cobra.Command{
	Use:   "rerun [job]",
	Short: "Submit the failed tasks of a job as a new job",
	Long: `Build a new job from the commands of a previous job whose tasks exited
with a nonzero status and submit it with the same resources.

The new job is named <base>_rerun and records the job it came from. Tasks
that never started or are still running are not included.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRerun,
}

func init() {
	rootCmd.AddCommand(rerunCmd)
	addSubmitFlags(rerunCmd)
}

func runRerun(cmd *cobra.Command, args []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}

	orig, err := resolveJob(historyStore(cfg), args)
	if err != nil {
		return err
	}

	monitor := status.NewMonitor(ledgerConfig(cfg), observability.CLILogger)
	failed := monitor.Report(cmd.Context(), orig).FailedTasks()

	next, err := job.RerunFailed(orig, failed, cfg.JobPaths(), time.Now())
	if errors.Is(err, job.ErrNoFailedTasks) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s has no failed tasks\n", orig.Name)
		return nil
	}
	if err != nil {
		return exitError(foundry.ExitFailure, "Failed to build rerun", err)
	}

	observability.CLILogger.Info("Rerunning failed tasks",
		zap.String("job", orig.Name),
		zap.Ints("tasks", failed),
		zap.String("rerun", next.Name),
	)
	return submitJob(cmd, cfg, next)
}
