package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/psub/pkg/joblogs"
)

var logsCmd = &cobra.Command{
	Use:   "logs [job]",
	Short: "List or show a job's scheduler logs",
	Long: `Without --task, list the job's log files. With --task, print the log of
the batch that ran that task.

Logs are written per batch and named after the batch's first task, so with
a batch size of 5 task 7 is in the log for task 6.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().Int("task", 0, "Show the log for this task index")
	logsCmd.Flags().Int("tail", 0, "Show last N lines (0 = whole file)")
	logsCmd.Flags().Bool("follow", false, "Follow log output")
	logsCmd.Flags().String("host", "", "Only logs from hosts matching this glob")
	logsCmd.Flags().Duration("poll", 500*time.Millisecond, "Poll interval for --follow")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	task, _ := cmd.Flags().GetInt("task")
	tailN, _ := cmd.Flags().GetInt("tail")
	follow, _ := cmd.Flags().GetBool("follow")
	host, _ := cmd.Flags().GetString("host")
	poll, _ := cmd.Flags().GetDuration("poll")

	j, err := resolveJob(historyStore(cfg), args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if task == 0 {
		files, err := joblogs.List(j.LogDir, host)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to list logs", err)
		}
		if len(files) == 0 {
			_, _ = fmt.Fprintf(out, "No logs yet in %s\n", j.LogDir)
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TASK\tHOST\tSIZE\tPATH")
		for _, f := range files {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", f.Task, f.Host, f.Size, f.Path)
		}
		return w.Flush()
	}

	if task < 1 || task > j.TaskCount() {
		return exitError(foundry.ExitInvalidArgument, "Invalid --task", fmt.Errorf("task must be between 1 and %d", j.TaskCount()))
	}
	files, err := joblogs.ForTask(j.LogDir, task, j.Resources.BatchSize)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list logs", err)
	}
	if len(files) == 0 {
		return exitError(foundry.ExitFileNotFound, "No log yet", fmt.Errorf("task %d has no log in %s", task, j.LogDir))
	}

	if follow {
		// A rescheduled batch leaves one log per host; follow the newest.
		err := joblogs.Follow(cmd.Context(), out, files[len(files)-1].Path, poll)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	for _, f := range files {
		if len(files) > 1 {
			_, _ = fmt.Fprintf(out, "==> %s <==\n", f.Path)
		}
		if err := joblogs.Print(out, f.Path, tailN); err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read log", err)
		}
	}
	return nil
}
