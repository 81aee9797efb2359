package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/3leaps/psub/internal/observability"
	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/output"
	"github.com/3leaps/psub/pkg/status"
)

var statusCmd = &cobra.Command{
	Use:   "status [job]",
	Short: "Show the status of a job (default: the latest)",
	Long: `Show the aggregate status of a submitted job.

The label is one of:

  Finished             every task exited 0
  Errors [X%]          at least one task exited nonzero
  Not yet started      no task has started
  Running [Y%]         tasks are in progress

Percentages are of the job's total task count. The job is found by exact
name or id, or by a unique prefix of either.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("tasks", false, "Show every task")
	statusCmd.Flags().Bool("json", false, "Output as JSON (JSON lines with --watch)")
	statusCmd.Flags().Bool("watch", false, "Refresh until the job finishes")
	statusCmd.Flags().Duration("interval", 0, "Refresh interval for --watch (default status.watch_interval)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	showTasks, _ := cmd.Flags().GetBool("tasks")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = cfg.Status.WatchInterval
	}

	j, err := resolveJob(historyStore(cfg), args)
	if err != nil {
		return err
	}
	monitor := status.NewMonitor(ledgerConfig(cfg), observability.CLILogger)
	out := cmd.OutOrStdout()

	render := func(r *status.Report) error {
		if jsonOutput {
			return writeReportJSON(out, r, showTasks)
		}
		return writeReport(out, r, showTasks)
	}

	if !watch {
		return render(monitor.Report(cmd.Context(), j))
	}
	if jsonOutput {
		// Watching emits JSONL: task transitions followed by a status line.
		w := output.NewJSONLWriter(out, j.Name)
		defer func() { _ = w.Close() }()
		render = func(r *status.Report) error { return w.WriteReport(cmd.Context(), r) }
	}
	err = watchReport(cmd.Context(), monitor, j, interval, render)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchReport renders the job's report at most once per interval until every
// task has exited, successfully or not, or ctx ends.
func watchReport(ctx context.Context, monitor *status.Monitor, j *job.Job, interval time.Duration, render func(*status.Report) error) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		r := monitor.Report(ctx, j)
		if err := render(r); err != nil {
			return err
		}
		if r.Summary.Counts.Done() {
			return nil
		}
	}
}

func writeReport(w io.Writer, r *status.Report, showTasks bool) error {
	c := r.Summary.Counts
	_, _ = fmt.Fprintf(w, "%s: %s\n", r.Job, r.Label())
	_, _ = fmt.Fprintf(w, "  tasks=%d succeeded=%d failed=%d running=%d pending=%d\n",
		c.Total, c.Succeeded, c.Failed, c.Started, c.NotStarted)
	if !showTasks {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TASK\tSTATE\tCOMMAND")
	for _, t := range r.Tasks {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", t.Task, t.State, t.Command)
	}
	return tw.Flush()
}

func writeReportJSON(w io.Writer, r *status.Report, showTasks bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if showTasks {
		return enc.Encode(r)
	}
	return enc.Encode(struct {
		Job     string         `json:"job"`
		Summary status.Summary `json:"summary"`
	}{Job: r.Job, Summary: r.Summary})
}
