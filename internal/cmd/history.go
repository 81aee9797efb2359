package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/psub/internal/observability"
	"github.com/3leaps/psub/pkg/status"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List submitted jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Bool("json", false, "Output as JSON")
	historyCmd.Flags().Int("limit", 20, "Show at most N jobs (0 = all)")
	historyCmd.Flags().Bool("status", false, "Read each job's ledger and show its status")
}

type historyRow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tasks  int    `json:"tasks"`
	Submit string `json:"submit_time"`
	First  string `json:"first_command,omitempty"`
	Status string `json:"status,omitempty"`
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")
	withStatus, _ := cmd.Flags().GetBool("status")

	jobs, err := historyStore(cfg).List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read history", err)
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 && !jsonOutput {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	monitor := status.NewMonitor(ledgerConfig(cfg), observability.CLILogger)
	rows := make([]historyRow, 0, len(jobs))
	for _, j := range jobs {
		row := historyRow{
			ID:     j.ID,
			Name:   j.Name,
			Tasks:  j.TaskCount(),
			Submit: formatOptionalTime(j.SubmitTime),
		}
		if len(j.Commands) > 0 {
			row.First = j.Commands[0]
		}
		if withStatus {
			row.Status = monitor.Status(cmd.Context(), j)
		}
		rows = append(rows, row)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if withStatus {
		_, _ = fmt.Fprintln(w, "SUBMITTED\tNAME\tTASKS\tSTATUS\tFIRST COMMAND")
	} else {
		_, _ = fmt.Fprintln(w, "SUBMITTED\tNAME\tTASKS\tFIRST COMMAND")
	}
	for _, r := range rows {
		if withStatus {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Submit, r.Name, r.Tasks, r.Status, r.First)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Submit, r.Name, r.Tasks, r.First)
	}
	return nil
}
