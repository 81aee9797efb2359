package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/psub/pkg/history"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete old jobs with their logs and scripts",
	Long: `Delete history records, log directories and tmp directories of jobs
submitted longer ago than --max-age. With --keep, also delete all but the N
most recent jobs.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)

	gcCmd.Flags().Duration("max-age", 0, "Delete jobs older than this duration (default history.max_age)")
	gcCmd.Flags().Int("keep", 0, "Keep only the N most recent jobs (0 = no count limit)")
	gcCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	gcCmd.Flags().Bool("json", false, "Output as JSON")
}

type gcOutput struct {
	Deleted     int      `json:"deleted"`
	WouldDelete int      `json:"would_delete"`
	DryRun      bool     `json:"dry_run"`
	MaxAge      string   `json:"max_age"`
	Keep        int      `json:"keep,omitempty"`
	Jobs        []string `json:"jobs"`
}

func runGC(cmd *cobra.Command, _ []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	maxAge, _ := cmd.Flags().GetDuration("max-age")
	if !cmd.Flags().Changed("max-age") {
		maxAge = cfg.History.MaxAge
	}
	if maxAge <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", fmt.Errorf("--max-age must be > 0"))
	}
	keep, _ := cmd.Flags().GetInt("keep")
	if keep < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --keep", fmt.Errorf("--keep must be >= 0"))
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store := historyStore(cfg)
	res, err := store.GC(maxAge, time.Now(), dryRun)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Garbage collection failed", err)
	}
	if keep > 0 {
		trimmed, err := store.Keep(keep, dryRun)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Garbage collection failed", err)
		}
		mergeGC(res, trimmed)
	}

	out := gcOutput{
		Deleted:     res.Deleted,
		WouldDelete: res.WouldDelete,
		DryRun:      dryRun,
		MaxAge:      maxAge.String(),
		Keep:        keep,
		Jobs:        res.Jobs,
	}
	if out.Jobs == nil {
		out.Jobs = []string{}
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if dryRun {
		for _, name := range out.Jobs {
			_, _ = fmt.Fprintf(w, "would delete %s\n", name)
		}
		_, _ = fmt.Fprintf(w, "would_delete=%d\n", out.WouldDelete)
		return nil
	}
	_, _ = fmt.Fprintf(w, "deleted=%d\n", out.Deleted)
	return nil
}

// mergeGC folds a Keep result into a GC result. In a dry run Keep may name
// jobs GC already counted.
func mergeGC(into, from *history.GCResult) {
	seen := make(map[string]bool, len(into.Jobs))
	for _, name := range into.Jobs {
		seen[name] = true
	}
	for _, name := range from.Jobs {
		if seen[name] {
			continue
		}
		seen[name] = true
		into.Jobs = append(into.Jobs, name)
		if from.DryRun {
			into.WouldDelete++
		} else {
			into.Deleted++
		}
	}
}
