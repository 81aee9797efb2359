package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/psub/internal/config"
	"github.com/3leaps/psub/internal/observability"
	"github.com/3leaps/psub/pkg/expand"
	"github.com/3leaps/psub/pkg/history"
	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/ledger"
	"github.com/3leaps/psub/pkg/manifest"
	"github.com/3leaps/psub/pkg/scheduler"
	"github.com/3leaps/psub/pkg/scripts"
	"github.com/3leaps/psub/pkg/submit"
)

var submitCmd = &cobra.Command{
	Use:   "submit [flags] <command template> [::: values...] [:::: file...]",
	Short: "Expand a command template and submit it as an array job",
	Long: `Expand a command template over parameter groups and submit one array
task per resulting command.

Each {} in the template takes the next group's value, and commands are the
Cartesian product of the groups with the last group varying fastest:

  psub 'echo {} -k {}' ::: a b ::: X Y
  # echo a -k X, echo a -k Y, echo b -k X, echo b -k Y

':::' starts a literal group split on whitespace and '::::' a group read
from a file, one value per line. With -a, the argument is a file whose
lines are the commands. With --job, the command list comes from a YAML or
JSON manifest.

Flags must come before the command; everything after the first argument is
part of the template.`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	addJobFlags(submitCmd)
	addSubmitFlags(submitCmd)
}

// addJobFlags registers the flags buildJob reads.
func addJobFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.SetInterspersed(false)
	f.StringP("name", "n", "", "Job name (a timestamp is appended)")
	f.BoolP("file", "a", false, "Treat the argument as a file with one command per line")
	f.String("job", "", "Path to a job manifest (YAML or JSON)")
	f.String("arch", "", "CPU architecture filter, e.g. intel*")
	f.String("mem", "", "Memory per core, e.g. 4G")
	f.String("time", "", "Wall time, e.g. 12:00:00")
	f.Bool("highp", true, "Request the highp queue")
	f.IntP("cores", "j", 0, "Cores per task")
	f.IntP("batch-size", "b", 0, "Commands run sequentially per array task")
}

// flagResources collects the resource flags the user set explicitly.
func flagResources(cmd *cobra.Command) manifest.ResourcesConfig {
	var rc manifest.ResourcesConfig
	f := cmd.Flags()
	if f.Changed("arch") {
		arch, _ := f.GetString("arch")
		rc.Arch = &arch
	}
	if f.Changed("mem") {
		rc.Memory, _ = f.GetString("mem")
	}
	if f.Changed("time") {
		rc.Time, _ = f.GetString("time")
	}
	if f.Changed("highp") {
		highp, _ := f.GetBool("highp")
		rc.HighP = &highp
	}
	rc.Cores, _ = f.GetInt("cores")
	rc.BatchSize, _ = f.GetInt("batch-size")
	return rc
}

// buildJob assembles the unsubmitted job from a manifest or the command line.
// Flags win over the manifest, which wins over configuration.
func buildJob(cmd *cobra.Command, cfg *config.Config, args []string, now time.Time) (*job.Job, error) {
	name, _ := cmd.Flags().GetString("name")
	manifestPath, _ := cmd.Flags().GetString("job")
	fileMode, _ := cmd.Flags().GetBool("file")
	overrides := flagResources(cmd)

	if strings.TrimSpace(manifestPath) != "" {
		if len(args) > 0 {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("--job cannot be combined with a command"))
		}
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		j, err := m.Job(name, cfg.Resources, cfg.JobPaths(), now)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		j.Resources = overrides.Apply(j.Resources)
		return j, nil
	}

	if len(args) == 0 {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("a command template, -a <file> or --job <manifest> is required"))
	}
	line := strings.Join(args, " ")
	if fileMode {
		if len(args) != 1 {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("-a takes exactly one commands file"))
		}
		line = expand.Placeholder + " " + expand.FileSeparator + " " + args[0]
	}

	template, groups, err := expand.ParseCommandLine(line)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid command", err)
	}
	j := job.New(name, overrides.Apply(cfg.Resources), cfg.JobPaths(), now)
	if err := j.AddParameterCombinations(template, groups...); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid command", err)
	}
	return j, nil
}

func newScheduler(cmd *cobra.Command, cfg *config.Config) scheduler.Scheduler {
	host, _ := cmd.Flags().GetString("remote")
	host = strings.TrimSpace(host)
	if host == "" {
		host = cfg.Remote.Host
	}
	if host == "" {
		return scheduler.NewLocal(observability.CLILogger)
	}
	r := scheduler.NewRemote(host, cfg.Remote.SSHBinary, observability.CLILogger)
	r.Options = cfg.Remote.SSHOptions
	return r
}

func runnerBinary(cfg *config.Config) (string, error) {
	if bin := strings.TrimSpace(cfg.Runner.Binary); bin != "" {
		return bin, nil
	}
	bin, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve psub executable: %w (set runner.binary)", err)
	}
	return bin, nil
}

func ledgerConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		JournalMode: cfg.Ledger.JournalMode,
		BusyTimeout: cfg.Ledger.BusyTimeout,
	}
}

func historyStore(cfg *config.Config) *history.Store {
	return history.NewStore(cfg.HistoryDir(), observability.CLILogger)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	j, err := buildJob(cmd, cfg, args, time.Now())
	if err != nil {
		return err
	}
	return submitJob(cmd, cfg, j)
}

// submitJob hands j to the Submitter using the command's --yes, --dry-run,
// --json and --remote flags.
func submitJob(cmd *cobra.Command, cfg *config.Config, j *job.Job) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	yes, _ := cmd.Flags().GetBool("yes")

	bin, err := runnerBinary(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid runner configuration", err)
	}

	s := &submit.Submitter{
		Scheduler: newScheduler(cmd, cfg),
		History:   historyStore(cfg),
		Scripts: scripts.Options{
			Binary:   bin,
			Setup:    cfg.Runner.Setup,
			Teardown: cfg.Runner.Teardown,
		},
		Ledger:       ledgerConfig(cfg),
		Confirmer:    submit.PromptConfirmer{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()},
		HistoryLimit: cfg.History.Limit,
		Logger:       observability.CLILogger,
	}
	if jsonOutput {
		// Keep stdout parseable; the summary goes to stderr.
		s.Out = cmd.ErrOrStderr()
		if !dryRun && !yes {
			return exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("--json requires --yes or --dry-run"))
		}
	} else {
		s.Out = cmd.OutOrStdout()
	}

	res, err := s.Submit(cmd.Context(), j, submit.Options{DryRun: dryRun, Yes: yes})
	if err != nil {
		return submitExitError(err)
	}

	observability.CLILogger.Info("Submission finished",
		zap.String("job", j.Name),
		zap.Bool("submitted", res.Submitted),
		zap.Bool("dry_run", res.DryRun),
	)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out := cmd.OutOrStdout()
	if res.DryRun {
		_, _ = fmt.Fprintf(out, "Dry run: scripts written to %s\n", j.TmpDir)
		return nil
	}
	if o := strings.TrimSpace(res.Output); o != "" {
		_, _ = fmt.Fprintln(out, o)
	}
	_, _ = fmt.Fprintf(out, "Submitted %s (%d tasks)\n", j.Name, j.TaskCount())
	return nil
}

// addSubmitFlags registers the flags submitJob reads.
func addSubmitFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolP("yes", "y", false, "Submit without asking for confirmation")
	f.Bool("dry-run", false, "Write the scripts and show the job without submitting")
	f.String("remote", "", "Relay the submission to this host over ssh")
	f.Bool("json", false, "Output the result as JSON")
}

func submitExitError(err error) error {
	var transport *scheduler.TransportError
	switch {
	case errors.Is(err, submit.ErrDeclined):
		return exitError(ExitDeclined, "Submission cancelled", nil)
	case errors.Is(err, submit.ErrJobExists):
		return exitError(foundry.ExitInvalidArgument, "Job name already in use; retry or pick another --name", err)
	case errors.As(err, &transport):
		return exitError(foundry.ExitExternalServiceUnavailable, "Scheduler rejected the submission", err)
	case expand.IsTemplateArity(err),
		errors.Is(err, job.ErrEmptyCommandList),
		errors.Is(err, job.ErrMultilineCommand),
		errors.Is(err, job.ErrAlreadySubmitted):
		return exitError(foundry.ExitInvalidArgument, "Invalid job", err)
	default:
		return exitError(foundry.ExitFailure, "Submission failed", err)
	}
}
