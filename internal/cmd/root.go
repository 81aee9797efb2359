// Package cmd implements the psub command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/psub/internal/config"
	"github.com/3leaps/psub/internal/observability"
	"github.com/3leaps/psub/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// skipConfigAnnotation marks commands that run on task workers and must not
// depend on the submitting user's config.
const skipConfigAnnotation = "psub/skip-config"

var (
	configFile string
	rootDir    string
	scratchDir string
	logLevel   string
	logProfile string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "psub",
	Short: "Submit parameterised command lists as SGE array jobs",
	Long: `psub expands a command template over parameter groups and submits the
resulting commands as one Sun Grid Engine array job.

  psub 'echo {} -k {}' ::: a b ::: X Y
  psub -a commands.txt
  psub submit --job job.yaml

Running psub with a command and no subcommand is the same as 'psub submit'.
Task progress is recorded per job and shown by 'psub status'.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default <root>/config.yaml, or $PSUB_CONFIG)")
	pf.StringVar(&rootDir, "root", "", "Root directory for logs and history (default ~/.psub)")
	pf.StringVar(&scratchDir, "scratch", "", "Directory for per-job scripts and ledgers (default <root>/tmp)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logProfile, "log-profile", "", "Log format: console or structured")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if _, skip := cmd.Annotations[skipConfigAnnotation]; skip {
		return observability.InitCLILogger(observability.Options{Level: "warn"})
	}

	cfg, err := config.Load(cmd.Context(), flagOverrides())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.InitCLILogger(observability.Options{
		Level:      cfg.Logging.Level,
		Profile:    cfg.Logging.Profile,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	appConfig = cfg

	observability.CLILogger.Debug("Loaded configuration",
		zap.String("root", cfg.Paths.Root),
		zap.String("scratch", cfg.Paths.Scratch),
		zap.Bool("remote", cfg.Remote.Enabled()),
	)
	return nil
}

func flagOverrides() map[string]any {
	out := map[string]any{}
	paths := map[string]any{}
	logging := map[string]any{}
	if s := strings.TrimSpace(configFile); s != "" {
		out[config.ConfigFileKey] = s
	}
	if s := strings.TrimSpace(rootDir); s != "" {
		paths["root"] = s
	}
	if s := strings.TrimSpace(scratchDir); s != "" {
		paths["scratch"] = s
	}
	if s := strings.TrimSpace(logLevel); s != "" {
		logging["level"] = s
	}
	if s := strings.TrimSpace(logProfile); s != "" {
		logging["profile"] = s
	}
	if len(paths) > 0 {
		out["paths"] = paths
	}
	if len(logging) > 0 {
		out["logging"] = logging
	}
	return out
}

// Execute runs the command line. Arguments that do not name a subcommand are
// handed to submit.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	rootCmd.SetArgs(withDefaultCommand(os.Args[1:]))
	return rootCmd.ExecuteContext(ctx)
}

// withDefaultCommand prepends "submit" unless args already select a
// subcommand or only ask for help.
func withDefaultCommand(args []string) []string {
	if len(args) == 0 || onlyHelp(args) {
		return args
	}
	switch args[0] {
	case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return args
	}
	found, _, err := rootCmd.Find(args)
	if err == nil && found != rootCmd {
		return args
	}
	return append([]string{submitCmd.Name()}, args...)
}

func onlyHelp(args []string) bool {
	for _, a := range args {
		switch a {
		case "-h", "--help":
		default:
			return false
		}
	}
	return true
}

func mustConfig() (*config.Config, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return appConfig, nil
}
