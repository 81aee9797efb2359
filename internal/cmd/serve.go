package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/psub/internal/observability"
	"github.com/3leaps/psub/internal/server"
	"github.com/3leaps/psub/internal/server/handlers"
	"github.com/3leaps/psub/pkg/status"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve job history and status over HTTP",
	Long: `Start a read-only HTTP server exposing:

  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /jobs                 submitted jobs, newest first, with status
  GET /jobs/{job}           one job and its status
  GET /jobs/{job}/tasks     per-task states`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host (default server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (default server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	host := cfg.Server.Host
	port := cfg.Server.Port
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}

	store := historyStore(cfg)
	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("history", server.HistoryChecker(store))

	srv := server.New(host, port,
		server.WithJobs(store, status.NewMonitor(ledgerConfig(cfg), observability.CLILogger)),
		server.WithLogger(observability.CLILogger),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.CLILogger.Info("Starting status server",
		zap.String("addr", srv.Addr()),
		zap.String("history", store.RootDir()),
	)
	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Status server failed", err)
	}
	return nil
}
