package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/jobs"
	"github.com/stefanos11892/GVD-Engine/internal/monitoring"
	"github.com/stefanos11892/GVD-Engine/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job polling API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mgr := jobs.NewManager(env.Orchestrator, env.jobOptions()...)
		mgr.Start()

		if cfg.Monitoring.Enabled && env.Store != nil {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		srv := server.New(mgr, serverOptions(env)...)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		serveErr := srv.ListenAndServe(ctx, port)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSecs)*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("job manager shutdown", zap.Error(err))
		}
		return serveErr
	},
}

// serverOptions wires the environment's reports, health check and
// registry into the API. The store is consulted before the report dir.
func serverOptions(env *auditEnv) []server.Option {
	opts := server.FromConfig(cfg.Server, cfg.Jobs)
	if env.Registry != nil {
		opts = append(opts, server.WithGatherer(env.Registry))
	}
	if env.Store != nil {
		opts = append(opts, server.WithReports(env.Store), server.WithPinger(env.Store))
	}
	if env.Reports != nil {
		opts = append(opts, server.WithReports(env.Reports))
	}
	return opts
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
