package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"statfiler/internal/health"
	"statfiler/internal/logging"
	"statfiler/internal/server"
)

// serveCmd runs the HTTP trigger surface with the scheduled health check.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the filing API, metrics and scheduled health checks",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logs)
	if err != nil {
		return err
	}
	defer a.Close()

	stopWatch, err := a.watchSelectors(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	sched := health.NewScheduler(a.monitor, cfg.Health.GetInterval(), logs.For(logging.CategoryHealth))
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(a.pipeline, a.monitor, a.metrics, logs.For(logging.CategoryServer))
	logger.Info("statfiler serving",
		zap.String("addr", cfg.Server.Addr),
		zap.String("selector_version", a.selectors.Snapshot().Version),
		zap.Duration("health_interval", cfg.Health.GetInterval()))
	return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.GetShutdownGrace())
}
