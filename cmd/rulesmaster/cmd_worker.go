package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rulesmaster/progress-sync/internal/infrastructure/scheduler"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/rulesmaster/progress-sync/internal/interface/http"
	"github.com/rulesmaster/progress-sync/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background sync worker until interrupted",
	Long: `Run the background sync worker: handles identity and lifecycle events
and periodically uploads pending quiz attempts and refreshes cached
progress. Stops on SIGINT or SIGTERM and drains in-flight work within
APP_SHUTDOWN_TIMEOUT.`,
	RunE: withApp(runWorker),
}

func runWorker(cmd *cobra.Command, a *app, _ []string) error {
	ctx := cmd.Context()
	log := a.log.With(logger.Component("worker"))

	// ─────────────────────────────────────────────────────────────────────────
	// 1. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: a.log})

	resync := jobs.NewResyncPendingQuizJob(a.quizzes, a.cfg.Sync.TaskTimeout, a.log)
	if err := sched.Register(resync, a.cfg.Sync.ResyncInterval); err != nil {
		return err
	}
	if a.cfg.Sync.RefreshInterval > 0 {
		refresh := jobs.NewRefreshProgressJob(a.progress, a.cfg.Sync.TaskTimeout, a.log)
		if err := sched.Register(refresh, a.cfg.Sync.RefreshInterval); err != nil {
			return err
		}
	}

	// Upload anything left over from the last run before waiting a full interval.
	if _, err := sched.RunNow(ctx, resync.Name()); err != nil {
		log.Warn("initial pending quiz upload failed", logger.Err(err))
	}

	sched.Start()
	log.Info("worker is running",
		logger.String("cache", a.cfg.Cache.Backend),
		logger.String("remote", a.cfg.Remote.Backend),
		logger.Duration("resync_interval", a.cfg.Sync.ResyncInterval),
		logger.Duration("refresh_interval", a.cfg.Sync.RefreshInterval),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STATUS ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	var (
		srv    *httpserver.Server
		srvErr <-chan error
	)
	if addr := a.cfg.Observability.StatusAddr; addr != "" {
		srv = httpserver.NewServer(httpserver.DefaultConfig(addr), httpserver.Dependencies{
			Remote:  a.remote,
			Runner:  a.runner,
			Pending: a.quizzes,
			Jobs:    sched,
			Logger:  a.log,
		})
		errCh, err := srv.StartAsync()
		if err != nil {
			_ = sched.Stop(context.WithoutCancel(ctx))
			return err
		}
		srvErr = errCh
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			log.Error("status endpoint stopped", logger.Err(err))
		}
	}
	log.Info("starting graceful shutdown", logger.Duration("timeout", a.cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.App.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("status endpoint did not stop in time", logger.Err(err))
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler did not stop in time", logger.Err(err))
	}
	if err := a.runner.Wait(shutdownCtx); err != nil {
		log.Warn("background work still running at shutdown", logger.Err(err))
	}

	log.Info("shutdown completed", logger.F("runner", a.runner.Stats()))
	return nil
}
