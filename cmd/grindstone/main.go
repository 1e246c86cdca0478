// Package main is the grindstone daemon: it keeps the engine loaded, runs the
// idle, health and day-rollover jobs, and serves the JSON API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindstone-hq/grindstone/config"
	"github.com/grindstone-hq/grindstone/internal/bootstrap"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/scheduler"
	"github.com/grindstone-hq/grindstone/internal/infrastructure/scheduler/jobs"
	apihttp "github.com/grindstone-hq/grindstone/internal/interface/http"
	"github.com/grindstone-hq/grindstone/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Logging
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Level:   cfg.Observability.Level,
		Format:  cfg.Observability.Format,
		Output:  os.Stdout,
		Service: "grindstone",
	})
	log.Info("starting grindstone",
		"version", version,
		"env", string(cfg.App.Environment),
		"timezone", cfg.App.Location().String(),
		"store", string(cfg.Store.Kind),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Engine and infrastructure
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.Open(ctx, cfg, log, bootstrap.Options{Version: version})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			log.Error("shutdown cleanup failed", "error", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{
			Logger:       log,
			Clock:        rt.Clock,
			TickInterval: cfg.Scheduler.TickInterval,
		})
		sched.OnJobComplete(rt.Metrics.JobCompleted)

		err := jobs.Register(sched, rt.Engine, jobs.Intervals{
			IdleCheck:   cfg.Scheduler.IdleCheckInterval,
			HealthCheck: cfg.Scheduler.HealthCheckInterval,
			DayRollover: cfg.Scheduler.DayRollover,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to register jobs: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	var serverErr <-chan error
	var server *apihttp.Server
	if cfg.HTTP.Enabled {
		httpCfg := apihttp.DefaultConfig()
		httpCfg.Addr = cfg.HTTP.Addr
		httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
		httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
		httpCfg.RequestTimeout = cfg.HTTP.RequestTimeout
		httpCfg.Admin = cfg.Features.Admin
		httpCfg.AdminPassphraseHash = cfg.Admin.PassphraseHash
		httpCfg.Version = version

		deps := apihttp.Dependencies{
			Engine:        rt.Engine,
			Metrics:       rt.Metrics.Handler(),
			HealthChecker: rt.Health,
			Logger:        log,
		}
		if rt.Notifications != nil {
			deps.Notifications = rt.Notifications
		}
		server, err = apihttp.NewServer(httpCfg, deps)
		if err != nil {
			return fmt.Errorf("failed to create http server: %w", err)
		}
		serverErr = server.StartAsync()
	}

	log.Info("grindstone is running", "http", cfg.HTTP.Enabled, "scheduler", cfg.Scheduler.Enabled)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
			log.Error("http server stopped", "error", err)
		}
	}

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
	}
	if sched != nil {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Error("scheduler stop failed", "error", err)
		}
	}

	log.Info("shutdown completed")
	return runErr
}
