// Package main is the entrypoint for the Veriscope API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rahulnair/veriscope/internal/admission"
	"github.com/rahulnair/veriscope/internal/api"
	"github.com/rahulnair/veriscope/internal/api/handler"
	mw "github.com/rahulnair/veriscope/internal/api/middleware"
	"github.com/rahulnair/veriscope/internal/api/response"
	"github.com/rahulnair/veriscope/internal/cache"
	"github.com/rahulnair/veriscope/internal/config"
	"github.com/rahulnair/veriscope/internal/pipeline"
	"github.com/rahulnair/veriscope/internal/report"
	"github.com/rahulnair/veriscope/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Optional .env for local development; real deployments set env vars.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "stages", len(cfg.Pipeline.Stages))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}
	slog.Info("providers registered", "names", registry.Names())

	pgStore := store.NewPostgresStore(pool)

	blobs, err := report.NewFSBlobStore(cfg.Report.ArtifactDir)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}
	assembler := report.NewAssembler(report.Policy{AllowPartial: cfg.Report.AllowPartial})

	// The dispatcher and executor reference each other: the dispatcher
	// enqueues promoted jobs, and a finished job kicks the dispatcher so the
	// freed slot refills without waiting for the next scan.
	var dispatcher *admission.Dispatcher
	executor := pipeline.NewExecutor(pipeline.ExecutorParams{
		Store:     pgStore,
		Cache:     redisCache,
		Registry:  registry,
		Config:    cfg.Pipeline,
		Assembler: assembler,
		Blobs:     blobs,
		Workers:   cfg.Admission.GlobalMaxRunning,
		OnFree:    func() { dispatcher.Kick() },
	})
	dispatcher = admission.NewDispatcher(pgStore, executor,
		cfg.Admission.GlobalMaxRunning, cfg.Admission.TenantMaxRunning, cfg.Admission.DispatchInterval)

	executor.Start(ctx)
	if err := executor.Recover(ctx); err != nil {
		return fmt.Errorf("recover running jobs: %w", err)
	}
	go dispatcher.Run(ctx)

	controller := admission.NewController(pgStore, cfg.Admission, dispatcher)

	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, 0),

		HealthHandler: healthHandler(pgStore, redisCache),
		SubmitHandler: handler.NewSubmitHandler(controller),
		PollHandler:   handler.NewPollHandler(pgStore, redisCache, cfg.Pipeline.Stages),
		CancelHandler: handler.NewCancelHandler(pgStore, redisCache, cfg.Pipeline.Stages),
		ReportHandler: handler.NewReportHandler(pgStore, blobs),
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	executor.Wait()
	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
