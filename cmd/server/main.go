// Package main is the entrypoint for the audiobook API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kiranshivaraju/audiobooker/internal/api"
	"github.com/kiranshivaraju/audiobooker/internal/api/handler"
	mw "github.com/kiranshivaraju/audiobooker/internal/api/middleware"
	"github.com/kiranshivaraju/audiobooker/internal/api/response"
	"github.com/kiranshivaraju/audiobooker/internal/artifact"
	"github.com/kiranshivaraju/audiobooker/internal/audiobook"
	"github.com/kiranshivaraju/audiobooker/internal/cache"
	"github.com/kiranshivaraju/audiobooker/internal/config"
	"github.com/kiranshivaraju/audiobooker/internal/events"
	"github.com/kiranshivaraju/audiobooker/internal/logger"
	"github.com/kiranshivaraju/audiobooker/internal/store"
	"github.com/kiranshivaraju/audiobooker/internal/synth"
	"github.com/kiranshivaraju/audiobooker/internal/voice"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logger.New(cfg.Server.Env,
		logger.WithLevel(cfg.Log.Level),
		logger.WithLogFile(cfg.Log.File),
	))
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"store", cfg.Storage.StoreBackend,
		"artifacts", cfg.Storage.ArtifactBackend,
		"model_provider", cfg.Model.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Job store
	jobStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. NATS connection, shared by the object store and event publisher
	var nc *nats.Conn
	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("audiobooker"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()
		publisher = events.NewNatsPublisher(nc, cfg.NATS.EventSubject)
		slog.Info("nats connected", "url", cfg.NATS.URL, "event_subject", cfg.NATS.EventSubject)
	}

	// 4. Artifact store
	artifacts, err := openArtifacts(cfg, nc)
	if err != nil {
		return err
	}

	// 5. Optional Redis cache for submission rate limiting
	var redisCache cache.Cache
	var rateLimit *mw.RateLimit
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		redisCache = rc
		rateLimit = mw.NewRateLimit(rc, "submit", cfg.Redis.RequestsPerMinute)
		slog.Info("redis connected", "requests_per_minute", cfg.Redis.RequestsPerMinute)
	}

	// 6. Speech model adapter, warmed up in the background
	model, err := synth.NewModel(cfg.Model)
	if err != nil {
		return fmt.Errorf("create speech model: %w", err)
	}
	adapter := synth.NewAdapter(model, cfg.Model.LoadTimeout, cfg.Model.Timeout)
	go func() {
		state := adapter.EnsureLoaded(ctx)
		if !state.Ready {
			slog.Warn("speech model unavailable, using fallback tone", "model", adapter.ModelName(), "error", state.Cause)
			return
		}
		slog.Info("speech model loaded", "model", adapter.ModelName())
	}()

	// 7. Voice library
	voices, err := voice.NewLibrary(cfg.Voices.Dir, cfg.Voices.Catalog)
	if err != nil {
		return fmt.Errorf("open voice library: %w", err)
	}
	if err := voices.Watch(ctx); err != nil {
		return fmt.Errorf("watch voice catalog: %w", err)
	}

	// 8. Worker pool and service. Jobs outlive the signal context and are
	// drained with Wait during shutdown.
	worker := audiobook.NewWorker(jobStore, artifacts, voice.NewBuilder(voices), adapter, publisher)
	dispatcher := audiobook.NewDispatcher(context.WithoutCancel(ctx), worker, cfg.Worker.Concurrency)
	svc := audiobook.NewService(jobStore, artifacts, dispatcher, publisher)

	router := api.NewRouter(api.Dependencies{
		RateLimit:     rateLimit,
		Audiobooks:    handler.NewAudiobooks(svc),
		HealthHandler: healthHandler(jobStore, artifacts, redisCache, adapter),
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "workers", cfg.Worker.Concurrency)
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
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		slog.Warn("synthesis jobs still running at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore returns the configured job store and a function releasing its resources.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Storage.StoreBackend == config.BackendPostgres {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresStore(pool), pool.Close, nil
	}

	fs, err := store.NewFileStore(filepath.Join(cfg.Storage.DataDir, "metadata"))
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	return fs, func() {}, nil
}

// openArtifacts returns the configured artifact store. nc is only used by the
// nats backend, which config validation guarantees has a URL.
func openArtifacts(cfg *config.Config, nc *nats.Conn) (artifact.Store, error) {
	if cfg.Storage.ArtifactBackend == config.BackendNATS {
		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("open jetstream: %w", err)
		}
		ns, err := artifact.NewNatsStore(js, cfg.NATS.ObjectBucket)
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		slog.Info("object store ready", "bucket", cfg.NATS.ObjectBucket)
		return ns, nil
	}

	fs, err := artifact.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	return fs, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks store, artifact and cache connectivity and reports the
// speech model state. c may be nil when rate limiting is disabled. An
// unavailable model does not degrade the service since synthesis falls back.
func healthHandler(s store.Store, a artifact.Store, c cache.Cache, m *synth.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps := map[string]pinger{"database": s, "artifacts": a}
		if c != nil {
			deps["cache"] = c
		}

		checks := map[string]string{"cache": "disabled"}
		degraded := false
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"model":    modelStatus(m),
		})
	}
}

func modelStatus(m *synth.Adapter) map[string]string {
	status := map[string]string{"name": m.ModelName(), "state": "loading"}
	state, loaded := m.State()
	switch {
	case !loaded:
	case state.Ready:
		status["state"] = "ready"
	default:
		status["state"] = "unavailable"
		status["error"] = state.Cause.Error()
	}
	return status
}
