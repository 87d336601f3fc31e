// Package main is the entrypoint for the motiontrack API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/motiontrack/internal/api"
	"github.com/kiranshivaraju/motiontrack/internal/api/handler"
	mw "github.com/kiranshivaraju/motiontrack/internal/api/middleware"
	"github.com/kiranshivaraju/motiontrack/internal/backend"
	"github.com/kiranshivaraju/motiontrack/internal/cache"
	"github.com/kiranshivaraju/motiontrack/internal/config"
	"github.com/kiranshivaraju/motiontrack/internal/health"
	"github.com/kiranshivaraju/motiontrack/internal/media"
	"github.com/kiranshivaraju/motiontrack/internal/poller"
	"github.com/kiranshivaraju/motiontrack/internal/sessions"
	"github.com/kiranshivaraju/motiontrack/internal/store"
	"github.com/kiranshivaraju/motiontrack/internal/tracker"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 15 * time.Second
	writeTimeout    = 60 * time.Second
	// submitTimeout leaves room to write the response before writeTimeout.
	submitTimeout = writeTimeout - 10*time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

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
	slog.Info("config loaded", "backend", cfg.Backend.BaseURL, "env", cfg.Server.Env)

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

	redisStore, err := cache.NewRedisStore(cfg.Redis.URL, cfg.Cache.PersistentTTL)
	if err != nil {
		return fmt.Errorf("create redis store: %w", err)
	}
	defer redisStore.Close()

	if err := redisStore.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	pgStore := store.NewPostgresStore(pool)
	client := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	urlCache := cache.NewTiered[string](redisStore, cacheOptions("media-urls", cfg.Cache))
	payloadCache := cache.NewTiered[json.RawMessage](redisStore, cacheOptions("analytics", cfg.Cache))
	for _, l := range []interface{ Load(context.Context) error }{urlCache, payloadCache} {
		if err := l.Load(ctx); err != nil {
			slog.Warn("loading persisted cache failed, starting empty", "error", err)
		}
	}

	monitor := health.NewMonitor(client, health.Options{
		Interval:        cfg.Health.Interval,
		Timeout:         cfg.Health.Timeout,
		OverloadLatency: cfg.Health.OverloadLatency,
	})

	jobs := tracker.New(client, tracker.Options{
		MaxRetries: cfg.Backend.MaxRetries,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.Backend.SubmitRate), cfg.Backend.SubmitBurst),
		Recorder:   pgStore,
	})

	registry := sessions.NewRegistry()
	resolver := media.NewResolver(monitor, client, urlCache, payloadCache, media.Options{
		BackendURL:           cfg.Backend.BaseURL,
		StreamCustomerDomain: cfg.Media.StreamCustomerDomain,
		FallbackVideoURL:     cfg.Media.FallbackVideoURL,
	})
	poll := poller.New(jobs, client, registry, resolver, poller.Options{
		Interval: cfg.Poller.Interval,
	})
	jobs.SetOnProcessing(poll.Wake)

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	n, err := restoreJobs(startCtx, pgStore, jobs)
	if err != nil {
		slog.Warn("restoring jobs failed", "error", err)
	} else {
		slog.Info("jobs restored", "count", n)
	}
	if err := poll.Sync(startCtx); err != nil {
		slog.Warn("initial session sync failed", "error", err)
	}
	cancel()

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	// monitor.Run checks once immediately.
	background(monitor.Run)
	background(poll.Run)
	background(func(ctx context.Context) { urlCache.RunEviction(ctx, cfg.Cache.EvictInterval) })
	background(func(ctx context.Context) { payloadCache.RunEviction(ctx, cfg.Cache.EvictInterval) })

	router := api.NewRouter(api.Dependencies{
		RateLimit:     mw.NewRateLimit(redisStore, cfg.Server.RequestsPerMinute),
		HealthHandler: handler.NewHealth(pgStore, redisStore, monitor),
		Jobs:          handler.NewJobs(jobs, pgStore, submitTimeout),
		Media:         handler.NewMedia(resolver, registry, poll, monitor),
	})

	srv := newServer(cfg.Server, router)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	wg.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

func newServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

func cacheOptions(namespace string, cfg config.CacheConfig) cache.Options {
	return cache.Options{
		Namespace:     namespace,
		MemoryTTL:     cfg.MemoryTTL,
		PersistentTTL: cfg.PersistentTTL,
		MaxPersisted:  cfg.MaxPersisted,
	}
}

type jobLister interface {
	ListJobs(ctx context.Context) ([]*models.Job, error)
}

type jobRestorer interface {
	Restore(jobs []*models.Job) int
}

// restoreJobs reloads the jobs recorded before the last shutdown.
func restoreJobs(ctx context.Context, l jobLister, r jobRestorer) (int, error) {
	jobs, err := l.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	return r.Restore(jobs), nil
}
