// Package main is the entrypoint for the whisperd API server.
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

	"github.com/kiranshivaraju/whisperd/internal/api"
	"github.com/kiranshivaraju/whisperd/internal/api/handler"
	mw "github.com/kiranshivaraju/whisperd/internal/api/middleware"
	"github.com/kiranshivaraju/whisperd/internal/cache"
	"github.com/kiranshivaraju/whisperd/internal/config"
	"github.com/kiranshivaraju/whisperd/internal/engine"
	"github.com/kiranshivaraju/whisperd/internal/engine/whispercpp"
	"github.com/kiranshivaraju/whisperd/internal/fetch"
	"github.com/kiranshivaraju/whisperd/internal/resolve"
	"github.com/kiranshivaraju/whisperd/internal/runner"
	"github.com/kiranshivaraju/whisperd/internal/status"
	"github.com/kiranshivaraju/whisperd/internal/store"
	"github.com/kiranshivaraju/whisperd/internal/upload"
	"github.com/kiranshivaraju/whisperd/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var err error
	if len(os.Args) > 1 && os.Args[1] == "keys" {
		err = runKeys(os.Args[2:], os.Stdout)
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("whisperd failed", "error", err)
		os.Exit(1)
	}
}

// services are the optional backends; nil fields are not configured.
type services struct {
	store   store.Store
	cache   cache.Cache
	objects runner.ObjectSource
	web     runner.WebSource
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "out_dir", cfg.Server.OutDir, "workers", cfg.Worker.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Server.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	var svc services

	// 2. Connect to database and run migrations when keys live in Postgres
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		svc.store = store.NewPostgresStore(pool)
	}

	// 3. Create Redis cache for rate limiting
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		svc.cache = redisCache
	}

	// 4. Create remote sources for s3:// and http(s) inputs
	if cfg.S3.Enabled() {
		s3, err := fetch.NewS3(fetch.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("create s3 source: %w", err)
		}
		slog.Info("s3 inputs enabled", "endpoint", cfg.S3.Endpoint)
		svc.objects = s3
	}

	if cfg.HTTP.Enabled {
		svc.web = fetch.NewHTTP(fetch.HTTPConfig{
			Username:      cfg.HTTP.Username,
			Password:      cfg.HTTP.Password,
			HeaderTimeout: cfg.HTTP.HeaderTimeout,
		})
		slog.Info("http inputs enabled")
	}

	// 5. Create engine and worker pool
	eng := newEngine(cfg.Engine)
	slog.Info("engine initialized", "engine", eng.Name(), "model", cfg.Engine.ModelPath)

	workers := worker.NewPool(slog.Default(),
		worker.WithWorkers(cfg.Worker.Workers),
		worker.WithQueueSize(cfg.Worker.QueueSize),
		worker.WithTaskTimeout(cfg.Worker.TaskTimeout),
	)

	// 6. Build router with dependencies
	router := newRouter(cfg, eng, workers, svc)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "prefix", api.Prefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		workers.Shutdown(context.Background())
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := drainWorkers(shutdownCtx, workers); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// drainWorkers waits for queued and running jobs. Jobs still executing when
// ctx expires keep their RUNNING record across the restart.
func drainWorkers(ctx context.Context, workers *worker.Pool) error {
	slog.Info("draining worker pool", "pending", workers.Pending())
	if err := workers.Shutdown(ctx); err != nil {
		slog.Error("worker pool drain timed out, jobs left unfinished",
			"content_ids", workers.Running(),
			"pending", workers.Pending(),
			"error", err,
		)
		return fmt.Errorf("worker shutdown: %w", err)
	}
	return nil
}

func newEngine(cfg config.EngineConfig) *whispercpp.Engine {
	return whispercpp.New(whispercpp.Config{
		FFmpegPath:  cfg.FFmpegBin,
		WhisperPath: cfg.WhisperBin,
		ModelPath:   cfg.ModelPath,
		Threads:     cfg.Threads,
		Defaults:    cfg.Defaults,
	})
}

// newRouter wires the job pipeline and the optional services into the API.
func newRouter(cfg *config.Config, eng engine.Engine, workers handler.Scheduler, svc services) http.Handler {
	records := status.NewStore()
	opts := []runner.Option{runner.WithLogger(slog.Default())}
	if svc.objects != nil {
		opts = append(opts, runner.WithObjectSource(svc.objects))
	}
	if svc.web != nil {
		opts = append(opts, runner.WithWebSource(svc.web))
	}
	jobs := runner.New(records, upload.NewCoordinator(records), eng, runner.Config{
		OutDir:   cfg.Server.OutDir,
		Defaults: cfg.Engine.Defaults,
	}, opts...)
	dispatcher := handler.NewDispatcher(jobs, workers)

	var keys mw.KeyStore
	checks := map[string]handler.Pinger{
		"out_dir": outDirCheck(cfg.Server.OutDir),
	}
	if svc.store != nil {
		keys = svc.store
		checks["database"] = svc.store
	}
	if svc.cache != nil {
		checks["cache"] = svc.cache
	}

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(keys, cfg.Server.APITokens),
		RateLimit: mw.NewRateLimit(svc.cache, cfg.Redis.RateLimit),

		OverviewHandler: handler.NewOverviewHandler(version, eng.Name(), api.Prefix),
		HealthHandler:   handler.NewHealthHandler(checks),
		RunHandler:      handler.NewRunHandler(dispatcher),
		URIHandler:      handler.NewURIHandler(dispatcher),
		BytesHandler:    handler.NewBytesHandler(dispatcher),
		ResultHandler:   handler.NewResultHandler(resolve.New(records), cfg.Server.OutDir),
		DownloadHandler: handler.NewDownloadHandler(cfg.Server.OutDir),
	})
}

// outDirCheck reports the out root as degraded when it is missing.
func outDirCheck(dir string) handler.PingFunc {
	return func(_ context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}
