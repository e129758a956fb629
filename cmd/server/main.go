package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/database"
	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/jobs"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/progress"
	"github.com/JonMunkholm/catalogimport/internal/staging"
	"github.com/JonMunkholm/catalogimport/internal/web"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"progress_backend", cfg.Progress.Backend,
		"import_workers", cfg.Workers.ImportWorkers,
		"batch_size", cfg.Import.BatchSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	store, err := progress.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	reporter := progress.NewReporter(store, cfg.Progress.TTL)

	uploads, err := staging.NewOS(cfg.Staging.Dir)
	if err != nil {
		return err
	}
	limiter := staging.NewLimiter(cfg.Import.MaxConcurrentUploads, cfg.Import.UploadWaitTime)

	registry := webhook.NewPGRegistry(pool)
	deliverer := webhook.NewDeliverer(cfg.Webhook.Timeout, cfg.Webhook.Source)

	queue := jobs.NewQueue(cfg.Import.MaxAttempts, jobs.RetryPolicy(cfg))
	emitter := webhook.NewEmitter(registry, queue, cfg.Webhook.BufferSize, logger).WithDispatcher(queue)
	products := catalog.NewPGStore(pool)
	runner := importer.NewRunner(uploads, products, reporter, emitter, cfg.Import.BatchSize)
	submitter := importer.NewSubmitter(uploads, limiter, reporter, queue, cfg.Import.MaxFileSize)

	workers := jobs.NewWorkers(cfg, jobs.Deps{
		Runner:    runner,
		Emitter:   emitter,
		Registry:  registry,
		Deliverer: deliverer,
		Uploads:   uploads,
		Progress:  store,
		Logger:    logger,
	})
	client, err := jobs.NewClient(pool, cfg, workers, logger)
	if err != nil {
		return err
	}
	queue.Attach(client)

	health := map[string]web.Pinger{"postgres": pool}
	if p, ok := store.(web.Pinger); ok {
		health["progress"] = p
	}

	server := web.NewServer(cfg, web.Deps{
		Submitter:     submitter,
		Progress:      reporter,
		Subscriptions: registry,
		Deliveries:    queue,
		Products:      products,
		Health:        health,
	})

	g, gctx := errgroup.WithContext(ctx)

	// Workers run on a context detached from the signal so in-flight jobs
	// finish during the graceful stop below instead of being cancelled.
	workCtx := context.WithoutCancel(ctx)
	if err := client.Start(workCtx); err != nil {
		return err
	}

	emitCtx, stopEmitter := context.WithCancel(workCtx)
	g.Go(func() error { return emitter.Run(emitCtx) })

	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Server.Addr())
		return server.ListenAndServe()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}

		if active := limiter.Active(); active > 0 {
			logger.Info("waiting for uploads to finish staging", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				logger.Warn("uploads did not finish in time", "error", err)
			}
		}

		if err := client.Stop(shutdownCtx); err != nil {
			logger.Warn("job workers did not stop cleanly", "error", err)
		}
		stopEmitter()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
