package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"moneta/internal/amqp"
	"moneta/internal/cache"
	"moneta/internal/cli"
	"moneta/internal/config"
	"moneta/internal/core"
	apphttp "moneta/internal/http"
	"moneta/internal/log"
	"moneta/internal/middleware/ratelimit"
	"moneta/internal/services"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentApp)
	cfg = cli.LoadAndValidateConfig(logger)

	store := cli.InitBackend(context.Background(), logger, cfg)

	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		publisher = client
		logger.Info("Publishing ledger events", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	// Shared backends take writes from other processes that would never
	// invalidate this cache, so summaries are only cached in memory mode.
	var summaries cache.Cache[core.Summary]
	janitor := cache.NewJanitor()
	if cfg.SummaryCacheTTL > 0 && cfg.BackendType == config.BackendMemory {
		lru := cache.NewLRUCache[core.Summary](1000, cfg.SummaryCacheTTL)
		janitor.Register(lru)
		janitor.Start(time.Minute)
		summaries = lru
	}

	svc := services.NewLedgerService(store, publisher, summaries, services.LedgerServiceConfig{
		ReconcileOnDelete: cfg.ReconcileOnDelete,
	})

	// A memory store is only reachable from this process, so the outbox is
	// drained here instead of by moneta-worker.
	var processor *services.AggregationProcessor
	if cfg.BackendType == config.BackendMemory {
		pcfg := services.DefaultAggregationProcessorConfig()
		pcfg.PollInterval = cfg.AggregationPollInterval
		pcfg.BatchSize = cfg.AggregationBatchSize
		pcfg.MaxRetries = cfg.AggregationMaxRetries
		pcfg.Logger = logger
		processor = services.NewAggregationProcessor(store, pcfg)
		if err := processor.Start(context.Background()); err != nil {
			logger.Error("Failed to start aggregation processor", "error", err)
			os.Exit(1)
		}
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:      ":" + cfg.Port,
		JWTSecret: cfg.JWTSecret,
		RateLimit: ratelimit.DefaultConfig(),
		Logger:    logger.WithComponent(log.ComponentHTTP),
	}, svc, store)

	// No WriteTimeout: transaction streams are long-lived.
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Warn("Aggregation processor stop error", "error", err)
			}
		}
		janitor.Stop()
		if err := svc.Close(); err != nil {
			logger.Error("Failed to release resources", "error", err)
		}
	})

	logger.Info("Starting moneta server", "port", cfg.Port, "backend", cfg.BackendType)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
