package main

import (
	"context"
	"os"
	"time"

	"moneta/internal/amqp"
	"moneta/internal/cli"
	"moneta/internal/config"
	"moneta/internal/grpcserver"
	"moneta/internal/log"
	"moneta/internal/services"
	"moneta/internal/sheets"
	gsheet "moneta/internal/sheets/google"
	"moneta/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentWorker)
	cfg = cli.LoadAndValidateConfig(logger)

	logger.Info("Starting moneta-worker", "backend", cfg.BackendType)
	if cfg.BackendType == config.BackendMemory {
		logger.Warn("Memory backend is process-local; the worker only sees its own empty store")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	store := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	}()

	pcfg := services.DefaultAggregationProcessorConfig()
	pcfg.PollInterval = cfg.AggregationPollInterval
	pcfg.BatchSize = cfg.AggregationBatchSize
	pcfg.MaxRetries = cfg.AggregationMaxRetries
	pcfg.Logger = logger

	runnerCfg := worker.RunnerConfig{
		Processor: services.NewAggregationProcessor(store, pcfg),
		Store:     store,
	}

	if cfg.AMQPURL != "" {
		exporter := sheets.TransactionExporter(sheets.NopExporter{})
		if cfg.ExportEnabled() {
			e, err := gsheet.NewExporter(ctx, cfg.SheetsSpreadsheetID, cfg.SheetsRange, gsheet.Credentials{
				JSON: cfg.GoogleServiceAccountJSON,
				File: cfg.GoogleServiceAccountFile,
				OAuth: gsheet.OAuthClient{
					JSON: cfg.GoogleOAuthClientJSON,
					File: cfg.GoogleOAuthClientFile,
				},
				TokenFile: cfg.GoogleOAuthTokenFile,
			})
			if err != nil {
				logger.Error("Failed to initialize Google Sheets exporter", "error", err)
				os.Exit(1)
			}
			exporter = e
			logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.SheetsSpreadsheetID)
		} else {
			logger.Info("Google Sheets export disabled - no SHEETS_SPREADSHEET_ID provided")
		}

		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		runnerCfg.Consumer = client
		runnerCfg.Exporter = worker.NewExportWorker(exporter)
	} else {
		logger.Info("Skipping AMQP message consumption - no AMQP_URL provided")
	}

	if cfg.GRPCHealthAddr != "" {
		runnerCfg.Health = grpcserver.New(cfg.GRPCHealthAddr)
		logger.Info("gRPC health endpoint", "addr", cfg.GRPCHealthAddr)
	}

	if err := worker.NewRunner(runnerCfg).Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
