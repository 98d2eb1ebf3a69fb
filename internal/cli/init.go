// Package cli holds the start-up and shutdown steps shared by the moneta
// binaries.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/backend"
	"moneta/internal/config"
	"moneta/internal/ledger"
	"moneta/internal/log"
)

// SetupLogger builds the process logger and installs it as the slog default.
// An unknown level is reported and treated as info.
func SetupLogger(level, format, component string) *log.Logger {
	lvl, levelErr := log.ParseLevel(level)
	logger := log.New(log.Config{Level: lvl, Format: format, Component: component, Output: os.Stdout})
	log.SetDefault(logger)
	if levelErr != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	return logger
}

// LoadEnvFile reads .env when present. Deployments set the environment
// directly, so a missing file is not an error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

func fatal(logger *log.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

// LoadAndValidateConfig exits the process when the environment is invalid.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fatal(logger, "Configuration validation failed", log.FieldError, err)
	}
	return cfg
}

// InitBackend opens the ledger store selected by BACKEND_TYPE or exits.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) ledger.Store {
	opts, err := backend.FromAppConfig(cfg)
	if err != nil {
		fatal(logger, "Invalid backend configuration", log.FieldError, err)
	}
	store, err := backend.Open(ctx, opts, logger.WithComponent(log.ComponentBackend).Logger)
	if err != nil {
		fatal(logger, "Failed to initialize backend", log.FieldError, err, "backend", cfg.BackendType)
	}
	return store
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. After
// the signal, cleanup runs with timeout; done closes when it returns or the
// timeout expires, whichever is first.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		stop()
		logger.Info("Shutdown signal received")

		cctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			if cleanup != nil {
				cleanup(cctx)
			}
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-cctx.Done():
			logger.Warn("Shutdown timeout reached", "timeout", timeout)
		}
	}()

	return ctx, done
}

// WaitForShutdown blocks until the signal context ends and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
