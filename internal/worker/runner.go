// Package worker hosts the background side of the ledger: the spreadsheet
// export consumer, the aggregation outbox processor and the health endpoint.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"moneta/internal/amqp"
	"moneta/internal/grpcserver"
	"moneta/internal/services"
)

// HealthService is the gRPC health service name reported by the worker.
const HealthService = "moneta.worker"

// Consumer delivers ledger events until ctx is done.
type Consumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error
}

// RunnerConfig wires the optional parts of a Runner. Nil parts are skipped.
type RunnerConfig struct {
	Consumer      Consumer
	Exporter      *ExportWorker
	Processor     *services.AggregationProcessor
	Health        *grpcserver.Server
	Store         grpcserver.Checker
	ProbeInterval time.Duration
}

type Runner struct {
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	return &Runner{cfg: cfg}
}

// Run blocks until ctx is cancelled or a component fails, then stops the rest.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if p := r.cfg.Processor; p != nil {
		if err := p.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return p.Stop(stopCtx)
		})
	}

	if r.cfg.Consumer != nil && r.cfg.Exporter != nil {
		g.Go(func() error {
			err := r.cfg.Consumer.ConsumeLedgerEvents(ctx, r.cfg.Exporter.HandleLedgerEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if h := r.cfg.Health; h != nil {
		g.Go(h.Start)
		g.Go(func() error {
			<-ctx.Done()
			h.Stop()
			return nil
		})
		if r.cfg.Store != nil {
			g.Go(func() error {
				r.probe(ctx)
				return nil
			})
		}
	}

	err := g.Wait()
	slog.Info("Worker stopped", "error", err)
	return err
}

func (r *Runner) probe(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		_ = r.cfg.Health.Probe(ctx, HealthService, r.cfg.Store)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
