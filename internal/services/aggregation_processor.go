package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"moneta/internal/core"
	"moneta/internal/ledger"
	"moneta/internal/log"
)

// AggregationProcessorConfig tunes the outbox drain loop.
type AggregationProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries is the number of attempts before an event is marked failed.
	MaxRetries int
	// StaleAfter reclaims processing events whose worker went away.
	StaleAfter time.Duration
	// Concurrency bounds how many users are reconciled in parallel. Events of
	// one user are always applied in claim order.
	Concurrency     int
	CleanupInterval time.Duration
	CleanupAge      time.Duration
	Logger          *log.Logger
}

func DefaultAggregationProcessorConfig() AggregationProcessorConfig {
	return AggregationProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		StaleAfter:      5 * time.Minute,
		Concurrency:     4,
		CleanupInterval: time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// AggregationProcessor drains the aggregation outbox: events whose budget
// update failed, or that stalled mid-flight, are applied again until they
// complete or run out of attempts.
type AggregationProcessor struct {
	store      ledger.Store
	aggregator *Aggregator
	cfg        AggregationProcessorConfig
	logger     *log.Logger

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func NewAggregationProcessor(store ledger.Store, cfg AggregationProcessorConfig) *AggregationProcessor {
	def := DefaultAggregationProcessorConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AggregationProcessor{
		store:      store,
		aggregator: NewAggregator(store),
		cfg:        cfg,
		logger:     logger.WithComponent(log.ComponentAggregation),
	}
}

// Start launches the drain loop. It fails when the loop is already running.
func (p *AggregationProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return errors.New("aggregation processor is already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.stop = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)

	p.logger.InfoContext(ctx, "Aggregation processor started",
		"poll_interval", p.cfg.PollInterval,
		"batch_size", p.cfg.BatchSize,
		"max_retries", p.cfg.MaxRetries,
		"concurrency", p.cfg.Concurrency)
	return nil
}

// Stop cancels the loop and waits for the in-flight batch, or for ctx.
func (p *AggregationProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Aggregation processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "Aggregation processor stopped")
	return nil
}

func (p *AggregationProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *AggregationProcessor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(p.cfg.CleanupInterval)
	defer sweep.Stop()

	p.ProcessBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			p.ProcessBatch(ctx)
		case <-sweep.C:
			p.cleanup(ctx)
		}
	}
}

// ProcessBatch claims and reconciles one batch of events and returns how
// many were claimed.
func (p *AggregationProcessor) ProcessBatch(ctx context.Context) int {
	events, err := p.store.Outbox().Claim(ctx, p.cfg.BatchSize, p.cfg.StaleAfter)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to claim aggregation batch", log.FieldError, err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}
	p.logger.DebugContext(ctx, "Processing aggregation batch", "count", len(events))

	var users []string
	byUser := make(map[string][]core.AggregationEvent)
	for _, ev := range events {
		if _, seen := byUser[ev.UserID]; !seen {
			users = append(users, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, user := range users {
		queue := byUser[user]
		g.Go(func() error {
			userCtx := ledger.WithUser(ctx, user)
			for _, ev := range queue {
				if ctx.Err() != nil {
					return nil
				}
				if _, err := p.aggregator.Reconcile(userCtx, ev); err != nil {
					p.handleFailure(userCtx, ev, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(events)
}

// handleFailure requeues ev or, on its last attempt, marks it failed.
func (p *AggregationProcessor) handleFailure(ctx context.Context, ev core.AggregationEvent, cause error) {
	if errors.Is(cause, core.ErrConflict) {
		// another worker finished it first
		p.logger.DebugContext(ctx, "Aggregation already settled", log.FieldEventID, ev.ID)
		return
	}

	attempt := ev.Attempts + 1
	p.logger.WarnContext(ctx, "Aggregation failed",
		log.FieldEventID, ev.ID,
		log.FieldCategory, ev.Category,
		"attempt", attempt,
		log.FieldError, cause)

	outbox := p.store.Outbox()
	if attempt < p.cfg.MaxRetries {
		if err := outbox.MarkRetry(ctx, ev.ID, cause.Error()); err != nil {
			p.logger.ErrorContext(ctx, "Failed to record aggregation attempt", log.FieldEventID, ev.ID, log.FieldError, err)
		}
		return
	}
	if err := outbox.MarkFailed(ctx, ev.ID, cause.Error()); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark aggregation as failed", log.FieldEventID, ev.ID, log.FieldError, err)
		return
	}
	p.logger.ErrorContext(ctx, "Aggregation failed permanently",
		log.FieldEventID, ev.ID,
		log.FieldTransactionID, ev.TransactionID,
		"attempts", attempt)
}

func (p *AggregationProcessor) cleanup(ctx context.Context) {
	n, err := p.store.Outbox().Cleanup(ctx, p.cfg.CleanupAge)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to clean up aggregation events", log.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.DebugContext(ctx, "Cleaned up aggregation events", "count", n)
	}
}

// Stats returns outbox counts by status across all users.
func (p *AggregationProcessor) Stats(ctx context.Context) (map[core.AggregationStatus]int, error) {
	stats, err := p.store.Outbox().Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}
