// Package worker runs background jobs next to the HTTP server.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *model.OutboxMessage) error
}

// OutboxStore is the outbox table as seen by the relay.
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) (model.OutboxStatus, error)
}

// OutboxRelayConfig contains configuration for the outbox relay
type OutboxRelayConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to fetch in each poll
	BatchSize int
	// MaxRetries is the number of failed publishes after which a message is
	// parked as failed
	MaxRetries int
}

// DefaultOutboxRelayConfig returns default configuration
func DefaultOutboxRelayConfig() OutboxRelayConfig {
	return OutboxRelayConfig{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxRetries:   5,
	}
}

// OutboxRelay polls the outbox table and publishes booking events. It runs
// outside every booking transaction and delivers at least once.
type OutboxRelay struct {
	store     OutboxStore
	publisher Publisher
	config    OutboxRelayConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(store OutboxStore, publisher Publisher, cfg OutboxRelayConfig, m *metrics.Metrics, log *zap.Logger) *OutboxRelay {
	def := DefaultOutboxRelayConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		config:    cfg,
		metrics:   m,
		log:       log.Named("outbox_relay"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start starts polling in the background until ctx is done or Stop is called.
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("outbox relay already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.log.Info("Starting outbox relay",
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Int("batch_size", r.config.BatchSize),
	)

	r.wg.Add(1)
	go r.poll(ctx, r.stopCh)
	return nil
}

// Stop stops the relay and waits for the in-flight batch to finish.
func (r *OutboxRelay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("Outbox relay stopped")
}

func (r *OutboxRelay) poll(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("Failed to process outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes one batch of pending messages and returns how many
// were published. After a failed publish the rest of the batch with the same
// partition key is held back until the next poll, so one event's messages
// go out in the order they were written. Other keys are unaffected.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := r.store.FetchPending(ctx, r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	held := make(map[string]bool)
	for _, msg := range messages {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if held[msg.PartitionKey] {
			continue
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			held[msg.PartitionKey] = true
			r.recordFailure(ctx, msg, err)
			continue
		}
		now := r.now()
		if err := r.store.MarkPublished(ctx, msg.ID, now); err != nil {
			// The message stays pending and is published again next poll.
			held[msg.PartitionKey] = true
			r.log.Error("Failed to mark message as published",
				zap.String("message_id", msg.ID.String()), zap.Error(err))
			continue
		}
		published++
		r.metrics.ObserveOutbox("published")
		r.metrics.ObserveOutboxLag(now.Sub(msg.CreatedAt))
	}
	return published, nil
}

func (r *OutboxRelay) recordFailure(ctx context.Context, msg *model.OutboxMessage, publishErr error) {
	status, err := r.store.MarkRetry(ctx, msg.ID, publishErr.Error(), r.config.MaxRetries)
	if err != nil {
		r.log.Error("Failed to record publish failure",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("message_id", msg.ID.String()),
		zap.String("event_type", string(msg.EventType)),
		zap.Int("attempt", msg.RetryCount+1),
		zap.Error(publishErr),
	}
	if status == model.OutboxStatusFailed {
		r.metrics.ObserveOutbox("failed")
		r.log.Error("Outbox message exhausted its retries", fields...)
		return
	}
	r.metrics.ObserveOutbox("retry")
	r.log.Warn("Failed to publish outbox message", fields...)
}
