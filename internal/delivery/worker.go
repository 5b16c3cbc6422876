package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/events"
	"github.com/example/delivery-pipeline/internal/message"
	"github.com/example/delivery-pipeline/internal/provider"
	"github.com/example/delivery-pipeline/internal/queue"
	"github.com/example/delivery-pipeline/internal/store"
)

type Config struct {
	Interval  time.Duration
	BatchSize int
	Backoff   Backoff
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = queue.MaxBatch
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = time.Minute
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 15 * time.Minute
	}
	return c
}

type Worker struct {
	store     store.Store
	queue     queue.Queue
	provider  provider.Provider
	publisher events.Publisher
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

func NewWorker(st store.Store, q queue.Queue, p provider.Provider, pub events.Publisher, cfg Config, logger zerolog.Logger) *Worker {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Worker{
		store:     st,
		queue:     q,
		provider:  p,
		publisher: pub,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// Run drives Tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.provider == nil {
		return errors.New("delivery worker requires a provider")
	}
	s, err := NewScheduler("delivery", w.cfg.Interval, func(ctx context.Context) {
		_ = w.Tick(ctx)
	}, w.logger)
	if err != nil {
		return err
	}
	s.Start(ctx)
	s.Wait()
	return nil
}

// Tick receives one batch and handles every envelope in it. An error is
// returned only when the batch could not be received at all.
func (w *Worker) Tick(ctx context.Context) error {
	envelopes, err := w.queue.ReceiveBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		tickErrors.WithLabelValues("delivery").Inc()
		w.logger.Error().Err(err).Msg("receive batch failed, skipping tick")
		return err
	}
	for _, env := range envelopes {
		if err := w.handle(ctx, env); err != nil {
			w.logger.Error().Err(err).Str("message_id", env.Ref.MessageID).Msg("envelope left for redelivery")
		}
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, env queue.Envelope) error {
	ctx, span := otel.Tracer("delivery-worker").Start(ctx, "deliver")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", env.Ref.MessageID))
	logger := common.WithContext(ctx, w.logger).With().Str("message_id", env.Ref.MessageID).Logger()

	msg, err := w.store.FindByID(ctx, env.Ref.MessageID)
	if errors.Is(err, message.ErrNotFound) {
		logger.Warn().Msg("message missing from store, dropping envelope")
		outcomes.WithLabelValues("missing").Inc()
		return w.ack(ctx, env)
	}
	if err != nil {
		span.RecordError(err)
		outcomes.WithLabelValues("store_error").Inc()
		return fmt.Errorf("load message: %w", err)
	}

	if msg.Status() != message.StatusPending {
		logger.Debug().Str("status", string(msg.Status())).Msg("message not pending, skipping duplicate")
		outcomes.WithLabelValues("duplicate").Inc()
		return w.ack(ctx, env)
	}
	// a ref from an earlier attempt must not jump the scheduled backoff
	if env.Ref.RetryCount != msg.RetryCount() {
		logger.Debug().
			Int("ref_retry_count", env.Ref.RetryCount).
			Int("retry_count", msg.RetryCount()).
			Msg("envelope from an earlier attempt, skipping")
		outcomes.WithLabelValues("stale").Inc()
		return w.ack(ctx, env)
	}

	start := time.Now()
	providerID, sendErr := w.provider.Send(ctx, msg)
	if sendErr == nil {
		sendLatency.WithLabelValues(string(msg.Channel), "ok").Observe(time.Since(start).Seconds())
		return w.onSent(ctx, logger, env, msg, providerID)
	}
	sendLatency.WithLabelValues(string(msg.Channel), "error").Observe(time.Since(start).Seconds())
	span.RecordError(sendErr)
	span.SetStatus(codes.Error, "send failed")
	return w.onFailed(ctx, logger, env, msg, sendErr)
}

func (w *Worker) onSent(ctx context.Context, logger zerolog.Logger, env queue.Envelope, msg *message.Message, providerID string) error {
	if err := msg.MarkSent(providerID); err != nil {
		return err
	}
	if err := w.store.Update(ctx, msg); err != nil {
		outcomes.WithLabelValues("store_error").Inc()
		return fmt.Errorf("record sent: %w", err)
	}
	outcomes.WithLabelValues("sent").Inc()
	logger.Info().Str("provider_message_id", providerID).Int("retry_count", msg.RetryCount()).Msg("message sent")

	if err := w.publisher.Emit(ctx, events.FromMessage(msg)); err != nil {
		logger.Warn().Err(err).Msg("publish sent event failed")
	}
	return w.ack(ctx, env)
}

func (w *Worker) onFailed(ctx context.Context, logger zerolog.Logger, env queue.Envelope, msg *message.Message, sendErr error) error {
	if err := msg.MarkFailed(sendErr.Error()); err != nil {
		return err
	}
	if err := msg.IncrementRetry(); err != nil {
		return err
	}
	if err := w.store.Update(ctx, msg); err != nil {
		outcomes.WithLabelValues("store_error").Inc()
		return fmt.Errorf("record failure: %w", err)
	}

	logger = logger.With().Int("retry_count", msg.RetryCount()).Bool("permanent", message.IsPermanent(sendErr)).Logger()

	if msg.CanRetry() {
		w.scheduleRetry(ctx, logger, msg)
	} else {
		outcomes.WithLabelValues("exhausted").Inc()
		logger.Error().Err(sendErr).Msg("delivery retries exhausted")
		if err := w.publisher.DeadLetter(ctx, events.FromMessage(msg)); err != nil {
			logger.Error().Err(err).Msg("publish dead letter failed")
		}
	}
	return w.ack(ctx, env)
}

// scheduleRetry moves the message back to pending and enqueues a new
// reference with the backoff delay. A failed enqueue leaves the message
// pending for the reconciler to pick up.
func (w *Worker) scheduleRetry(ctx context.Context, logger zerolog.Logger, msg *message.Message) {
	delay := w.cfg.Backoff.Delay(msg.RetryCount())
	if err := msg.Requeue(); err != nil {
		logger.Error().Err(err).Msg("requeue transition failed")
		return
	}
	if err := w.store.Update(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("record requeue failed, reconciler will retry")
		return
	}
	if err := w.queue.Enqueue(ctx, queue.NewRef(msg, w.now()), delay); err != nil {
		logger.Error().Err(err).Msg("re-enqueue failed, reconciler will retry")
		return
	}
	outcomes.WithLabelValues("retry_scheduled").Inc()
	logger.Warn().Dur("delay", delay).Str("reason", msg.ErrorMessage()).Msg("delivery failed, retry scheduled")
}

func (w *Worker) ack(ctx context.Context, env queue.Envelope) error {
	if err := w.queue.Ack(ctx, env.Token); err != nil {
		return fmt.Errorf("ack %s: %w", env.Token, err)
	}
	return nil
}
