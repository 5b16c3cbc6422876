package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/delivery-pipeline/internal/message"
	"github.com/example/delivery-pipeline/internal/queue"
	"github.com/example/delivery-pipeline/internal/store"
)

// Reconciler re-enqueues messages that are pending (or failed with retries
// left) but have not moved for StaleAfter, covering re-enqueues lost to a
// crash or a queue outage.
type Reconciler struct {
	Store      store.Store
	Queue      queue.Queue
	StaleAfter time.Duration
	BatchSize  int
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (r *Reconciler) Tick(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("delivery-worker").Start(ctx, "reconcile")
	defer span.End()

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	staleAfter := r.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}

	stranded, err := r.Store.FindStranded(ctx, now().Add(-staleAfter), r.BatchSize)
	if err != nil {
		tickErrors.WithLabelValues("reconcile").Inc()
		r.Logger.Error().Err(err).Msg("find stranded messages failed")
		return 0, err
	}

	requeued := 0
	for _, msg := range stranded {
		logger := r.Logger.With().Str("message_id", msg.ID).Str("status", string(msg.Status())).Logger()
		if msg.Status() == message.StatusFailed {
			if err := msg.Requeue(); err != nil {
				logger.Warn().Err(err).Msg("skip stranded message")
				continue
			}
		} else {
			msg.Touch()
		}
		if err := r.Store.Update(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("update stranded message failed")
			continue
		}
		if err := r.Queue.Enqueue(ctx, queue.NewRef(msg, now()), 0); err != nil {
			logger.Error().Err(err).Msg("re-enqueue stranded message failed")
			continue
		}
		requeued++
		reconciled.Inc()
		logger.Info().Int("retry_count", msg.RetryCount()).Msg("stranded message re-enqueued")
	}
	span.SetAttributes(attribute.Int("reconcile.requeued", requeued))
	return requeued, nil
}

func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	s, err := NewScheduler("reconcile", interval, func(ctx context.Context) {
		_, _ = r.Tick(ctx)
	}, r.Logger)
	if err != nil {
		return err
	}
	s.Start(ctx)
	s.Wait()
	return nil
}
