package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/message"
	"github.com/example/delivery-pipeline/internal/queue"
	"github.com/example/delivery-pipeline/internal/store"
)

// Service accepts messages for delivery and answers status queries.
type Service struct {
	store    store.Store
	queue    queue.Queue
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(st store.Store, q queue.Queue, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		queue:    q,
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Validate(req Request) error {
	if err := s.validate.Struct(req); err != nil {
		return toValidationError(err)
	}
	return nil
}

// Submit persists a new pending message and enqueues it. Nothing is enqueued
// unless the save succeeded. An enqueue failure after a successful save is
// logged and the id is still returned: the record is durable and the
// reconciler re-enqueues it.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	ctx, span := otel.Tracer("ingestion").Start(ctx, "submit")
	defer span.End()

	if err := s.Validate(req); err != nil {
		return "", err
	}

	msg, err := message.New(req.draft(uuid.NewString()))
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("message.id", msg.ID), attribute.String("channel", string(msg.Channel)))
	logger := common.WithContext(ctx, s.logger).With().Str("message_id", msg.ID).Logger()

	if err := s.store.Save(ctx, msg); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("save message: %w", err)
	}
	// the record is already durable, a client hang-up must not strand it
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), queue.NewRef(msg, s.now()), 0); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("enqueue failed, message left pending for reconciliation")
		return msg.ID, nil
	}

	logger.Info().
		Str("channel", string(msg.Channel)).
		Str("priority", string(msg.Priority)).
		Int("recipients", len(msg.Recipients)).
		Msg("message queued")
	return msg.ID, nil
}

func (s *Service) Status(ctx context.Context, id string) (View, error) {
	msg, err := s.store.FindByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	return viewOf(msg), nil
}

func (s *Service) ByCorrelation(ctx context.Context, ref message.CorrelationRef) ([]View, error) {
	msgs, err := s.store.FindByCorrelation(ctx, ref)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, viewOf(m))
	}
	return views, nil
}
