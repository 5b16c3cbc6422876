package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/events"
	"github.com/example/delivery-pipeline/internal/message"
	"github.com/example/delivery-pipeline/internal/store"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeBounced   Outcome = "bounced"
)

// Confirmation is a provider's report about a message it accepted earlier.
type Confirmation struct {
	Provider          string
	ProviderMessageID string
	Outcome           Outcome
	Reason            string
	// OccurredAt is the provider's event time, zero when the payload has none.
	OccurredAt time.Time
}

var (
	ErrUnknownOutcome       = errors.New("unknown confirmation outcome")
	ErrMissingProviderMsgID = errors.New("provider message id is required")

	confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confirmations_total",
		Help: "Delivery confirmations by provider and result",
	}, []string{"provider", "result"})
)

type Service struct {
	store     store.Store
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewService(st store.Store, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: st, publisher: pub, logger: logger}
}

// Apply records the outcome on the matching message. It reports false when
// the message already carries that outcome or is not in the sent state.
func (s *Service) Apply(ctx context.Context, c Confirmation) (bool, error) {
	ctx, span := otel.Tracer("webhook").Start(ctx, "confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", c.Provider),
		attribute.String("provider.message_id", c.ProviderMessageID),
		attribute.String("outcome", string(c.Outcome)),
	)

	if c.ProviderMessageID == "" {
		return false, ErrMissingProviderMsgID
	}
	if c.Outcome != OutcomeDelivered && c.Outcome != OutcomeBounced {
		return false, fmt.Errorf("%w: %q", ErrUnknownOutcome, c.Outcome)
	}

	logger := common.WithContext(ctx, s.logger).With().
		Str("provider", c.Provider).
		Str("provider_message_id", c.ProviderMessageID).
		Str("outcome", string(c.Outcome)).
		Logger()

	msg, err := s.store.FindByProviderMessageID(ctx, c.ProviderMessageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			confirmations.WithLabelValues(c.Provider, "unknown").Inc()
			logger.Warn().Msg("confirmation for unknown message")
		}
		return false, err
	}
	logger = logger.With().Str("message_id", msg.ID).Logger()

	if msg.Status() == message.Status(c.Outcome) {
		confirmations.WithLabelValues(c.Provider, "duplicate").Inc()
		logger.Debug().Msg("confirmation already applied")
		return false, nil
	}

	switch c.Outcome {
	case OutcomeDelivered:
		err = msg.MarkDelivered()
	case OutcomeBounced:
		err = msg.MarkBounced(c.Reason)
	}
	if errors.Is(err, message.ErrInvalidTransition) {
		confirmations.WithLabelValues(c.Provider, "ignored").Inc()
		logger.Info().Str("status", string(msg.Status())).Msg("confirmation conflicts with current status, ignored")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.store.Update(ctx, msg); err != nil {
		confirmations.WithLabelValues(c.Provider, "store_error").Inc()
		return false, fmt.Errorf("record confirmation: %w", err)
	}
	confirmations.WithLabelValues(c.Provider, "applied").Inc()
	logger.Info().Msg("delivery confirmation applied")

	if err := s.publisher.Emit(ctx, events.FromMessage(msg)); err != nil {
		logger.Warn().Err(err).Msg("publish confirmation event failed")
	}
	return true, nil
}
