package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/confirmation"
	"github.com/example/delivery-pipeline/internal/message"
)

const maxBodyBytes = 1 << 20

// Confirmer applies a normalized delivery confirmation.
type Confirmer interface {
	Apply(ctx context.Context, c confirmation.Confirmation) (bool, error)
}

type Server struct {
	Confirmer   Confirmer
	VerifyToken string
	// UnknownGrace defers confirmations for unknown ids whose event is younger
	// than this, since the worker may not have recorded the send yet. Zero
	// drops them at once.
	UnknownGrace time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

var (
	eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total webhook events processed",
	}, []string{"provider", "status"})

	errUnsupportedProvider = errors.New("unsupported provider")
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"webhook"}`))
	})
	r.Get("/v1/providers/whatsapp/events", s.verifyWhatsApp)
	r.Post("/v1/providers/{provider}/events", s.handle)
	return r
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("webhook").Start(r.Context(), "ingest-webhook")
	defer span.End()

	provider := chi.URLParam(r, "provider")
	span.SetAttributes(attribute.String("provider", provider))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondErr(ctx, w, provider, http.StatusBadRequest, err)
		return
	}

	confirmations, err := normalize(provider, body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errUnsupportedProvider) {
			status = http.StatusNotFound
		}
		s.respondErr(ctx, w, provider, status, err)
		return
	}

	logger := common.WithContext(ctx, s.Logger).With().Str("provider", provider).Logger()
	var applied, ignored, deferred int
	for _, c := range confirmations {
		ok, err := s.Confirmer.Apply(ctx, c)
		switch {
		case errors.Is(err, message.ErrNotFound) && s.recent(c):
			logger.Warn().Str("provider_message_id", c.ProviderMessageID).Msg("confirmation for unrecorded send, asking for redelivery")
			deferred++
		case errors.Is(err, message.ErrNotFound):
			logger.Warn().Str("provider_message_id", c.ProviderMessageID).Msg("confirmation for unknown message ignored")
			ignored++
		case err != nil:
			// a store failure is reported so the provider redelivers the callback
			s.respondErr(ctx, w, provider, http.StatusInternalServerError, err)
			return
		case ok:
			applied++
		default:
			ignored++
		}
	}

	status := http.StatusAccepted
	if deferred > 0 {
		// applied confirmations are idempotent, so the whole batch can be redelivered
		eventCounter.WithLabelValues(provider, "deferred").Inc()
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "30")
	} else {
		eventCounter.WithLabelValues(provider, "ok").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]int{"applied": applied, "ignored": ignored, "deferred": deferred})
}

func (s *Server) recent(c confirmation.Confirmation) bool {
	if s.UnknownGrace <= 0 || c.OccurredAt.IsZero() {
		return false
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().Sub(c.OccurredAt) < s.UnknownGrace
}

// verifyWhatsApp answers the Meta subscription handshake.
func (s *Server) verifyWhatsApp(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.VerifyToken == "" || q.Get("hub.verify_token") != s.VerifyToken {
		eventCounter.WithLabelValues("whatsapp", "verify_rejected").Inc()
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	eventCounter.WithLabelValues("whatsapp", "verified").Inc()
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

func normalize(provider string, body []byte) ([]confirmation.Confirmation, error) {
	switch provider {
	case "ses":
		return normalizeSES(body)
	case "sendgrid":
		return normalizeSendGrid(body)
	case "whatsapp":
		return normalizeWhatsApp(body)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedProvider, provider)
	}
}

func (s *Server) respondErr(ctx context.Context, w http.ResponseWriter, provider string, status int, err error) {
	logger := common.WithContext(ctx, s.Logger)
	logger.Error().Err(err).Str("provider", provider).Int("status", status).Msg("webhook handler error")
	eventCounter.WithLabelValues(provider, "error").Inc()
	http.Error(w, err.Error(), status)
}
