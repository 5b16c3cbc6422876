package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/message"
)

var (
	reqCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_requests_total",
		Help: "Total number of submission requests received",
	}, []string{"status", "channel"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_request_duration_seconds",
		Help:    "Latency for submission requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
)

type Handler struct {
	svc    *Service
	tracer trace.Tracer
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		tracer: otel.Tracer("ingestion"),
		logger: logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.health)
	r.Post("/v1/messages", h.submit)
	r.Get("/v1/messages/{id}", h.status)
	r.Get("/v1/leads/{leadID}/messages", h.byLead)
	r.Get("/v1/campaigns/{campaignID}/messages", h.byCampaign)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ingestion"})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "submit-request")
	defer span.End()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, "", fmt.Errorf("malformed request body: %w", err))
		return
	}

	start := time.Now()
	id, err := h.svc.Submit(ctx, req)
	requestLatency.WithLabelValues(string(req.Channel)).Observe(time.Since(start).Seconds())

	var verr *message.ValidationError
	switch {
	case errors.As(err, &verr):
		reqCounter.WithLabelValues("invalid", string(req.Channel)).Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation failed",
			"details": verr.Fields,
		})
		return
	case err != nil:
		h.respondErr(ctx, w, http.StatusInternalServerError, req.Channel, err)
		return
	}

	reqCounter.WithLabelValues("accepted", string(req.Channel)).Inc()
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "queued"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, message.ErrNotFound) {
		h.respondErr(r.Context(), w, http.StatusNotFound, "", err)
		return
	}
	if err != nil {
		h.respondErr(r.Context(), w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) byLead(w http.ResponseWriter, r *http.Request) {
	h.byCorrelation(w, r, message.CorrelationRef{LeadID: chi.URLParam(r, "leadID")})
}

func (h *Handler) byCampaign(w http.ResponseWriter, r *http.Request) {
	h.byCorrelation(w, r, message.CorrelationRef{CampaignID: chi.URLParam(r, "campaignID")})
}

func (h *Handler) byCorrelation(w http.ResponseWriter, r *http.Request, ref message.CorrelationRef) {
	views, err := h.svc.ByCorrelation(r.Context(), ref)
	if err != nil {
		h.respondErr(r.Context(), w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, status int, channel message.Channel, err error) {
	logger := common.WithContext(ctx, h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("ingest handler failed")
	} else {
		logger.Warn().Err(err).Int("status", status).Msg("ingest request rejected")
	}
	label := string(channel)
	if label == "" {
		label = "unknown"
	}
	reqCounter.WithLabelValues(http.StatusText(status), label).Inc()
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
