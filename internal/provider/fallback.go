package provider

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/delivery-pipeline/internal/message"
)

// Fallback tries each provider in order and returns the first success.
// Every attempt counts as a single send from the worker's point of view.
type Fallback struct {
	Providers []Provider
	Logger    zerolog.Logger
}

func (f *Fallback) Name() string { return "fallback" }

func (f *Fallback) Send(ctx context.Context, msg *message.Message) (string, error) {
	if len(f.Providers) == 0 {
		return "", &message.TransportError{Provider: f.Name(), Permanent: true, Err: errors.New("at least one provider required")}
	}
	span := trace.SpanFromContext(ctx)

	var errs []error
	permanent := true
	for _, p := range f.Providers {
		id, err := p.Send(ctx, msg)
		if err == nil {
			sendsTotal.WithLabelValues(p.Name(), "ok").Inc()
			return id, nil
		}
		sendsTotal.WithLabelValues(p.Name(), "error").Inc()
		span.RecordError(err)
		f.Logger.Warn().Err(err).Str("provider", p.Name()).Str("message_id", msg.ID).Msg("provider send failed")
		errs = append(errs, err)
		if !message.IsPermanent(err) {
			permanent = false
		}
	}
	return "", &message.TransportError{Provider: f.Name(), Permanent: permanent, Err: errors.Join(errs...)}
}
