package provider

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/example/delivery-pipeline/internal/message"
)

// StdoutProvider logs messages instead of sending them. Used in development.
type StdoutProvider struct {
	Logger zerolog.Logger
}

func (p *StdoutProvider) Name() string { return "stdout" }

func (p *StdoutProvider) Send(ctx context.Context, msg *message.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &message.TransportError{Provider: p.Name(), Err: err}
	}
	id := "mock_" + ulid.Make().String()
	p.Logger.Info().
		Str("message_id", msg.ID).
		Str("provider_message_id", id).
		Str("channel", string(msg.Channel)).
		Strs("to", msg.Recipients).
		Str("subject", msg.Content.Subject).
		Str("template", msg.Content.TemplateName).
		Msg("message sent to stdout")
	return id, nil
}
