package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/delivery-pipeline/internal/message"
)

// Router picks the provider for a message by channel.
type Router struct {
	routes map[message.Channel]Provider
}

func NewRouter(routes map[message.Channel]Provider) *Router {
	return &Router{routes: routes}
}

func (r *Router) Name() string { return "router" }

func (r *Router) Send(ctx context.Context, msg *message.Message) (string, error) {
	p := r.providerForChannel(msg.Channel)
	if p == nil {
		return "", unsupportedChannel(r.Name(), msg.Channel)
	}
	return p.Send(ctx, msg)
}

func (r *Router) providerForChannel(ch message.Channel) Provider {
	if r == nil {
		return nil
	}
	return r.routes[ch]
}

type Config struct {
	Email            []string
	WhatsApp         string
	SESEndpoint      string
	SESAPIKey        string
	SendGridEndpoint string
	SendGridAPIKey   string
	WhatsAppBaseURL  string
	WhatsAppToken    string
	WhatsAppPhoneID  string
	WhatsAppLanguage string
	Client           *http.Client
}

// Build assembles the channel router once at startup.
func Build(cfg Config, logger zerolog.Logger) (*Router, error) {
	email := make([]Provider, 0, len(cfg.Email))
	for _, name := range cfg.Email {
		switch strings.TrimSpace(name) {
		case "ses":
			email = append(email, &SESProvider{Endpoint: cfg.SESEndpoint, APIKey: cfg.SESAPIKey, Client: cfg.Client})
		case "sendgrid":
			email = append(email, &SendGridProvider{Endpoint: cfg.SendGridEndpoint, APIKey: cfg.SendGridAPIKey, Client: cfg.Client})
		case "stdout":
			email = append(email, &StdoutProvider{Logger: logger})
		case "":
		default:
			return nil, fmt.Errorf("unknown email provider %q", name)
		}
	}

	routes := map[message.Channel]Provider{}
	switch len(email) {
	case 0:
	case 1:
		routes[message.ChannelEmail] = email[0]
	default:
		routes[message.ChannelEmail] = &Fallback{Providers: email, Logger: logger}
	}

	switch cfg.WhatsApp {
	case "meta":
		routes[message.ChannelWhatsApp] = &WhatsAppProvider{
			BaseURL:         cfg.WhatsAppBaseURL,
			AccessToken:     cfg.WhatsAppToken,
			PhoneNumberID:   cfg.WhatsAppPhoneID,
			DefaultLanguage: cfg.WhatsAppLanguage,
			Client:          cfg.Client,
		}
	case "stdout":
		routes[message.ChannelWhatsApp] = &StdoutProvider{Logger: logger}
	case "":
	default:
		return nil, fmt.Errorf("unknown whatsapp provider %q", cfg.WhatsApp)
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return NewRouter(routes), nil
}
