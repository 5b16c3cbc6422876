package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/delivery-pipeline/internal/message"
)

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// WhatsAppProvider sends through the Meta Cloud API.
type WhatsAppProvider struct {
	BaseURL         string
	AccessToken     string
	PhoneNumberID   string
	DefaultLanguage string
	Client          *http.Client
}

func (p *WhatsAppProvider) Name() string { return "whatsapp" }

type waParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waComponent struct {
	Type       string        `json:"type"`
	Parameters []waParameter `json:"parameters,omitempty"`
}

type waTemplate struct {
	Name       string            `json:"name"`
	Language   map[string]string `json:"language"`
	Components []waComponent     `json:"components,omitempty"`
}

func (p *WhatsAppProvider) Send(ctx context.Context, msg *message.Message) (string, error) {
	if msg.Channel != message.ChannelWhatsApp {
		return "", unsupportedChannel(p.Name(), msg.Channel)
	}
	if len(msg.Recipients) == 0 {
		return "", &message.TransportError{Provider: p.Name(), Permanent: true, Err: errors.New("no recipient")}
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(msg.Recipients[0], "+"),
	}
	if msg.Content.TemplateName != "" {
		payload["type"] = "template"
		payload["template"] = p.template(msg.Content)
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": msg.Content.TextBody}
	}

	base := p.BaseURL
	if base == "" {
		base = defaultGraphURL
	}
	url := fmt.Sprintf("%s/%s/messages", strings.TrimSuffix(base, "/"), p.PhoneNumberID)

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if _, err := postJSON(ctx, p.Client, p.Name(), url,
		map[string]string{"Authorization": "Bearer " + p.AccessToken}, payload, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", &message.TransportError{Provider: p.Name(), Err: errors.New("response missing message id")}
	}
	return out.Messages[0].ID, nil
}

func (p *WhatsAppProvider) template(c message.Content) waTemplate {
	lang := c.TemplateLanguage
	if lang == "" {
		lang = p.DefaultLanguage
	}
	if lang == "" {
		lang = "en_US"
	}
	t := waTemplate{Name: c.TemplateName, Language: map[string]string{"code": lang}}
	if len(c.TemplateParams) > 0 {
		params := make([]waParameter, 0, len(c.TemplateParams))
		for _, v := range c.TemplateParams {
			params = append(params, waParameter{Type: "text", Text: v})
		}
		t.Components = []waComponent{{Type: "body", Parameters: params}}
	}
	return t
}
