package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/delivery-pipeline/internal/message"
)

type SendGridProvider struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (p *SendGridProvider) Name() string { return "sendgrid" }

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (p *SendGridProvider) Send(ctx context.Context, msg *message.Message) (string, error) {
	if msg.Channel != message.ChannelEmail {
		return "", unsupportedChannel(p.Name(), msg.Channel)
	}

	personalization := map[string]any{"to": sgAddresses(msg.Recipients)}
	if len(msg.Cc) > 0 {
		personalization["cc"] = sgAddresses(msg.Cc)
	}
	if len(msg.Bcc) > 0 {
		personalization["bcc"] = sgAddresses(msg.Bcc)
	}
	if len(msg.Content.TemplateData) > 0 {
		personalization["dynamic_template_data"] = msg.Content.TemplateData
	}

	payload := map[string]any{
		"from":             sgAddress{Email: msg.Sender.Email, Name: msg.Sender.Name},
		"subject":          msg.Content.Subject,
		"personalizations": []any{personalization},
		"custom_args": map[string]string{
			"email_id":    msg.ID,
			"lead_id":     msg.Correlation.LeadID,
			"campaign_id": msg.Correlation.CampaignID,
		},
	}
	if msg.Content.TemplateName != "" {
		payload["template_id"] = msg.Content.TemplateName
	} else {
		var content []map[string]string
		if msg.Content.TextBody != "" {
			content = append(content, map[string]string{"type": "text/plain", "value": msg.Content.TextBody})
		}
		if msg.Content.HTMLBody != "" {
			content = append(content, map[string]string{"type": "text/html", "value": msg.Content.HTMLBody})
		}
		payload["content"] = content
	}

	headers, err := postJSON(ctx, p.Client, p.Name(), p.Endpoint+"/mail/send",
		map[string]string{"Authorization": "Bearer " + p.APIKey}, payload, nil)
	if err != nil {
		return "", err
	}
	id := headers.Get("X-Message-Id")
	if id == "" {
		return "", &message.TransportError{Provider: p.Name(), Err: errors.New("response missing X-Message-Id")}
	}
	return id, nil
}

func sgAddresses(emails []string) []sgAddress {
	out := make([]sgAddress, 0, len(emails))
	for _, e := range emails {
		out = append(out, sgAddress{Email: e})
	}
	return out
}
