package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/delivery-pipeline/internal/message"
)

type SESProvider struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func (p *SESProvider) Name() string { return "ses" }

type sesTag struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

func (p *SESProvider) Send(ctx context.Context, msg *message.Message) (string, error) {
	if msg.Channel != message.ChannelEmail {
		return "", unsupportedChannel(p.Name(), msg.Channel)
	}

	source := msg.Sender.Email
	if msg.Sender.Name != "" {
		source = msg.Sender.Name + " <" + msg.Sender.Email + ">"
	}
	body := map[string]any{}
	if msg.Content.HTMLBody != "" {
		body["Html"] = map[string]string{"Data": msg.Content.HTMLBody, "Charset": "UTF-8"}
	}
	if msg.Content.TextBody != "" {
		body["Text"] = map[string]string{"Data": msg.Content.TextBody, "Charset": "UTF-8"}
	}

	payload := map[string]any{
		"Source": source,
		"Destination": map[string]any{
			"ToAddresses":  msg.Recipients,
			"CcAddresses":  msg.Cc,
			"BccAddresses": msg.Bcc,
		},
		"Message": map[string]any{
			"Subject": map[string]string{"Data": msg.Content.Subject, "Charset": "UTF-8"},
			"Body":    body,
		},
		"Tags": sesTags(msg),
	}

	var out struct {
		MessageID string `json:"MessageId"`
	}
	if _, err := postJSON(ctx, p.Client, p.Name(), p.Endpoint+"/send", map[string]string{"X-API-Key": p.APIKey}, payload, &out); err != nil {
		return "", err
	}
	if out.MessageID == "" {
		return "", &message.TransportError{Provider: p.Name(), Err: errors.New("response missing MessageId")}
	}
	return out.MessageID, nil
}

func sesTags(msg *message.Message) []sesTag {
	tags := []sesTag{
		{Name: "EmailId", Value: msg.ID},
		{Name: "Priority", Value: string(msg.Priority)},
	}
	if msg.Correlation.LeadID != "" {
		tags = append(tags, sesTag{Name: "LeadId", Value: msg.Correlation.LeadID})
	}
	if msg.Correlation.CampaignID != "" {
		tags = append(tags, sesTag{Name: "CampaignId", Value: msg.Correlation.CampaignID})
	}
	return tags
}
