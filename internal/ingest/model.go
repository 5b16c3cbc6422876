package ingest

import (
	"time"

	"github.com/example/delivery-pipeline/internal/message"
)

// Request is the submission payload for a single message.
type Request struct {
	Channel          message.Channel  `json:"channel" validate:"required,oneof=email whatsapp"`
	From             message.Address  `json:"from"`
	To               []string         `json:"to" validate:"required,min=1,dive,required"`
	Cc               []string         `json:"cc,omitempty" validate:"omitempty,dive,email"`
	Bcc              []string         `json:"bcc,omitempty" validate:"omitempty,dive,email"`
	Subject          string           `json:"subject,omitempty"`
	HTMLBody         string           `json:"html_body,omitempty"`
	TextBody         string           `json:"text_body,omitempty"`
	TemplateName     string           `json:"template_name,omitempty"`
	TemplateLanguage string           `json:"template_language,omitempty"`
	TemplateParams   []string         `json:"template_params,omitempty"`
	TemplateData     map[string]any   `json:"template_data,omitempty"`
	Priority         message.Priority `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
	LeadID           string           `json:"lead_id,omitempty"`
	CampaignID       string           `json:"campaign_id,omitempty"`
}

func (r Request) draft(id string) message.Draft {
	return message.Draft{
		ID:         id,
		Channel:    r.Channel,
		Sender:     r.From,
		Recipients: r.To,
		Cc:         r.Cc,
		Bcc:        r.Bcc,
		Content: message.Content{
			Subject:          r.Subject,
			HTMLBody:         r.HTMLBody,
			TextBody:         r.TextBody,
			TemplateName:     r.TemplateName,
			TemplateLanguage: r.TemplateLanguage,
			TemplateParams:   r.TemplateParams,
			TemplateData:     r.TemplateData,
		},
		Priority:    r.Priority,
		Correlation: message.CorrelationRef{LeadID: r.LeadID, CampaignID: r.CampaignID},
	}
}

// View is the status projection returned to callers.
type View struct {
	ID                string           `json:"id"`
	Channel           message.Channel  `json:"channel"`
	Status            message.Status   `json:"status"`
	Priority          message.Priority `json:"priority"`
	To                []string         `json:"to"`
	Subject           string           `json:"subject,omitempty"`
	LeadID            string           `json:"lead_id,omitempty"`
	CampaignID        string           `json:"campaign_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	SentAt            *time.Time       `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	RetryCount        int              `json:"retry_count"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
}

func viewOf(m *message.Message) View {
	return View{
		ID:                m.ID,
		Channel:           m.Channel,
		Status:            m.Status(),
		Priority:          m.Priority,
		To:                m.Recipients,
		Subject:           m.Content.Subject,
		LeadID:            m.Correlation.LeadID,
		CampaignID:        m.Correlation.CampaignID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt(),
		SentAt:            m.SentAt(),
		DeliveredAt:       m.DeliveredAt(),
		ErrorMessage:      m.ErrorMessage(),
		RetryCount:        m.RetryCount(),
		ProviderMessageID: m.ProviderMessageID(),
	}
}
