package message

import "time"

// Record is the flat persisted form of a Message. Stores convert through
// Record so lifecycle fields can be rehydrated without exposing setters.
type Record struct {
	ID                string
	Channel           Channel
	Sender            Address
	Recipients        []string
	Cc                []string
	Bcc               []string
	Content           Content
	Priority          Priority
	Correlation       CorrelationRef
	Status            Status
	RetryCount        int
	ErrorMessage      string
	ProviderMessageID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
}

func (m *Message) Record() Record {
	return Record{
		ID:                m.ID,
		Channel:           m.Channel,
		Sender:            m.Sender,
		Recipients:        append([]string(nil), m.Recipients...),
		Cc:                append([]string(nil), m.Cc...),
		Bcc:               append([]string(nil), m.Bcc...),
		Content:           cloneContent(m.Content),
		Priority:          m.Priority,
		Correlation:       m.Correlation,
		Status:            m.status,
		RetryCount:        m.retryCount,
		ErrorMessage:      m.errorMessage,
		ProviderMessageID: m.providerMessageID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.updatedAt,
		SentAt:            cloneTime(m.sentAt),
		DeliveredAt:       cloneTime(m.deliveredAt),
	}
}

func FromRecord(r Record) *Message {
	return &Message{
		ID:                r.ID,
		Channel:           r.Channel,
		Sender:            r.Sender,
		Recipients:        append([]string(nil), r.Recipients...),
		Cc:                append([]string(nil), r.Cc...),
		Bcc:               append([]string(nil), r.Bcc...),
		Content:           cloneContent(r.Content),
		Priority:          r.Priority,
		Correlation:       r.Correlation,
		CreatedAt:         r.CreatedAt,
		status:            r.Status,
		retryCount:        r.RetryCount,
		errorMessage:      r.ErrorMessage,
		providerMessageID: r.ProviderMessageID,
		updatedAt:         r.UpdatedAt,
		sentAt:            cloneTime(r.SentAt),
		deliveredAt:       cloneTime(r.DeliveredAt),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneContent(c Content) Content {
	out := c
	out.TemplateParams = append([]string(nil), c.TemplateParams...)
	if c.TemplateData != nil {
		out.TemplateData = make(map[string]any, len(c.TemplateData))
		for k, v := range c.TemplateData {
			out.TemplateData[k] = v
		}
	}
	return out
}
