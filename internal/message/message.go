package message

import (
	"fmt"
	"time"
)

// MaxRetries bounds the number of failed delivery attempts per message.
const MaxRetries = 3

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Content struct {
	Subject          string         `json:"subject,omitempty"`
	HTMLBody         string         `json:"html_body,omitempty"`
	TextBody         string         `json:"text_body,omitempty"`
	TemplateName     string         `json:"template_name,omitempty"`
	TemplateLanguage string         `json:"template_language,omitempty"`
	TemplateParams   []string       `json:"template_params,omitempty"`
	TemplateData     map[string]any `json:"template_data,omitempty"`
}

type CorrelationRef struct {
	LeadID     string `json:"lead_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
}

func (c CorrelationRef) Empty() bool {
	return c.LeadID == "" && c.CampaignID == ""
}

// Draft carries the immutable parts of a message at construction time.
type Draft struct {
	ID          string
	Channel     Channel
	Sender      Address
	Recipients  []string
	Cc          []string
	Bcc         []string
	Content     Content
	Priority    Priority
	Correlation CorrelationRef
}

// Message is the unit of delivery work. Lifecycle fields change only
// through the named transitions below.
type Message struct {
	ID          string
	Channel     Channel
	Sender      Address
	Recipients  []string
	Cc          []string
	Bcc         []string
	Content     Content
	Priority    Priority
	Correlation CorrelationRef
	CreatedAt   time.Time

	status            Status
	retryCount        int
	errorMessage      string
	providerMessageID string
	updatedAt         time.Time
	sentAt            *time.Time
	deliveredAt       *time.Time
}

var now = func() time.Time { return time.Now().UTC() }

func New(d Draft) (*Message, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("new message: %w", ErrMissingID)
	}
	if d.Priority == "" {
		d.Priority = PriorityNormal
	}
	if !d.Priority.Valid() {
		return nil, fmt.Errorf("new message: unknown priority %q", d.Priority)
	}
	ts := now()
	return &Message{
		ID:          d.ID,
		Channel:     d.Channel,
		Sender:      d.Sender,
		Recipients:  append([]string(nil), d.Recipients...),
		Cc:          append([]string(nil), d.Cc...),
		Bcc:         append([]string(nil), d.Bcc...),
		Content:     d.Content,
		Priority:    d.Priority,
		Correlation: d.Correlation,
		CreatedAt:   ts,
		status:      StatusPending,
		updatedAt:   ts,
	}, nil
}

func (m *Message) Status() Status            { return m.status }
func (m *Message) RetryCount() int           { return m.retryCount }
func (m *Message) ErrorMessage() string      { return m.errorMessage }
func (m *Message) ProviderMessageID() string { return m.providerMessageID }
func (m *Message) UpdatedAt() time.Time      { return m.updatedAt }
func (m *Message) SentAt() *time.Time        { return m.sentAt }
func (m *Message) DeliveredAt() *time.Time   { return m.deliveredAt }

func (m *Message) MarkSent(providerMessageID string) error {
	if err := m.expect(StatusPending, StatusSent); err != nil {
		return err
	}
	ts := now()
	m.status = StatusSent
	m.providerMessageID = providerMessageID
	m.errorMessage = ""
	m.sentAt = &ts
	m.updatedAt = ts
	return nil
}

func (m *Message) MarkFailed(reason string) error {
	if err := m.expect(StatusPending, StatusFailed); err != nil {
		return err
	}
	m.status = StatusFailed
	m.errorMessage = reason
	m.updatedAt = now()
	return nil
}

// IncrementRetry records one failed attempt. It is only valid right after
// MarkFailed and never past MaxRetries.
func (m *Message) IncrementRetry() error {
	if m.status != StatusFailed {
		return fmt.Errorf("increment retry in status %s: %w", m.status, ErrInvalidTransition)
	}
	if m.retryCount >= MaxRetries {
		return ErrRetryExhausted
	}
	m.retryCount++
	m.updatedAt = now()
	return nil
}

func (m *Message) CanRetry() bool {
	return m.status == StatusFailed && m.retryCount < MaxRetries
}

// Requeue moves a retryable failed message back to pending so the next
// delivery of its queue reference is acted on.
func (m *Message) Requeue() error {
	if m.status != StatusFailed {
		return fmt.Errorf("requeue in status %s: %w", m.status, ErrInvalidTransition)
	}
	if !m.CanRetry() {
		return ErrRetryExhausted
	}
	m.status = StatusPending
	m.updatedAt = now()
	return nil
}

func (m *Message) MarkDelivered() error {
	if err := m.expect(StatusSent, StatusDelivered); err != nil {
		return err
	}
	ts := now()
	m.status = StatusDelivered
	m.deliveredAt = &ts
	m.updatedAt = ts
	return nil
}

func (m *Message) MarkBounced(reason string) error {
	if err := m.expect(StatusSent, StatusBounced); err != nil {
		return err
	}
	m.status = StatusBounced
	m.errorMessage = reason
	m.updatedAt = now()
	return nil
}

func (m *Message) Touch() {
	m.updatedAt = now()
}

func (m *Message) Terminal() bool {
	switch m.status {
	case StatusDelivered, StatusBounced:
		return true
	case StatusFailed:
		return !m.CanRetry()
	}
	return false
}

func (m *Message) expect(from, to Status) error {
	if m.status != from {
		return fmt.Errorf("%s -> %s: %w", m.status, to, ErrInvalidTransition)
	}
	return nil
}
