package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-pipeline/internal/message"
)

type Event struct {
	MessageID         string    `json:"message_id"`
	Status            string    `json:"status"`
	Channel           string    `json:"channel"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	LeadID            string    `json:"lead_id,omitempty"`
	CampaignID        string    `json:"campaign_id,omitempty"`
	RetryCount        int       `json:"retry_count"`
	Reason            string    `json:"reason,omitempty"`
	EmittedAt         time.Time `json:"emitted_at"`
}

func FromMessage(msg *message.Message) Event {
	return Event{
		MessageID:         msg.ID,
		Status:            string(msg.Status()),
		Channel:           string(msg.Channel),
		ProviderMessageID: msg.ProviderMessageID(),
		LeadID:            msg.Correlation.LeadID,
		CampaignID:        msg.Correlation.CampaignID,
		RetryCount:        msg.RetryCount(),
		Reason:            msg.ErrorMessage(),
		EmittedAt:         time.Now().UTC(),
	}
}

// Publisher fans lifecycle changes out to downstream consumers. DeadLetter
// is the alerting path for messages whose retries are exhausted.
type Publisher interface {
	Emit(ctx context.Context, ev Event) error
	DeadLetter(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) error       { return nil }
func (Nop) DeadLetter(context.Context, Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	events messageWriter
	dlq    messageWriter
}

func NewKafkaPublisher(brokers []string, eventsTopic, dlqTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		events: newWriter(brokers, eventsTopic),
		dlq:    newWriter(brokers, dlqTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

func (p *KafkaPublisher) Emit(ctx context.Context, ev Event) error {
	return write(ctx, p.events, ev)
}

func (p *KafkaPublisher) DeadLetter(ctx context.Context, ev Event) error {
	return write(ctx, p.dlq, ev)
}

func (p *KafkaPublisher) Close() error {
	var firstErr error
	for _, w := range []messageWriter{p.events, p.dlq} {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func write(ctx context.Context, w messageWriter, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.MessageID), Value: payload}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
