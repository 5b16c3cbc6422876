package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-pipeline/internal/message"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func TestKafkaPublisherRoutesByKind(t *testing.T) {
	events, dlq := &captureWriter{}, &captureWriter{}
	p := &KafkaPublisher{events: events, dlq: dlq}

	m, err := message.New(message.Draft{ID: "m1", Channel: message.ChannelEmail, Correlation: message.CorrelationRef{LeadID: "l1"}})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	_ = m.MarkSent("p-1")

	if err := p.Emit(context.Background(), FromMessage(m)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := p.DeadLetter(context.Background(), Event{MessageID: "m2", Status: "failed"}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	if len(events.msgs) != 1 || len(dlq.msgs) != 1 {
		t.Fatalf("events=%d dlq=%d, expected 1 each", len(events.msgs), len(dlq.msgs))
	}
	if string(events.msgs[0].Key) != "m1" {
		t.Fatalf("key=%s", events.msgs[0].Key)
	}

	var got Event
	if err := json.Unmarshal(events.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "sent" || got.ProviderMessageID != "p-1" || got.LeadID != "l1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	cause := errors.New("broker down")
	p := &KafkaPublisher{events: &captureWriter{err: cause}, dlq: &captureWriter{}}
	if err := p.Emit(context.Background(), Event{MessageID: "m1"}); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}
