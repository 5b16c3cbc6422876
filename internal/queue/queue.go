package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/delivery-pipeline/internal/message"
)

// Ref is the payload carried by the queue. It never carries status; the
// worker always re-reads the store.
type Ref struct {
	MessageID  string           `json:"messageId"`
	Priority   message.Priority `json:"priority"`
	Timestamp  time.Time        `json:"timestamp"`
	RetryCount int              `json:"retryCount,omitempty"`
}

func NewRef(msg *message.Message, at time.Time) Ref {
	return Ref{
		MessageID:  msg.ID,
		Priority:   msg.Priority,
		Timestamp:  at.UTC(),
		RetryCount: msg.RetryCount(),
	}
}

// Envelope is one received item. Token redeems it with Ack.
type Envelope struct {
	Ref        Ref
	Token      string
	ReceivedAt time.Time
}

// Queue is an at-least-once hand-off channel. An item that is received but
// not acked becomes receivable again after the visibility window.
type Queue interface {
	Enqueue(ctx context.Context, ref Ref, delay time.Duration) error
	ReceiveBatch(ctx context.Context, max int) ([]Envelope, error)
	// Ack is idempotent: unknown or expired tokens are a no-op.
	Ack(ctx context.Context, token string) error
}

const (
	DefaultVisibility = 30 * time.Second
	MaxBatch          = 10
)

var errEmptyMessageID = errors.New("ref message id is required")

func encodeRef(ref Ref) ([]byte, error) {
	if ref.MessageID == "" {
		return nil, errEmptyMessageID
	}
	return json.Marshal(ref)
}

func decodeRef(body []byte) (Ref, error) {
	var ref Ref
	if err := json.Unmarshal(body, &ref); err != nil {
		return Ref{}, fmt.Errorf("decode ref: %w", err)
	}
	if ref.MessageID == "" {
		return Ref{}, errEmptyMessageID
	}
	return ref, nil
}

func clampBatch(max int) int {
	if max <= 0 || max > MaxBatch {
		return MaxBatch
	}
	return max
}
