package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/delivery-pipeline/internal/message"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryQueueVisibilityWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(WithClock(clock.Now), WithVisibility(10*time.Second))

	if err := q.Enqueue(ctx, Ref{MessageID: "m1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.ReceiveBatch(ctx, 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one envelope, got %d (%v)", len(first), err)
	}

	hidden, _ := q.ReceiveBatch(ctx, 10)
	if len(hidden) != 0 {
		t.Fatalf("expected item to be invisible, got %d", len(hidden))
	}

	clock.Advance(11 * time.Second)
	again, _ := q.ReceiveBatch(ctx, 10)
	if len(again) != 1 {
		t.Fatalf("expected redelivery after visibility window, got %d", len(again))
	}
	if again[0].Token == first[0].Token {
		t.Fatalf("expected a fresh token on redelivery")
	}

	// stale token from the first receipt must not remove the item
	if err := q.Ack(ctx, first[0].Token); err != nil {
		t.Fatalf("ack stale: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("stale ack removed the item")
	}

	if err := q.Ack(ctx, again[0].Token); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Ack(ctx, again[0].Token); err != nil {
		t.Fatalf("second ack should be a no-op: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestMemoryQueueDelay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(WithClock(clock.Now))

	if err := q.Enqueue(ctx, Ref{MessageID: "m1"}, time.Minute); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got, _ := q.ReceiveBatch(ctx, 10); len(got) != 0 {
		t.Fatalf("delayed item delivered early")
	}
	clock.Advance(time.Minute)
	if got, _ := q.ReceiveBatch(ctx, 10); len(got) != 1 {
		t.Fatalf("expected delayed item after delay, got %d", len(got))
	}
}

func TestMemoryQueueBatchOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, Ref{MessageID: id}, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	got, _ := q.ReceiveBatch(ctx, 2)
	if len(got) != 2 || got[0].Ref.MessageID != "a" || got[1].Ref.MessageID != "b" {
		t.Fatalf("unexpected batch: %+v", got)
	}
}

func TestMemoryQueueRejectsEmptyRef(t *testing.T) {
	if err := NewMemoryQueue().Enqueue(context.Background(), Ref{}, 0); err == nil {
		t.Fatalf("expected error for empty message id")
	}
}

func TestAckIgnoresGarbageTokens(t *testing.T) {
	q := NewMemoryQueue()
	for _, token := range []string{"", "nope", "x:1", "1:y"} {
		if err := q.Ack(context.Background(), token); err != nil {
			t.Fatalf("Ack(%q) returned %v", token, err)
		}
	}
}

func TestMemoryQueueErrorsAreQueueErrors(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var qerr *message.QueueError
	if err := q.Enqueue(ctx, Ref{MessageID: "m1"}, 0); !errors.As(err, &qerr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("enqueue: expected wrapped cancellation, got %v", err)
	}
	if _, err := q.ReceiveBatch(ctx, 10); !errors.As(err, &qerr) || qerr.Op != "receive" {
		t.Fatalf("receive: expected QueueError, got %v", err)
	}
	if err := q.Enqueue(context.Background(), Ref{}, 0); !errors.As(err, &qerr) || !errors.Is(err, errEmptyMessageID) {
		t.Fatalf("empty ref: expected QueueError, got %v", err)
	}
}
