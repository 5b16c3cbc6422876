package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/delivery-pipeline/internal/message"
	"github.com/example/delivery-pipeline/internal/queue"
	"github.com/example/delivery-pipeline/internal/store"
)

func TestReconcilerRequeuesStrandedMessages(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue()

	newMsg := func(id string) *message.Message {
		m, err := message.New(message.Draft{
			ID:         id,
			Channel:    message.ChannelEmail,
			Sender:     message.Address{Email: "from@x.com"},
			Recipients: []string{"a@x.com"},
			Content:    message.Content{Subject: "S", TextBody: "B"},
		})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		return m
	}

	// pending with no queue entry
	pending := newMsg("pending")
	if err := st.Save(ctx, pending); err != nil {
		t.Fatalf("save: %v", err)
	}

	// failed with retries left and no queue entry
	failed := newMsg("failed")
	_ = failed.MarkFailed("timeout")
	_ = failed.IncrementRetry()
	if err := st.Save(ctx, failed); err != nil {
		t.Fatalf("save: %v", err)
	}

	// exhausted failures are left alone
	dead := newMsg("dead")
	for i := 0; i < message.MaxRetries; i++ {
		_ = dead.MarkFailed("timeout")
		_ = dead.IncrementRetry()
		if i < message.MaxRetries-1 {
			_ = dead.Requeue()
		}
	}
	if err := st.Save(ctx, dead); err != nil {
		t.Fatalf("save: %v", err)
	}

	r := &Reconciler{
		Store:      st,
		Queue:      q,
		StaleAfter: 30 * time.Minute,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Now().Add(time.Hour) },
	}
	n, err := r.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n != 2 {
		t.Fatalf("requeued=%d, expected 2", n)
	}
	if q.Len() != 2 {
		t.Fatalf("queue len=%d, expected 2", q.Len())
	}

	got, _ := st.FindByID(ctx, "failed")
	if got.Status() != message.StatusPending || got.RetryCount() != 1 {
		t.Fatalf("failed message not requeued: status=%s retries=%d", got.Status(), got.RetryCount())
	}
	got, _ = st.FindByID(ctx, "dead")
	if got.Status() != message.StatusFailed {
		t.Fatalf("exhausted message touched: %s", got.Status())
	}
}

func TestReconcilerIgnoresFreshMessages(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue()

	m, _ := message.New(message.Draft{
		ID:         "fresh",
		Channel:    message.ChannelEmail,
		Sender:     message.Address{Email: "from@x.com"},
		Recipients: []string{"a@x.com"},
	})
	if err := st.Save(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	r := &Reconciler{Store: st, Queue: q, StaleAfter: 30 * time.Minute, Logger: zerolog.Nop()}
	n, err := r.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n != 0 || q.Len() != 0 {
		t.Fatalf("fresh message should not be requeued")
	}
}
