package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/delivery-pipeline/internal/message"
)

type memoryItem struct {
	seq         uint64
	ref         Ref
	availableAt time.Time
	receipt     int
}

// MemoryQueue is a single-process queue with the same visibility and delay
// semantics as the durable implementations.
type MemoryQueue struct {
	mu         sync.Mutex
	items      map[uint64]*memoryItem
	seq        uint64
	visibility time.Duration
	now        func() time.Time
}

type MemoryOption func(*MemoryQueue)

func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

func WithVisibility(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.visibility = d }
}

func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		items:      make(map[uint64]*memoryItem),
		visibility: DefaultVisibility,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, ref Ref, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return &message.QueueError{Op: "enqueue", Err: err}
	}
	if ref.MessageID == "" {
		return &message.QueueError{Op: "enqueue", Err: errEmptyMessageID}
	}
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items[q.seq] = &memoryItem{seq: q.seq, ref: ref, availableAt: q.now().Add(delay)}
	enqueuedTotal.WithLabelValues("memory").Inc()
	return nil
}

func (q *MemoryQueue) ReceiveBatch(ctx context.Context, max int) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, &message.QueueError{Op: "receive", Err: err}
	}
	max = clampBatch(max)

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	ready := make([]*memoryItem, 0, len(q.items))
	for _, it := range q.items {
		if !it.availableAt.After(now) {
			ready = append(ready, it)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
	if len(ready) > max {
		ready = ready[:max]
	}

	out := make([]Envelope, 0, len(ready))
	for _, it := range ready {
		it.receipt++
		it.availableAt = now.Add(q.visibility)
		out = append(out, Envelope{
			Ref:        it.ref,
			Token:      fmt.Sprintf("%d:%d", it.seq, it.receipt),
			ReceivedAt: now,
		})
	}
	receivedTotal.WithLabelValues("memory").Add(float64(len(out)))
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, token string) error {
	seq, receipt, ok := parseToken(token)
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.items[seq]; ok && it.receipt == receipt {
		delete(q.items, seq)
		ackedTotal.WithLabelValues("memory").Inc()
	}
	return nil
}

// Len reports items not yet acked, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func parseToken(token string) (uint64, int, bool) {
	seqPart, receiptPart, found := strings.Cut(token, ":")
	if !found {
		return 0, 0, false
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	receipt, err := strconv.Atoi(receiptPart)
	if err != nil {
		return 0, 0, false
	}
	return seq, receipt, true
}
