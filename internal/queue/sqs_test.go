package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockSQSClient struct {
	mu       sync.Mutex
	sent     []sqsSend
	inbox    []sqsReceived
	deleted  []string
	recvErr  error
	delErr   error
	lastRecv sqsReceive
}

func (m *mockSQSClient) SendMessage(_ context.Context, in sqsSend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, in)
	return nil
}

func (m *mockSQSClient) ReceiveMessage(_ context.Context, in sqsReceive) ([]sqsReceived, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRecv = in
	if m.recvErr != nil {
		return nil, m.recvErr
	}
	out := m.inbox
	m.inbox = nil
	return out, nil
}

func (m *mockSQSClient) DeleteMessage(_ context.Context, _ string, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	m.deleted = append(m.deleted, receiptHandle)
	return nil
}

func TestSQSQueueEnqueueCapsDelayAndTagsPriority(t *testing.T) {
	mock := &mockSQSClient{}
	q := newSQSQueue(mock, SQSConfig{QueueURL: "https://sqs.local/q"}, zerolog.Nop())

	tests := []struct {
		delay time.Duration
		want  int32
	}{
		{0, 0},
		{200 * time.Millisecond, 1},
		{2 * time.Minute, 120},
		{time.Hour, 900},
	}
	for _, tc := range tests {
		if err := q.Enqueue(context.Background(), Ref{MessageID: "m1", Priority: "high"}, tc.delay); err != nil {
			t.Fatalf("Enqueue(%s): %v", tc.delay, err)
		}
		got := mock.sent[len(mock.sent)-1]
		if got.DelaySeconds != tc.want {
			t.Fatalf("delay %s: DelaySeconds=%d, expected %d", tc.delay, got.DelaySeconds, tc.want)
		}
		if got.Priority != "high" {
			t.Fatalf("priority attribute=%q", got.Priority)
		}
	}
}

func TestSQSQueueReceiveDropsMalformed(t *testing.T) {
	mock := &mockSQSClient{inbox: []sqsReceived{
		{MessageID: "1", ReceiptHandle: "rh-1", Body: `{"messageId":"m1","priority":"normal"}`},
		{MessageID: "2", ReceiptHandle: "rh-2", Body: `garbage`},
		{MessageID: "3", ReceiptHandle: "rh-3", Body: `{"messageId":"m3"}`, Priority: "low"},
	}}
	q := newSQSQueue(mock, SQSConfig{QueueURL: "q", Wait: 5 * time.Second, Visibility: 45 * time.Second}, zerolog.Nop())

	got, err := q.ReceiveBatch(context.Background(), 50)
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(got))
	}
	if got[0].Token != "rh-1" || got[1].Ref.Priority != "low" {
		t.Fatalf("unexpected envelopes: %+v", got)
	}
	if len(mock.deleted) != 1 || mock.deleted[0] != "rh-2" {
		t.Fatalf("expected malformed message deleted, got %v", mock.deleted)
	}
	if mock.lastRecv.MaxMessages != 10 || mock.lastRecv.WaitSeconds != 5 || mock.lastRecv.VisibilitySeconds != 45 {
		t.Fatalf("unexpected receive input: %+v", mock.lastRecv)
	}
}

func TestSQSQueueAckIsIdempotent(t *testing.T) {
	mock := &mockSQSClient{delErr: errReceiptInvalid}
	q := newSQSQueue(mock, SQSConfig{QueueURL: "q"}, zerolog.Nop())

	if err := q.Ack(context.Background(), "expired"); err != nil {
		t.Fatalf("expected invalid receipt to be a no-op, got %v", err)
	}

	mock.delErr = errors.New("network down")
	if err := q.Ack(context.Background(), "rh"); err == nil {
		t.Fatalf("expected transport error to surface")
	}
}

func TestSQSQueueReceiveError(t *testing.T) {
	mock := &mockSQSClient{recvErr: errors.New("throttled")}
	q := newSQSQueue(mock, SQSConfig{QueueURL: "q"}, zerolog.Nop())
	if _, err := q.ReceiveBatch(context.Background(), 10); err == nil {
		t.Fatalf("expected receive error")
	}
}
