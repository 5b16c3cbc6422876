package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/delivery-pipeline/internal/message"
)

// maxSQSDelay is the SQS DelaySeconds ceiling.
const maxSQSDelay = 15 * time.Minute

type SQSConfig struct {
	QueueURL   string
	Region     string
	Endpoint   string
	Wait       time.Duration
	Visibility time.Duration
}

// SQSQueue uses the receipt handle as the redemption token and
// DelaySeconds for delayed re-enqueue.
type SQSQueue struct {
	api sqsAPI
	cfg SQSConfig
	log zerolog.Logger
}

func NewSQSQueue(ctx context.Context, cfg SQSConfig, log zerolog.Logger) (*SQSQueue, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	client, err := newAWSSQSClient(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return newSQSQueue(client, cfg, log), nil
}

func newSQSQueue(api sqsAPI, cfg SQSConfig, log zerolog.Logger) *SQSQueue {
	if cfg.Visibility <= 0 {
		cfg.Visibility = DefaultVisibility
	}
	return &SQSQueue{api: api, cfg: cfg, log: log}
}

func (q *SQSQueue) Enqueue(ctx context.Context, ref Ref, delay time.Duration) error {
	body, err := encodeRef(ref)
	if err != nil {
		return &message.QueueError{Op: "enqueue", Err: err}
	}
	if err := q.api.SendMessage(ctx, sqsSend{
		QueueURL:     q.cfg.QueueURL,
		Body:         string(body),
		DelaySeconds: delaySeconds(delay),
		Priority:     string(ref.Priority),
	}); err != nil {
		return &message.QueueError{Op: "enqueue", Err: err}
	}
	enqueuedTotal.WithLabelValues("sqs").Inc()
	return nil
}

func (q *SQSQueue) ReceiveBatch(ctx context.Context, max int) ([]Envelope, error) {
	received, err := q.api.ReceiveMessage(ctx, sqsReceive{
		QueueURL:          q.cfg.QueueURL,
		MaxMessages:       int32(clampBatch(max)),
		WaitSeconds:       int32(q.cfg.Wait / time.Second),
		VisibilitySeconds: int32(q.cfg.Visibility / time.Second),
	})
	if err != nil {
		return nil, &message.QueueError{Op: "receive", Err: err}
	}

	now := time.Now()
	out := make([]Envelope, 0, len(received))
	for _, m := range received {
		ref, err := decodeRef([]byte(m.Body))
		if err != nil {
			q.log.Error().Err(err).Str("sqs_message_id", m.MessageID).Msg("dropping malformed queue item")
			malformedTotal.WithLabelValues("sqs").Inc()
			_ = q.Ack(ctx, m.ReceiptHandle)
			continue
		}
		if ref.Priority == "" && m.Priority != "" {
			ref.Priority = message.Priority(m.Priority)
		}
		out = append(out, Envelope{Ref: ref, Token: m.ReceiptHandle, ReceivedAt: now})
	}
	receivedTotal.WithLabelValues("sqs").Add(float64(len(out)))
	return out, nil
}

func (q *SQSQueue) Ack(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := q.api.DeleteMessage(ctx, q.cfg.QueueURL, token)
	if errors.Is(err, errReceiptInvalid) {
		return nil
	}
	if err != nil {
		return &message.QueueError{Op: "ack", Err: err}
	}
	ackedTotal.WithLabelValues("sqs").Inc()
	return nil
}

func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > maxSQSDelay {
		d = maxSQSDelay
	}
	secs := int32(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
