package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/delivery-pipeline/internal/message"
)

// claimScript hides up to ARGV[2] ready items until ARGV[3] and bumps their
// receipt counters. Returns flat triples of id, receipt, body.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZADD', KEYS[1], ARGV[3], id)
  local receipt = redis.call('HINCRBY', KEYS[3], id, 1)
  local body = redis.call('HGET', KEYS[2], id)
  table.insert(out, id)
  table.insert(out, tostring(receipt))
  table.insert(out, body or '')
end
return out
`)

// ackScript removes an item only if the token's receipt is still current.
var ackScript = redis.NewScript(`
local receipt = redis.call('HGET', KEYS[3], ARGV[1])
if receipt == ARGV[2] then
  redis.call('ZREM', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
  redis.call('HDEL', KEYS[3], ARGV[1])
  return 1
end
return 0
`)

// RedisQueue keeps item ids in a sorted set scored by the time they become
// receivable, so delays and visibility windows are the same mechanism.
type RedisQueue struct {
	client     redis.UniversalClient
	prefix     string
	visibility time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewRedisQueue(client redis.UniversalClient, prefix string, visibility time.Duration, log zerolog.Logger) *RedisQueue {
	if prefix == "" {
		prefix = "delivery"
	}
	if visibility <= 0 {
		visibility = DefaultVisibility
	}
	return &RedisQueue{
		client:     client,
		prefix:     prefix,
		visibility: visibility,
		now:        time.Now,
		log:        log,
	}
}

func (q *RedisQueue) readyKey() string    { return q.prefix + ":ready" }
func (q *RedisQueue) itemsKey() string    { return q.prefix + ":items" }
func (q *RedisQueue) receiptsKey() string { return q.prefix + ":receipts" }
func (q *RedisQueue) seqKey() string      { return q.prefix + ":seq" }

func (q *RedisQueue) keys() []string {
	return []string{q.readyKey(), q.itemsKey(), q.receiptsKey()}
}

func (q *RedisQueue) Enqueue(ctx context.Context, ref Ref, delay time.Duration) error {
	body, err := encodeRef(ref)
	if err != nil {
		return &message.QueueError{Op: "enqueue", Err: err}
	}
	if delay < 0 {
		delay = 0
	}

	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return &message.QueueError{Op: "enqueue", Err: err}
	}
	id := strconv.FormatInt(seq, 10)
	availableAt := q.now().Add(delay).UnixMilli()

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.itemsKey(), id, body)
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: float64(availableAt), Member: id})
		return nil
	})
	if err != nil {
		return &message.QueueError{Op: "enqueue", Err: err}
	}
	enqueuedTotal.WithLabelValues("redis").Inc()
	return nil
}

func (q *RedisQueue) ReceiveBatch(ctx context.Context, max int) ([]Envelope, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.client, q.keys(),
		now.UnixMilli(), clampBatch(max), now.Add(q.visibility).UnixMilli(),
	).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, &message.QueueError{Op: "receive", Err: err}
	}

	out := make([]Envelope, 0, len(res)/3)
	for i := 0; i+2 < len(res); i += 3 {
		id, receipt, body := res[i], res[i+1], res[i+2]
		token := id + ":" + receipt
		ref, err := decodeRef([]byte(body))
		if err != nil {
			q.log.Error().Err(err).Str("item_id", id).Msg("dropping malformed queue item")
			malformedTotal.WithLabelValues("redis").Inc()
			_ = q.Ack(ctx, token)
			continue
		}
		out = append(out, Envelope{Ref: ref, Token: token, ReceivedAt: now})
	}
	receivedTotal.WithLabelValues("redis").Add(float64(len(out)))
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, token string) error {
	id, receipt, found := strings.Cut(token, ":")
	if !found {
		return nil
	}
	removed, err := ackScript.Run(ctx, q.client, q.keys(), id, receipt).Int()
	if err != nil {
		return &message.QueueError{Op: "ack", Err: fmt.Errorf("token %s: %w", token, err)}
	}
	if removed == 1 {
		ackedTotal.WithLabelValues("redis").Inc()
	}
	return nil
}
