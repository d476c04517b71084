package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	redisadapter "github.com/goliatone/go-job/queue/adapters/redis"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "inbox:queue"

// RedisClient exposes a go-redis client through the command set the go-job
// redis storage runs on. Missing keys and fields read as empty values.
type RedisClient struct {
	client redis.UniversalClient
}

func NewRedisClient(client redis.UniversalClient) *RedisClient {
	return &RedisClient{client: client}
}

func (c *RedisClient) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}
	return c.client.HSet(ctx, key, args...).Err()
}

func (c *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

func (c *RedisClient) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := c.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *RedisClient) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.client.HDel(ctx, key, fields...).Err()
}

func (c *RedisClient) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return c.client.LPush(ctx, key, toArgs(values)...).Err()
}

func (c *RedisClient) RPop(ctx context.Context, key string) (string, error) {
	value, err := c.client.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *RedisClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *RedisClient) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return c.client.ZRem(ctx, key, toArgs(members)...).Err()
}

func (c *RedisClient) ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]redisadapter.ZItem, error) {
	entries, err := c.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(max, 'f', -1, 64),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	items := make([]redisadapter.ZItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, redisadapter.ZItem{Member: fmt.Sprint(entry.Member), Score: entry.Score})
	}
	return items, nil
}

// Eval runs a script. A nil script reply is returned as a nil value.
func (c *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	value, err := c.client.Eval(ctx, script, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (c *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func toArgs(values []string) []any {
	out := make([]any, len(values))
	for i, value := range values {
		out[i] = value
	}
	return out
}

// RedisQueue is a durable lane backed by the go-job redis storage. Leases
// that expire without an ack or nack are released back to the ready list on
// a later dequeue, so tasks held by a crashed worker are redelivered.
type RedisQueue struct {
	adapter           *redisadapter.Adapter
	client            *RedisClient
	prefix            string
	lane              string
	visibilityTimeout time.Duration
	pollInterval      time.Duration
	pollTimeout       time.Duration
	now               func() time.Time
}

type RedisOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			q.prefix = trimmed
		}
	}
}

// WithPolling sets how often an empty lane is re-checked and how long
// Dequeue keeps checking before it returns a nil delivery.
func WithPolling(interval time.Duration, timeout time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if interval > 0 {
			q.pollInterval = interval
		}
		if timeout > 0 {
			q.pollTimeout = timeout
		}
	}
}

// WithVisibilityTimeout sets how long a dequeued task stays leased before
// another worker may receive it.
func WithVisibilityTimeout(timeout time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if timeout > 0 {
			q.visibilityTimeout = timeout
		}
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(q *RedisQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewRedisQueue(client redis.UniversalClient, lane string, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client:            NewRedisClient(client),
		prefix:            defaultRedisKeyPrefix,
		lane:              strings.TrimSpace(lane),
		visibilityTimeout: 5 * time.Minute,
		pollInterval:      100 * time.Millisecond,
		pollTimeout:       time.Second,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if q.lane == "" {
		q.lane = "default"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	storage := redisadapter.NewStorage(q.client,
		redisadapter.WithQueueName(q.QueueName()),
		redisadapter.WithVisibilityTimeout(q.visibilityTimeout),
		redisadapter.WithClock(q.now),
	)
	q.adapter = redisadapter.NewAdapter(storage)
	return q
}

// QueueName is the key prefix of the lane, for example
// "inbox:queue:webhooks".
func (q *RedisQueue) QueueName() string {
	return q.prefix + ":" + q.lane
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if q == nil || q.adapter == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("taskqueue: redis queue is not configured")
	}
	if err := queue.ValidateRequiredMessage(msg); err != nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("taskqueue: %w", err)
	}
	return q.adapter.Enqueue(ctx, msg)
}

// Dequeue leases the oldest ready task, polling until the poll timeout.
// A nil delivery with a nil error means nothing became ready in time.
func (q *RedisQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil || q.adapter == nil {
		return nil, fmt.Errorf("taskqueue: redis queue is not configured")
	}
	deadline := time.Now().Add(q.pollTimeout)
	for {
		delivery, err := q.adapter.Dequeue(ctx)
		if err != nil {
			return nil, fmt.Errorf("taskqueue: dequeue %s: %w", q.QueueName(), err)
		}
		if delivery != nil {
			return delivery, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// DispatchStatus reports the lifecycle state of an enqueued task.
func (q *RedisQueue) DispatchStatus(ctx context.Context, dispatchID string) (queue.DispatchStatus, error) {
	if q == nil || q.adapter == nil {
		return queue.DispatchStatus{}, fmt.Errorf("taskqueue: redis queue is not configured")
	}
	return q.adapter.GetDispatchStatus(ctx, dispatchID)
}

// DeadLetters lists dead lettered tasks, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	if q == nil || q.client == nil {
		return nil, fmt.Errorf("taskqueue: redis queue is not configured")
	}
	ids, err := q.client.client.LRange(ctx, q.QueueName()+":dlq", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("taskqueue: list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(ids))
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.QueueName()+":msg:"+id)
		if err != nil {
			return nil, fmt.Errorf("taskqueue: load dead letter %s: %w", id, err)
		}
		letter := DeadLetter{
			DispatchID: id,
			Attempts:   int(parseNumber(fields["attempts"])),
			Reason:     fields["last_error"],
			At:         time.Unix(0, parseNumber(fields["dead_lettered_at"])).UTC(),
		}
		if payload := fields["payload"]; payload != "" {
			msg, err := queue.DecodeExecutionMessage([]byte(payload))
			if err != nil {
				letter.Reason = err.Error()
			}
			letter.Message = msg
		}
		out = append(out, letter)
	}
	return out, nil
}

// parseNumber reads integers that scripts may have written in float form.
func parseNumber(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return value
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int64(value)
}

var (
	_ redisadapter.Client = (*RedisClient)(nil)
	_ queue.Enqueuer      = (*RedisQueue)(nil)
	_ queue.Dequeuer      = (*RedisQueue)(nil)
)
