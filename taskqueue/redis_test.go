package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-job/queue"
	"github.com/redis/go-redis/v9"
)

func newTestRedisQueue(t *testing.T, opts ...RedisOption) (*RedisQueue, redis.UniversalClient) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts = append([]RedisOption{WithPolling(5*time.Millisecond, 20*time.Millisecond)}, opts...)
	return NewRedisQueue(client, "webhooks", opts...), client
}

func TestRedisClient_MissingValuesReadEmpty(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedisQueue(t)
	shim := NewRedisClient(client)

	value, err := shim.HGet(ctx, "missing", "field")
	if err != nil || value != "" {
		t.Fatalf("expected empty hget, got %q %v", value, err)
	}
	value, err = shim.RPop(ctx, "missing")
	if err != nil || value != "" {
		t.Fatalf("expected empty rpop, got %q %v", value, err)
	}
	if err := shim.ZAdd(ctx, "scores", 10, "a"); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if err := shim.ZAdd(ctx, "scores", 30, "b"); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	items, err := shim.ZRangeByScore(ctx, "scores", 20, 10)
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(items) != 1 || items[0].Member != "a" || items[0].Score != 10 {
		t.Fatalf("unexpected range %#v", items)
	}
}

func TestRedisQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, client := newTestRedisQueue(t)

	if q.QueueName() != "inbox:queue:webhooks" {
		t.Fatalf("unexpected queue name %q", q.QueueName())
	}
	receipt, err := q.Enqueue(ctx, processMessage("evt_1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if receipt.DispatchID == "" {
		t.Fatalf("expected dispatch id")
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil || delivery == nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Message().Parameters["event_id"] != "evt_1" {
		t.Fatalf("unexpected message %#v", delivery.Message())
	}
	if n := client.ZCard(ctx, q.QueueName()+":inflight").Val(); n != 1 {
		t.Fatalf("expected leased task in flight, got %d", n)
	}
	status, err := q.DispatchStatus(ctx, receipt.DispatchID)
	if err != nil || status.State != queue.DispatchStateRunning {
		t.Fatalf("expected running status, got %#v %v", status, err)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n := client.ZCard(ctx, q.QueueName()+":inflight").Val(); n != 0 {
		t.Fatalf("expected in-flight set drained, got %d", n)
	}

	empty, err := q.Dequeue(ctx)
	if err != nil || empty != nil {
		t.Fatalf("expected nil delivery on empty lane, got %v %v", empty, err)
	}
}

func TestRedisQueue_DelayedRetryReleasesWhenDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q, client := newTestRedisQueue(t, WithRedisClock(func() time.Time { return now }))

	if _, err := q.Enqueue(ctx, processMessage("evt_retry")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, _ := q.Dequeue(ctx)
	err := delivery.Nack(ctx, queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Delay:       30 * time.Second,
		Reason:      "boom",
	})
	if err != nil {
		t.Fatalf("nack: %v", err)
	}
	if n := client.ZCard(ctx, q.QueueName()+":delayed").Val(); n != 1 {
		t.Fatalf("expected delayed task, got %d", n)
	}

	notYet, err := q.Dequeue(ctx)
	if err != nil || notYet != nil {
		t.Fatalf("expected delayed task to stay hidden, got %v %v", notYet, err)
	}

	now = now.Add(31 * time.Second)
	redelivered, err := q.Dequeue(ctx)
	if err != nil || redelivered == nil {
		t.Fatalf("expected released task, got %v", err)
	}
	if redelivered.Message().Parameters["event_id"] != "evt_retry" {
		t.Fatalf("unexpected redelivered message %#v", redelivered.Message().Parameters)
	}
	if got := redelivered.(attemptCounter).Attempts(); got != 2 {
		t.Fatalf("expected second delivery attempt, got %d", got)
	}
}

func TestRedisQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q, _ := newTestRedisQueue(t,
		WithVisibilityTimeout(time.Minute),
		WithRedisClock(func() time.Time { return now }),
	)

	if _, err := q.Enqueue(ctx, processMessage("evt_crash")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// the first worker dies without settling its lease
	if first, err := q.Dequeue(ctx); err != nil || first == nil {
		t.Fatalf("dequeue: %v", err)
	}
	if leased, err := q.Dequeue(ctx); err != nil || leased != nil {
		t.Fatalf("expected task to stay leased, got %v %v", leased, err)
	}

	now = now.Add(2 * time.Minute)
	recovered, err := q.Dequeue(ctx)
	if err != nil || recovered == nil {
		t.Fatalf("expected expired lease to be redelivered, got %v", err)
	}
	if recovered.Message().Parameters["event_id"] != "evt_crash" {
		t.Fatalf("unexpected message %#v", recovered.Message().Parameters)
	}
}

func TestRedisQueue_DeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedisQueue(t)

	receipt, _ := q.Enqueue(ctx, processMessage("evt_dead"))
	delivery, _ := q.Dequeue(ctx)
	err := delivery.Nack(ctx, queue.NackOptions{
		Disposition: queue.NackDispositionDeadLetter,
		Reason:      "exhausted",
	})
	if err != nil {
		t.Fatalf("nack: %v", err)
	}

	dead, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected one dead letter, got %#v", dead)
	}
	letter := dead[0]
	if letter.DispatchID != receipt.DispatchID || letter.Reason != "exhausted" || letter.Attempts != 1 {
		t.Fatalf("unexpected dead letter %#v", letter)
	}
	if letter.Message == nil || letter.Message.Parameters["event_id"] != "evt_dead" {
		t.Fatalf("expected decoded message, got %#v", letter.Message)
	}
	status, err := q.DispatchStatus(ctx, receipt.DispatchID)
	if err != nil || status.State != queue.DispatchStateDeadLetter {
		t.Fatalf("expected dead letter status, got %#v %v", status, err)
	}

	if empty, err := q.Dequeue(ctx); err != nil || empty != nil {
		t.Fatalf("expected dead lettered task not to be redelivered, got %v %v", empty, err)
	}
}

func TestRedisQueue_RejectsMessageWithoutJobID(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	if _, err := q.Enqueue(context.Background(), processMessage("evt_1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := processMessage("evt_2")
	msg.JobID = ""
	if _, err := q.Enqueue(context.Background(), msg); err == nil {
		t.Fatalf("expected validation error")
	}
}
