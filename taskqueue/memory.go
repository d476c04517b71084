package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"
)

// DeadLetter is a task that exhausted its redelivery budget or could not be
// decoded.
type DeadLetter struct {
	DispatchID string
	Message    *job.ExecutionMessage
	Attempts   int
	Reason     string
	At         time.Time
}

type memoryItem struct {
	id       string
	msg      *job.ExecutionMessage
	attempts int
}

// MemoryQueue is an in-process lane queue. Delayed redeliveries are held in
// timers and are lost on restart.
type MemoryQueue struct {
	mu          sync.Mutex
	ready       []*memoryItem
	dead        []DeadLetter
	timers      map[*time.Timer]struct{}
	wake        chan struct{}
	closed      bool
	pollTimeout time.Duration
	now         func() time.Time
}

type MemoryOption func(*MemoryQueue)

// WithPollTimeout bounds how long Dequeue waits on an empty queue before it
// returns a nil delivery.
func WithPollTimeout(timeout time.Duration) MemoryOption {
	return func(q *MemoryQueue) {
		if timeout > 0 {
			q.pollTimeout = timeout
		}
	}
}

func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		timers:      map[*time.Timer]struct{}{},
		wake:        make(chan struct{}, 1),
		pollTimeout: time.Second,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if q == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("taskqueue: memory queue is nil")
	}
	if err := queue.ValidateRequiredMessage(msg); err != nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("taskqueue: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	item := &memoryItem{id: uuid.NewString(), msg: msg}
	if err := q.push(item); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return queue.EnqueueReceipt{DispatchID: item.id, EnqueuedAt: q.now()}, nil
}

func (q *MemoryQueue) push(item *memoryItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("taskqueue: memory queue is closed")
	}
	q.ready = append(q.ready, item)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue returns the oldest ready task, waiting up to the poll timeout.
// A nil delivery with a nil error means the queue stayed empty.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("taskqueue: memory queue is nil")
	}
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()
	for {
		if item, ok := q.pop(); ok {
			item.attempts++
			return &memoryDelivery{queue: q, item: item}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.wake:
		}
	}
}

func (q *MemoryQueue) pop() (*memoryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, false
	}
	item := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	if len(q.ready) > 0 {
		q.signal()
	}
	return item, true
}

func (q *MemoryQueue) requeueAfter(item *memoryItem, delay time.Duration) {
	if delay <= 0 {
		_ = q.push(item)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		_ = q.push(item)
	})
	q.timers[timer] = struct{}{}
}

func (q *MemoryQueue) deadLetter(item *memoryItem, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{
		DispatchID: item.id,
		Message:    item.msg,
		Attempts:   item.attempts,
		Reason:     reason,
		At:         q.now(),
	})
}

// Len reports ready tasks, excluding delayed redeliveries.
func (q *MemoryQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Delayed reports redeliveries waiting on their timer.
func (q *MemoryQueue) Delayed() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Close stops pending redelivery timers and rejects further enqueues.
func (q *MemoryQueue) Close() error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	return nil
}

type memoryDelivery struct {
	queue   *MemoryQueue
	item    *memoryItem
	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.item.msg
}

// Attempts counts deliveries of the task, this one included.
func (d *memoryDelivery) Attempts() int {
	return d.item.attempts
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.settle()
}

// Nack applies the disposition. Failed and canceled tasks are dropped.
func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return fmt.Errorf("taskqueue: %w", err)
	}
	if err := d.settle(); err != nil {
		return err
	}
	switch opts.Disposition {
	case queue.NackDispositionDeadLetter:
		d.queue.deadLetter(d.item, opts.Reason)
	case queue.NackDispositionRetry:
		d.queue.requeueAfter(d.item, opts.Delay)
	}
	return nil
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("taskqueue: delivery already settled")
	}
	d.settled = true
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
