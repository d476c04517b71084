package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// EventStore is the durable buffer of provider events keyed by event id.
type EventStore interface {
	// InsertIfAbsent stores the event unless a row with the same event id
	// already exists, in which case the existing row is returned with
	// Inserted=false. The duplicate case is never an error.
	InsertIfAbsent(ctx context.Context, event NewEvent) (InsertResult, error)
	// Begin runs fn inside a storage transaction. Locks taken through the
	// EventTx are released when fn returns.
	Begin(ctx context.Context, fn func(ctx context.Context, tx EventTx) error) error
	// UpdateStatus writes a single row outside any caller transaction and
	// reports whether a row was changed.
	UpdateStatus(ctx context.Context, eventID string, update StatusUpdate) (bool, error)
	Get(ctx context.Context, eventID string) (BufferedEvent, error)
}

type EventTx interface {
	// LockForUpdate blocks until the caller holds the exclusive row lock.
	LockForUpdate(ctx context.Context, eventID string) (BufferedEvent, error)
	UpdateStatus(ctx context.Context, eventID string, update StatusUpdate) (bool, error)
}

type EventReader interface {
	Get(ctx context.Context, eventID string) (BufferedEvent, error)
	List(ctx context.Context, filter EventFilter) (EventPage, error)
}

// TaskQueue hands a process task to the worker pool. Tasks carry only the
// event id; the buffered row is the source of truth.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// EventHandler performs the domain side effects for a processed event.
type EventHandler interface {
	Handle(ctx context.Context, eventType string, payload []byte) error
}

type EventHandlerFunc func(ctx context.Context, eventType string, payload []byte) error

func (f EventHandlerFunc) Handle(ctx context.Context, eventType string, payload []byte) error {
	return f(ctx, eventType, payload)
}

// Publisher broadcasts a message on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// NotificationRouter decides what to announce once an event is done.
type NotificationRouter interface {
	Route(ctx context.Context, event BufferedEvent) ([]Notification, error)
}

type Notifier interface {
	Notify(ctx context.Context, event BufferedEvent)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
