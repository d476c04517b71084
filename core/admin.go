package core

import (
	"context"
	"strings"
	"time"
)

const DefaultStuckAfter = 15 * time.Minute

// Admin exposes the operator recovery paths. Nothing here runs
// automatically.
type Admin struct {
	Store  EventStore
	Reader EventReader
	Queue  TaskQueue
	Lane   string
	// StuckAfter is the minimum time a row must have sat in processing
	// before ResetStuck will release it.
	StuckAfter time.Duration
	Logger     Logger
	Metrics    MetricsRecorder
	Now        func() time.Time
}

func NewAdmin(store EventStore, reader EventReader, queue TaskQueue) *Admin {
	return &Admin{
		Store:      store,
		Reader:     reader,
		Queue:      queue,
		Lane:       DefaultQueueName,
		StuckAfter: DefaultStuckAfter,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Requeue returns a failed event to pending and schedules it. A pending event
// is only re-scheduled, which recovers tasks lost between insert and enqueue.
func (a *Admin) Requeue(ctx context.Context, eventID string) (event BufferedEvent, err error) {
	if err := a.validate(); err != nil {
		return BufferedEvent{}, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return BufferedEvent{}, BadInputError("core: event id is required")
	}
	startedAt := time.Now()
	tel := newTelemetry("inbox.admin", nil, a.Logger, a.Metrics)
	defer func() {
		tel.observe(ctx, startedAt, "requeue", string(event.Status), err, map[string]any{
			"event_id":   eventID,
			"event_type": event.EventType,
		})
	}()

	current, err := a.load(ctx, eventID)
	if err != nil {
		return BufferedEvent{}, err
	}
	switch current.Status {
	case EventStatusFailed:
		applied, err := a.Store.UpdateStatus(ctx, eventID, StatusUpdate{
			Status:       EventStatusPending,
			ExpectStatus: EventStatusFailed,
		})
		if err != nil {
			return BufferedEvent{}, StorageError(err, "core: requeue failed event")
		}
		if !applied {
			return BufferedEvent{}, TransitionError(eventID, current.Status, EventStatusPending)
		}
		current.Status = EventStatusPending
	case EventStatusPending:
	default:
		return BufferedEvent{}, TransitionError(eventID, current.Status, EventStatusPending)
	}

	if err := a.enqueue(ctx, eventID); err != nil {
		return current, err
	}
	return current, nil
}

// ResetStuck releases an event left in processing by a worker that died
// mid-flight. The caller is responsible for knowing that no worker still
// holds the event; the StuckAfter window only guards against obvious
// mistakes.
func (a *Admin) ResetStuck(ctx context.Context, eventID string) (event BufferedEvent, err error) {
	if err := a.validate(); err != nil {
		return BufferedEvent{}, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return BufferedEvent{}, BadInputError("core: event id is required")
	}
	startedAt := time.Now()
	tel := newTelemetry("inbox.admin", nil, a.Logger, a.Metrics)
	defer func() {
		tel.observe(ctx, startedAt, "reset_stuck", string(event.Status), err, map[string]any{
			"event_id":   eventID,
			"event_type": event.EventType,
		})
	}()

	current, err := a.load(ctx, eventID)
	if err != nil {
		return BufferedEvent{}, err
	}
	if current.Status != EventStatusProcessing {
		return BufferedEvent{}, TransitionError(eventID, current.Status, EventStatusPending)
	}
	if a.StuckAfter > 0 && a.now().Sub(current.UpdatedAt) < a.StuckAfter {
		return BufferedEvent{}, TransitionError(eventID, current.Status, EventStatusPending)
	}

	applied, err := a.Store.UpdateStatus(ctx, eventID, StatusUpdate{
		Status:       EventStatusPending,
		ExpectStatus: EventStatusProcessing,
	})
	if err != nil {
		return BufferedEvent{}, StorageError(err, "core: reset stuck event")
	}
	if !applied {
		return BufferedEvent{}, TransitionError(eventID, current.Status, EventStatusPending)
	}
	current.Status = EventStatusPending
	if err := a.enqueue(ctx, eventID); err != nil {
		return current, err
	}
	return current, nil
}

func (a *Admin) GetEvent(ctx context.Context, eventID string) (BufferedEvent, error) {
	if a == nil || (a.Reader == nil && a.Store == nil) {
		return BufferedEvent{}, NotConfiguredError("core: admin requires an event reader")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return BufferedEvent{}, BadInputError("core: event id is required")
	}
	if a.Reader != nil {
		return a.Reader.Get(ctx, eventID)
	}
	return a.Store.Get(ctx, eventID)
}

func (a *Admin) ListEvents(ctx context.Context, filter EventFilter) (EventPage, error) {
	if a == nil || a.Reader == nil {
		return EventPage{}, NotConfiguredError("core: admin requires an event reader")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return EventPage{}, BadInputError("core: invalid status filter")
	}
	return a.Reader.List(ctx, filter.Normalize())
}

func (a *Admin) validate() error {
	if a == nil || a.Store == nil || a.Queue == nil {
		return NotConfiguredError("core: admin requires event store and task queue")
	}
	return nil
}

func (a *Admin) load(ctx context.Context, eventID string) (BufferedEvent, error) {
	current, err := a.Store.Get(ctx, eventID)
	if err != nil {
		if IsNotFound(err) {
			return BufferedEvent{}, NotFoundError(eventID)
		}
		return BufferedEvent{}, StorageError(err, "core: load event failed")
	}
	return current, nil
}

func (a *Admin) enqueue(ctx context.Context, eventID string) error {
	lane := strings.TrimSpace(a.Lane)
	if lane == "" {
		lane = DefaultQueueName
	}
	if err := a.Queue.Enqueue(ctx, Task{EventID: eventID, Lane: lane}); err != nil {
		return QueueError(err, eventID)
	}
	return nil
}

func (a *Admin) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}
