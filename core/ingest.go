package core

import (
	"context"
	"strings"
	"time"
)

type IngestOutcome string

const (
	// IngestOutcomeBuffered means the event was stored for the first time.
	IngestOutcomeBuffered IngestOutcome = "buffered"
	// IngestOutcomeRequeued means a failed event was reset to pending.
	IngestOutcomeRequeued IngestOutcome = "requeued"
	// IngestOutcomeDuplicate means the event was already known and no task
	// was enqueued.
	IngestOutcomeDuplicate IngestOutcome = "duplicate"
)

type IngestRequest struct {
	EventID   string
	EventType string
	Payload   []byte
}

type IngestResult struct {
	Outcome  IngestOutcome
	Enqueued bool
	Event    BufferedEvent
}

// Ingestor buffers verified provider events and schedules their processing.
// It never runs domain side effects itself.
type Ingestor struct {
	Store   EventStore
	Queue   TaskQueue
	Lane    string
	Logger  Logger
	Metrics MetricsRecorder
}

func NewIngestor(store EventStore, queue TaskQueue) *Ingestor {
	return &Ingestor{
		Store: store,
		Queue: queue,
		Lane:  DefaultQueueName,
	}
}

func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (result IngestResult, err error) {
	if i == nil || i.Store == nil || i.Queue == nil {
		return IngestResult{}, NotConfiguredError("core: ingestor requires event store and task queue")
	}
	event := NewEvent{
		EventID:   req.EventID,
		EventType: req.EventType,
		Payload:   req.Payload,
	}.Normalize()
	if err := event.Validate(); err != nil {
		return IngestResult{}, BadInputError(err.Error())
	}

	startedAt := time.Now()
	tel := newTelemetry("inbox.ingest", nil, i.Logger, i.Metrics)
	defer func() {
		tel.observe(ctx, startedAt, "ingest", string(result.Outcome), err, map[string]any{
			"event_id":   event.EventID,
			"event_type": event.EventType,
			"enqueued":   result.Enqueued,
		})
	}()

	inserted, err := i.Store.InsertIfAbsent(ctx, event)
	if err != nil {
		return IngestResult{}, StorageError(err, "core: buffer event failed")
	}
	if inserted.Inserted {
		if err := i.enqueue(ctx, event.EventID); err != nil {
			return IngestResult{Outcome: IngestOutcomeBuffered, Event: inserted.Event}, err
		}
		return IngestResult{Outcome: IngestOutcomeBuffered, Enqueued: true, Event: inserted.Event}, nil
	}

	existing := inserted.Event
	if existing.Status != EventStatusFailed {
		return IngestResult{Outcome: IngestOutcomeDuplicate, Event: existing}, nil
	}

	// Only the status column moves; payload, type and attempt history stay.
	applied, err := i.Store.UpdateStatus(ctx, event.EventID, StatusUpdate{
		Status:       EventStatusPending,
		ExpectStatus: EventStatusFailed,
	})
	if err != nil {
		return IngestResult{}, StorageError(err, "core: reset failed event")
	}
	if !applied {
		return IngestResult{Outcome: IngestOutcomeDuplicate, Event: existing}, nil
	}
	existing.Status = EventStatusPending
	if err := i.enqueue(ctx, event.EventID); err != nil {
		return IngestResult{Outcome: IngestOutcomeRequeued, Event: existing}, err
	}
	return IngestResult{Outcome: IngestOutcomeRequeued, Enqueued: true, Event: existing}, nil
}

func (i *Ingestor) enqueue(ctx context.Context, eventID string) error {
	lane := strings.TrimSpace(i.Lane)
	if lane == "" {
		lane = DefaultQueueName
	}
	if err := i.Queue.Enqueue(ctx, Task{EventID: eventID, Lane: lane}); err != nil {
		return QueueError(err, eventID)
	}
	return nil
}
