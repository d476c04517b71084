package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type ProcessOutcome string

const (
	ProcessOutcomeDone           ProcessOutcome = "done"
	ProcessOutcomeSkipped        ProcessOutcome = "skipped"
	ProcessOutcomeMissing        ProcessOutcome = "missing"
	ProcessOutcomeRetryScheduled ProcessOutcome = "retry_scheduled"
	ProcessOutcomeDeadLettered   ProcessOutcome = "dead_lettered"
)

type ProcessResult struct {
	Outcome    ProcessOutcome
	EventID    string
	EventType  string
	Status     EventStatus
	Attempts   int
	RetryAfter time.Duration
	// HandlerErr is the side-effect failure that caused a retry or dead
	// letter. It is recorded on the row, not returned as an error.
	HandlerErr error
}

// Processor runs the buffered event state machine for one event id.
//
// The row lock taken in the claim transaction is the only synchronization
// between concurrent workers; no in-process locking guards the status.
type Processor struct {
	Store       EventStore
	Handler     EventHandler
	Notifier    Notifier
	RetryPolicy RetryPolicy
	// NotifyBudget is the deadline given to the notifications of one done
	// event. They run off the worker and outlive its cancellation.
	NotifyBudget time.Duration
	Logger       Logger
	Metrics      MetricsRecorder
	Now          func() time.Time

	notifying sync.WaitGroup
}

func NewProcessor(store EventStore, handler EventHandler) *Processor {
	return &Processor{
		Store:       store,
		Handler:     handler,
		RetryPolicy: FixedDelayRetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process claims, dispatches and finalizes a single event. A non-nil error
// is only returned for storage failures; handler failures are recorded on
// the row and reported through the result.
func (p *Processor) Process(ctx context.Context, eventID string) (result ProcessResult, err error) {
	if p == nil || p.Store == nil || p.Handler == nil {
		return ProcessResult{}, NotConfiguredError("core: processor requires event store and handler")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ProcessResult{}, BadInputError("core: event id is required")
	}

	startedAt := time.Now()
	tel := newTelemetry("inbox.process", nil, p.Logger, p.Metrics)
	defer func() {
		fields := map[string]any{
			"event_id":   eventID,
			"event_type": result.EventType,
			"attempts":   result.Attempts,
		}
		if result.HandlerErr != nil {
			fields["handler_error"] = result.HandlerErr.Error()
		}
		tel.observe(ctx, startedAt, "process", string(result.Outcome), err, fields)
	}()

	claimed, ok, err := p.claim(ctx, eventID)
	if err != nil {
		if IsNotFound(err) {
			tel.logWarn(ctx, "buffered event not found, dropping task", map[string]any{"event_id": eventID})
			return ProcessResult{Outcome: ProcessOutcomeMissing, EventID: eventID}, nil
		}
		return ProcessResult{EventID: eventID}, StorageError(err, "core: claim event failed")
	}
	if !ok {
		tel.logDebug(ctx, "event already handled, skipping", eventFields(claimed))
		return ProcessResult{
			Outcome:   ProcessOutcomeSkipped,
			EventID:   eventID,
			EventType: claimed.EventType,
			Status:    claimed.Status,
			Attempts:  claimed.Attempts,
		}, nil
	}

	// Terminal writes must land even if the worker is shutting down,
	// otherwise the row is left in processing.
	finalizeCtx := context.WithoutCancel(ctx)

	handlerErr := p.dispatch(ctx, claimed)
	if handlerErr == nil {
		return p.complete(finalizeCtx, tel, claimed)
	}
	return p.fail(finalizeCtx, tel, claimed, handlerErr)
}

// claim locks the row and moves it to processing when it is claimable. ok
// is false when the locked row was already done, processing or failed.
func (p *Processor) claim(ctx context.Context, eventID string) (BufferedEvent, bool, error) {
	var claimed BufferedEvent
	var ok bool
	err := p.Store.Begin(ctx, func(ctx context.Context, tx EventTx) error {
		event, err := tx.LockForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		claimed = event
		if !event.Status.Claimable() {
			return nil
		}
		if _, err := tx.UpdateStatus(ctx, eventID, StatusUpdate{Status: EventStatusProcessing}); err != nil {
			return err
		}
		claimed.Status = EventStatusProcessing
		ok = true
		return nil
	})
	if err != nil {
		return BufferedEvent{}, false, err
	}
	return claimed, ok, nil
}

func (p *Processor) dispatch(ctx context.Context, event BufferedEvent) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("core: handler panic: %v", recovered)
		}
	}()
	return p.Handler.Handle(ctx, event.EventType, event.Payload)
}

func (p *Processor) complete(ctx context.Context, tel telemetry, event BufferedEvent) (ProcessResult, error) {
	processedAt := p.now()
	if _, err := p.Store.UpdateStatus(ctx, event.EventID, StatusUpdate{
		Status:      EventStatusDone,
		ProcessedAt: timePtr(processedAt),
	}); err != nil {
		fields := eventFields(event)
		fields["error"] = err.Error()
		tel.logError(ctx, "handler succeeded but done status was not recorded; event needs operator reset", fields)
		return ProcessResult{EventID: event.EventID, EventType: event.EventType, Status: EventStatusProcessing}, StorageError(err, "core: mark event done failed")
	}

	event.Status = EventStatusDone
	event.ProcessedAt = timePtr(processedAt)
	if p.Notifier != nil {
		p.notify(ctx, event)
	}
	return ProcessResult{
		Outcome:   ProcessOutcomeDone,
		EventID:   event.EventID,
		EventType: event.EventType,
		Status:    EventStatusDone,
		Attempts:  event.Attempts,
	}, nil
}

func (p *Processor) fail(ctx context.Context, tel telemetry, event BufferedEvent, handlerErr error) (ProcessResult, error) {
	current, err := p.Store.Get(ctx, event.EventID)
	if err != nil {
		return ProcessResult{EventID: event.EventID, EventType: event.EventType, HandlerErr: handlerErr}, StorageError(err, "core: reload event attempts failed")
	}

	decision := p.retryPolicy().Decide(current.Attempts)
	lastError := handlerErr.Error()
	if _, err := p.Store.UpdateStatus(ctx, event.EventID, StatusUpdate{
		Status:    decision.Status,
		Attempts:  intPtr(decision.Attempts),
		LastError: stringPtr(lastError),
	}); err != nil {
		return ProcessResult{EventID: event.EventID, EventType: event.EventType, HandlerErr: handlerErr}, StorageError(err, "core: record event failure failed")
	}

	fields := map[string]any{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"attempts":   decision.Attempts,
		"error":      lastError,
	}
	result := ProcessResult{
		EventID:    event.EventID,
		EventType:  event.EventType,
		Status:     decision.Status,
		Attempts:   decision.Attempts,
		HandlerErr: HandlerError(handlerErr, event.EventID, event.EventType),
	}
	if decision.DeadLetter {
		tel.logError(ctx, "event exhausted retry budget and was dead-lettered", fields)
		result.Outcome = ProcessOutcomeDeadLettered
		return result, nil
	}
	fields["retry_after"] = decision.Delay.String()
	tel.logWarn(ctx, "event handler failed, retry scheduled", fields)
	result.Outcome = ProcessOutcomeRetryScheduled
	result.RetryAfter = decision.Delay
	return result, nil
}

func (p *Processor) notify(ctx context.Context, event BufferedEvent) {
	budget := p.NotifyBudget
	if budget <= 0 {
		budget = DefaultNotifyBudget
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	p.notifying.Add(1)
	go func() {
		defer p.notifying.Done()
		defer cancel()
		p.Notifier.Notify(notifyCtx, event)
	}()
}

// WaitNotifications blocks until detached notifications have finished or
// ctx is done.
func (p *Processor) WaitNotifications(ctx context.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.notifying.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p.RetryPolicy == nil {
		return FixedDelayRetryPolicy{}
	}
	return p.RetryPolicy
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}
