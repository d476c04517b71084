package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	JobIDProcessEvent = "inbox.webhooks.process"
	JobParamEventID   = "event_id"
	JobParamLane      = "lane"
)

// JobTaskQueue maps inbox tasks onto job execution messages.
type JobTaskQueue struct {
	enqueuer JobEnqueuer
}

func NewJobTaskQueue(enqueuer JobEnqueuer) *JobTaskQueue {
	return &JobTaskQueue{enqueuer: enqueuer}
}

func (q *JobTaskQueue) Enqueue(ctx context.Context, task Task) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("core: job enqueuer is not configured")
	}
	msg, err := ProcessEventMessage(task)
	if err != nil {
		return err
	}
	return q.enqueuer.Enqueue(ctx, msg)
}

func ProcessEventMessage(task Task) (*JobExecutionMessage, error) {
	eventID := strings.TrimSpace(task.EventID)
	if eventID == "" {
		return nil, fmt.Errorf("core: task event id is required")
	}
	lane := strings.TrimSpace(task.Lane)
	if lane == "" {
		lane = DefaultQueueName
	}
	return &JobExecutionMessage{
		JobID:      JobIDProcessEvent,
		ScriptPath: JobIDProcessEvent,
		Parameters: map[string]any{
			JobParamEventID: eventID,
			JobParamLane:    lane,
		},
	}, nil
}

func TaskFromMessage(msg *JobExecutionMessage) (Task, error) {
	if msg == nil {
		return Task{}, fmt.Errorf("core: job message is required")
	}
	if jobID := strings.TrimSpace(msg.JobID); jobID != JobIDProcessEvent {
		return Task{}, fmt.Errorf("core: unexpected job id %q", jobID)
	}
	eventID, _ := msg.Parameters[JobParamEventID].(string)
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return Task{}, fmt.Errorf("core: job message event id is required")
	}
	lane, _ := msg.Parameters[JobParamLane].(string)
	return Task{EventID: eventID, Lane: strings.TrimSpace(lane)}, nil
}

type EventProcessor interface {
	Process(ctx context.Context, eventID string) (ProcessResult, error)
}

// WorkerRunner pulls process tasks from a job queue and feeds them to the
// processor. Queue delivery is at-least-once; duplicates are absorbed by the
// status check under the row lock.
type WorkerRunner struct {
	Dequeuer  JobDequeuer
	Processor EventProcessor
	Hook      JobWorkerHook
	Workers   int
	// StorageRetryDelay is the redelivery delay used when processing fails
	// for a reason other than the handler.
	StorageRetryDelay time.Duration
	IdleBackoff       time.Duration
	Logger            Logger
	Metrics           MetricsRecorder
}

func NewWorkerRunner(dequeuer JobDequeuer, processor EventProcessor, cfg ProcessingConfig) *WorkerRunner {
	return &WorkerRunner{
		Dequeuer:          dequeuer,
		Processor:         processor,
		Workers:           cfg.Workers,
		StorageRetryDelay: cfg.RetryDelay,
		IdleBackoff:       cfg.DequeueTimeout,
	}
}

// Run blocks until ctx is cancelled, running Workers concurrent loops.
func (r *WorkerRunner) Run(ctx context.Context) error {
	if r == nil || r.Dequeuer == nil || r.Processor == nil {
		return NotConfiguredError("core: worker runner requires dequeuer and processor")
	}
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r.loop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return nil
}

func (r *WorkerRunner) loop(ctx context.Context, worker int) {
	tel := newTelemetry("inbox.worker", nil, r.Logger, r.Metrics)
	for ctx.Err() == nil {
		handled, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			tel.logError(ctx, "worker dequeue failed", map[string]any{
				"worker": worker,
				"error":  err.Error(),
			})
		}
		if handled && err == nil {
			continue
		}
		if !sleepContext(ctx, r.idleBackoff()) {
			return
		}
	}
}

// RunOnce dequeues and settles at most one delivery. handled is false when
// the queue had nothing to deliver.
func (r *WorkerRunner) RunOnce(ctx context.Context) (bool, error) {
	if r == nil || r.Dequeuer == nil || r.Processor == nil {
		return false, NotConfiguredError("core: worker runner requires dequeuer and processor")
	}
	delivery, err := r.Dequeuer.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	r.settle(ctx, delivery)
	return true, nil
}

func (r *WorkerRunner) settle(ctx context.Context, delivery JobDelivery) {
	tel := newTelemetry("inbox.worker", nil, r.Logger, r.Metrics)
	msg := delivery.Message()
	startedAt := time.Now().UTC()
	event := JobWorkerEvent{Message: msg, StartedAt: startedAt}

	task, err := TaskFromMessage(msg)
	if err != nil {
		event.Err = err
		r.hookFailure(ctx, event)
		tel.logError(ctx, "dropping malformed process task", map[string]any{"error": err.Error()})
		r.nack(ctx, tel, delivery, JobNackOptions{DeadLetter: true, Reason: err.Error()})
		return
	}

	r.hookStart(ctx, event)
	result, err := r.Processor.Process(ctx, task.EventID)
	event.Attempt = result.Attempts
	event.Duration = time.Since(startedAt)

	switch {
	case err != nil:
		event.Err = err
		event.Delay = r.storageRetryDelay()
		r.hookRetry(ctx, event)
		r.nack(ctx, tel, delivery, JobNackOptions{
			Delay:   event.Delay,
			Requeue: true,
			Reason:  err.Error(),
		})
	case result.Outcome == ProcessOutcomeRetryScheduled:
		event.Err = result.HandlerErr
		event.Delay = result.RetryAfter
		r.hookRetry(ctx, event)
		r.nack(ctx, tel, delivery, JobNackOptions{
			Delay:   result.RetryAfter,
			Requeue: true,
			Reason:  errorString(result.HandlerErr),
		})
	case result.Outcome == ProcessOutcomeDeadLettered:
		event.Err = result.HandlerErr
		r.hookFailure(ctx, event)
		r.nack(ctx, tel, delivery, JobNackOptions{
			DeadLetter: true,
			Reason:     errorString(result.HandlerErr),
		})
	default:
		r.hookSuccess(ctx, event)
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			tel.logError(ctx, "ack process task failed", map[string]any{
				"event_id": task.EventID,
				"error":    ackErr.Error(),
			})
		}
	}
}

func (r *WorkerRunner) nack(ctx context.Context, tel telemetry, delivery JobDelivery, opts JobNackOptions) {
	if err := delivery.Nack(ctx, opts); err != nil {
		tel.logError(ctx, "nack process task failed", map[string]any{
			"reason": opts.Reason,
			"error":  err.Error(),
		})
	}
}

func (r *WorkerRunner) hookStart(ctx context.Context, event JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnStart(ctx, event)
	}
}

func (r *WorkerRunner) hookSuccess(ctx context.Context, event JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnSuccess(ctx, event)
	}
}

func (r *WorkerRunner) hookFailure(ctx context.Context, event JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnFailure(ctx, event)
	}
}

func (r *WorkerRunner) hookRetry(ctx context.Context, event JobWorkerEvent) {
	if r.Hook != nil {
		r.Hook.OnRetry(ctx, event)
	}
}

func (r *WorkerRunner) storageRetryDelay() time.Duration {
	if r.StorageRetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return r.StorageRetryDelay
}

func (r *WorkerRunner) idleBackoff() time.Duration {
	if r.IdleBackoff <= 0 {
		return 100 * time.Millisecond
	}
	return r.IdleBackoff
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	_ TaskQueue      = (*JobTaskQueue)(nil)
	_ EventProcessor = (*Processor)(nil)
)
