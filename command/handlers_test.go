package command

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-inbox/core"
)

type stubIngestService struct {
	ingestFn func(ctx context.Context, req core.IngestRequest) (core.IngestResult, error)
}

func (s stubIngestService) Ingest(ctx context.Context, req core.IngestRequest) (core.IngestResult, error) {
	return s.ingestFn(ctx, req)
}

type stubAdminService struct {
	requeueFn func(ctx context.Context, eventID string) (core.BufferedEvent, error)
	resetFn   func(ctx context.Context, eventID string) (core.BufferedEvent, error)
}

func (s stubAdminService) RequeueEvent(ctx context.Context, eventID string) (core.BufferedEvent, error) {
	return s.requeueFn(ctx, eventID)
}

func (s stubAdminService) ResetStuckEvent(ctx context.Context, eventID string) (core.BufferedEvent, error) {
	return s.resetFn(ctx, eventID)
}

func TestIngestEventCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	called := false
	svc := stubIngestService{
		ingestFn: func(_ context.Context, req core.IngestRequest) (core.IngestResult, error) {
			called = true
			if req.EventID != "evt_1" || req.EventType != "charge.succeeded" {
				t.Fatalf("unexpected ingest request: %#v", req)
			}
			return core.IngestResult{Outcome: core.IngestOutcomeBuffered, Enqueued: true, Event: core.BufferedEvent{EventID: req.EventID}}, nil
		},
	}

	cmd := NewIngestEventCommand(svc)
	collector := gocmd.NewResult[core.IngestResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, IngestEventMessage{
		EventID:   "evt_1",
		EventType: "charge.succeeded",
		Payload:   []byte(`{}`),
	}); err != nil {
		t.Fatalf("execute ingest: %v", err)
	}
	if !called {
		t.Fatalf("expected ingest service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Outcome != core.IngestOutcomeBuffered || !result.Enqueued || result.Event.EventID != "evt_1" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestAdminCommands_DelegateToService(t *testing.T) {
	t.Run("requeue", func(t *testing.T) {
		svc := stubAdminService{
			requeueFn: func(_ context.Context, eventID string) (core.BufferedEvent, error) {
				if eventID != "evt_failed" {
					t.Fatalf("unexpected event id %q", eventID)
				}
				return core.BufferedEvent{EventID: eventID, Status: core.EventStatusPending, Attempts: 5}, nil
			},
		}
		collector := gocmd.NewResult[core.BufferedEvent]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewRequeueEventCommand(svc).Execute(ctx, RequeueEventMessage{EventID: "evt_failed"}); err != nil {
			t.Fatalf("execute requeue: %v", err)
		}
		event, ok := collector.Load()
		if !ok || event.Status != core.EventStatusPending || event.Attempts != 5 {
			t.Fatalf("unexpected requeue result: %#v", event)
		}
	})

	t.Run("reset stuck", func(t *testing.T) {
		called := false
		svc := stubAdminService{
			resetFn: func(_ context.Context, eventID string) (core.BufferedEvent, error) {
				called = true
				return core.BufferedEvent{EventID: eventID, Status: core.EventStatusPending}, nil
			},
		}
		if err := NewResetStuckEventCommand(svc).Execute(context.Background(), ResetStuckEventMessage{EventID: "evt_stuck"}); err != nil {
			t.Fatalf("execute reset: %v", err)
		}
		if !called {
			t.Fatalf("expected reset invocation")
		}
	})
}

func TestCommands_ServiceErrorsPassThrough(t *testing.T) {
	svc := stubAdminService{
		requeueFn: func(_ context.Context, eventID string) (core.BufferedEvent, error) {
			return core.BufferedEvent{}, core.TransitionError(eventID, core.EventStatusDone, core.EventStatusPending)
		},
	}
	err := NewRequeueEventCommand(svc).Execute(context.Background(), RequeueEventMessage{EventID: "evt_done"})
	if err == nil {
		t.Fatalf("expected transition error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.InboxErrorInvalidTransition {
		t.Fatalf("expected invalid transition envelope, got %v", err)
	}
}

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	for name, msg := range map[string]interface{ Validate() error }{
		"ingest without id":   IngestEventMessage{EventType: "x"},
		"ingest without type": IngestEventMessage{EventID: "evt_1"},
		"requeue":             RequeueEventMessage{},
		"reset":               ResetStuckEventMessage{EventID: "  "},
	} {
		err := msg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.Category != goerrors.CategoryValidation {
			t.Fatalf("%s: expected validation category, got %q", name, rich.Category)
		}
		if rich.TextCode != core.InboxErrorBadInput {
			t.Fatalf("%s: expected %q text code, got %q", name, core.InboxErrorBadInput, rich.TextCode)
		}
	}
}

func TestCommands_NilServiceReturnsRichError(t *testing.T) {
	var cmd *RequeueEventCommand
	err := cmd.Execute(context.Background(), RequeueEventMessage{EventID: "evt_1"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}

	if err := NewIngestEventCommand(nil).Execute(context.Background(), IngestEventMessage{}); err == nil {
		t.Fatalf("expected ingest dependency error")
	}
}

func TestMessageTypes(t *testing.T) {
	if (IngestEventMessage{}).Type() != TypeIngestEvent ||
		(RequeueEventMessage{}).Type() != TypeRequeueEvent ||
		(ResetStuckEventMessage{}).Type() != TypeResetStuckEvent {
		t.Fatalf("unexpected message types")
	}
}
