package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhook-inbox/core"
)

type IngestService interface {
	Ingest(ctx context.Context, req core.IngestRequest) (core.IngestResult, error)
}

type AdminService interface {
	RequeueEvent(ctx context.Context, eventID string) (core.BufferedEvent, error)
	ResetStuckEvent(ctx context.Context, eventID string) (core.BufferedEvent, error)
}

type IngestEventCommand struct {
	service IngestService
}

func NewIngestEventCommand(service IngestService) *IngestEventCommand {
	return &IngestEventCommand{service: service}
}

func (c *IngestEventCommand) Execute(ctx context.Context, msg IngestEventMessage) error {
	if c == nil || c.service == nil {
		return core.NotConfiguredError("command: ingest service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Ingest(ctx, core.IngestRequest{
		EventID:   msg.EventID,
		EventType: msg.EventType,
		Payload:   msg.Payload,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RequeueEventCommand struct {
	service AdminService
}

func NewRequeueEventCommand(service AdminService) *RequeueEventCommand {
	return &RequeueEventCommand{service: service}
}

func (c *RequeueEventCommand) Execute(ctx context.Context, msg RequeueEventMessage) error {
	if c == nil || c.service == nil {
		return core.NotConfiguredError("command: admin service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RequeueEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResetStuckEventCommand struct {
	service AdminService
}

func NewResetStuckEventCommand(service AdminService) *ResetStuckEventCommand {
	return &ResetStuckEventCommand{service: service}
}

func (c *ResetStuckEventCommand) Execute(ctx context.Context, msg ResetStuckEventMessage) error {
	if c == nil || c.service == nil {
		return core.NotConfiguredError("command: admin service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.ResetStuckEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
