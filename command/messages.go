package command

import (
	"strings"

	"github.com/goliatone/go-webhook-inbox/core"
)

const (
	TypeIngestEvent     = "inbox.command.event.ingest"
	TypeRequeueEvent    = "inbox.command.event.requeue"
	TypeResetStuckEvent = "inbox.command.event.reset_stuck"
)

// IngestEventMessage buffers a verified provider event.
type IngestEventMessage struct {
	EventID   string
	EventType string
	Payload   []byte
}

func (IngestEventMessage) Type() string { return TypeIngestEvent }

func (m IngestEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.FieldError("command", "event_id", "event id is required")
	}
	if strings.TrimSpace(m.EventType) == "" {
		return core.FieldError("command", "event_type", "event type is required")
	}
	return nil
}

type RequeueEventMessage struct {
	EventID string
}

func (RequeueEventMessage) Type() string { return TypeRequeueEvent }

func (m RequeueEventMessage) Validate() error {
	return validateEventID(m.EventID)
}

type ResetStuckEventMessage struct {
	EventID string
}

func (ResetStuckEventMessage) Type() string { return TypeResetStuckEvent }

func (m ResetStuckEventMessage) Validate() error {
	return validateEventID(m.EventID)
}

func validateEventID(eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return core.FieldError("command", "event_id", "event id is required")
	}
	return nil
}
