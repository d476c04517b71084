package query

import (
	"strings"

	"github.com/goliatone/go-webhook-inbox/core"
)

const (
	TypeGetEvent   = "inbox.query.event.get"
	TypeListEvents = "inbox.query.event.list"
)

type GetEventMessage struct {
	EventID string
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.FieldError("query", "event_id", "event id is required")
	}
	return nil
}

type ListEventsMessage struct {
	Filter core.EventFilter
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if m.Filter.Page < 0 {
		return core.FieldError("query", "page", "page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return core.FieldError("query", "per_page", "per_page must be >= 0")
	}
	if m.Filter.Status != "" && !m.Filter.Status.Valid() {
		return core.FieldError("query", "status", "unknown event status")
	}
	return nil
}
