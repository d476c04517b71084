package query

import (
	"context"

	"github.com/goliatone/go-webhook-inbox/core"
)

// EventQueryService is the read side of the admin surface.
type EventQueryService interface {
	GetEvent(ctx context.Context, eventID string) (core.BufferedEvent, error)
	ListEvents(ctx context.Context, filter core.EventFilter) (core.EventPage, error)
}

type GetEventQuery struct {
	service EventQueryService
}

func NewGetEventQuery(service EventQueryService) *GetEventQuery {
	return &GetEventQuery{service: service}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (core.BufferedEvent, error) {
	if q == nil || q.service == nil {
		return core.BufferedEvent{}, core.NotConfiguredError("query: event query service is required")
	}
	if err := msg.Validate(); err != nil {
		return core.BufferedEvent{}, err
	}
	return q.service.GetEvent(ctx, msg.EventID)
}

type ListEventsQuery struct {
	service EventQueryService
}

func NewListEventsQuery(service EventQueryService) *ListEventsQuery {
	return &ListEventsQuery{service: service}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) (core.EventPage, error) {
	if q == nil || q.service == nil {
		return core.EventPage{}, core.NotConfiguredError("query: event query service is required")
	}
	if err := msg.Validate(); err != nil {
		return core.EventPage{}, err
	}
	return q.service.ListEvents(ctx, msg.Filter.Normalize())
}
