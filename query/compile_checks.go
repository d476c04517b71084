package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhook-inbox/core"
)

var (
	_ gocmd.Querier[GetEventMessage, core.BufferedEvent] = (*GetEventQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, core.EventPage]   = (*ListEventsQuery)(nil)
)
