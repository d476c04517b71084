package sqlstore

import (
	"github.com/goliatone/go-webhook-inbox/core"
	"github.com/goliatone/go-webhook-inbox/fulfillment"
)

var (
	_ core.EventStore    = (*EventStore)(nil)
	_ core.EventReader   = (*EventStore)(nil)
	_ BufferedEventStore = (*EventStore)(nil)
	_ fulfillment.Store  = (*FulfillmentStore)(nil)
)
