package inbox

import (
	"fmt"

	inboxcommand "github.com/goliatone/go-webhook-inbox/command"
	inboxquery "github.com/goliatone/go-webhook-inbox/query"
)

// CommandQueryService is the surface the facade wraps. *core.Service
// satisfies it.
type CommandQueryService interface {
	inboxcommand.IngestService
	inboxcommand.AdminService
	inboxquery.EventQueryService
}

type Commands struct {
	IngestEvent     *inboxcommand.IngestEventCommand
	RequeueEvent    *inboxcommand.RequeueEventCommand
	ResetStuckEvent *inboxcommand.ResetStuckEventCommand
}

type Queries struct {
	GetEvent   *inboxquery.GetEventQuery
	ListEvents *inboxquery.ListEventsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("inbox: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			IngestEvent:     inboxcommand.NewIngestEventCommand(service),
			RequeueEvent:    inboxcommand.NewRequeueEventCommand(service),
			ResetStuckEvent: inboxcommand.NewResetStuckEventCommand(service),
		},
		queries: Queries{
			GetEvent:   inboxquery.NewGetEventQuery(service),
			ListEvents: inboxquery.NewListEventsQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
