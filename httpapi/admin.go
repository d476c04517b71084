package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
	inboxcommand "github.com/goliatone/go-webhook-inbox/command"
	"github.com/goliatone/go-webhook-inbox/core"
	inboxquery "github.com/goliatone/go-webhook-inbox/query"
)

type eventView struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func toEventView(event core.BufferedEvent, withPayload bool) eventView {
	view := eventView{
		ID:          event.ID,
		EventID:     event.EventID,
		EventType:   event.EventType,
		Status:      string(event.Status),
		Attempts:    event.Attempts,
		LastError:   event.LastError,
		CreatedAt:   event.CreatedAt,
		UpdatedAt:   event.UpdatedAt,
		ProcessedAt: event.ProcessedAt,
	}
	if withPayload && json.Valid(event.Payload) {
		view.Payload = json.RawMessage(event.Payload)
	}
	return view
}

func (a *api) listEvents(c *gin.Context) {
	if a.handlers.ListEvents == nil {
		a.notConfigured(c)
		return
	}
	filter := core.EventFilter{
		Status:    core.EventStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		EventType: c.Query("type"),
	}
	var err error
	if filter.Page, err = queryInt(c, "page"); err != nil {
		a.fail(c, core.BadInputError("httpapi: page must be an integer"))
		return
	}
	if filter.PerPage, err = queryInt(c, "per_page"); err != nil {
		a.fail(c, core.BadInputError("httpapi: per_page must be an integer"))
		return
	}

	page, err := a.handlers.ListEvents.Query(c.Request.Context(), inboxquery.ListEventsMessage{Filter: filter})
	if err != nil {
		a.fail(c, err)
		return
	}
	items := make([]eventView, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, toEventView(event, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    page.Total,
		"page":     page.Page,
		"per_page": page.PerPage,
	})
}

func (a *api) getEvent(c *gin.Context) {
	if a.handlers.GetEvent == nil {
		a.notConfigured(c)
		return
	}
	event, err := a.handlers.GetEvent.Query(c.Request.Context(), inboxquery.GetEventMessage{EventID: c.Param("event_id")})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toEventView(event, true))
}

func (a *api) requeueEvent(c *gin.Context) {
	if a.handlers.Requeue == nil {
		a.notConfigured(c)
		return
	}
	msg := inboxcommand.RequeueEventMessage{EventID: c.Param("event_id")}
	a.runEventCommand(c, func(ctx context.Context) error {
		return a.handlers.Requeue.Execute(ctx, msg)
	})
}

func (a *api) resetStuckEvent(c *gin.Context) {
	if a.handlers.ResetStuck == nil {
		a.notConfigured(c)
		return
	}
	msg := inboxcommand.ResetStuckEventMessage{EventID: c.Param("event_id")}
	a.runEventCommand(c, func(ctx context.Context) error {
		return a.handlers.ResetStuck.Execute(ctx, msg)
	})
}

// runEventCommand executes an admin command and answers 202 with the event
// the command stored in its result collector.
func (a *api) runEventCommand(c *gin.Context, run func(ctx context.Context) error) {
	collector := gocmd.NewResult[core.BufferedEvent]()
	if err := run(gocmd.ContextWithResult(c.Request.Context(), collector)); err != nil {
		a.fail(c, err)
		return
	}
	event, ok := collector.Load()
	if !ok {
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusAccepted, toEventView(event, false))
}

func (a *api) notConfigured(c *gin.Context) {
	a.fail(c, core.NotConfiguredError("httpapi: route is not configured"))
}

func (a *api) fail(c *gin.Context, err error) {
	mapped := core.MapError(err)
	if mapped.Code >= http.StatusInternalServerError {
		a.logger.Error("admin request failed",
			"path", c.FullPath(),
			"error", err.Error(),
		)
	}
	c.JSON(mapped.Code, gin.H{
		"error": mapped.Message,
		"code":  mapped.TextCode,
	})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
