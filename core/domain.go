package core

import (
	"fmt"
	"strings"
	"time"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusDone       EventStatus = "done"
	EventStatusFailed     EventStatus = "failed"
)

const (
	DefaultQueueName   = "webhooks"
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 30 * time.Second
)

func ParseEventStatus(value string) (EventStatus, error) {
	status := EventStatus(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("core: unknown event status %q", value)
	}
	return status, nil
}

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPending, EventStatusProcessing, EventStatusDone, EventStatusFailed:
		return true
	default:
		return false
	}
}

// Claimable reports whether a worker holding the row lock may move the event
// into processing.
func (s EventStatus) Claimable() bool {
	return s == EventStatusPending
}

func (s EventStatus) String() string {
	return string(s)
}

var allowedTransitions = map[EventStatus][]EventStatus{
	EventStatusPending:    {EventStatusProcessing},
	EventStatusProcessing: {EventStatusDone, EventStatusPending, EventStatusFailed},
	EventStatusFailed:     {EventStatusPending},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from EventStatus, to EventStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

type BufferedEvent struct {
	ID          string
	EventID     string
	EventType   string
	Payload     []byte
	Status      EventStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

func (e BufferedEvent) Clone() BufferedEvent {
	out := e
	out.Payload = append([]byte(nil), e.Payload...)
	if e.ProcessedAt != nil {
		value := *e.ProcessedAt
		out.ProcessedAt = &value
	}
	return out
}

type NewEvent struct {
	EventID   string
	EventType string
	Payload   []byte
}

func (e NewEvent) Normalize() NewEvent {
	e.EventID = strings.TrimSpace(e.EventID)
	e.EventType = strings.TrimSpace(e.EventType)
	return e
}

func (e NewEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("core: event id is required")
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

type InsertResult struct {
	Event    BufferedEvent
	Inserted bool
}

// StatusUpdate describes a single-row status write. Nil pointer fields are
// left untouched. When ExpectStatus is set the write only applies if the row
// is currently in that status.
type StatusUpdate struct {
	Status       EventStatus
	Attempts     *int
	LastError    *string
	ProcessedAt  *time.Time
	ExpectStatus EventStatus
}

func (u StatusUpdate) Validate() error {
	if !u.Status.Valid() {
		return fmt.Errorf("core: invalid target status %q", u.Status)
	}
	if u.ExpectStatus != "" && !u.ExpectStatus.Valid() {
		return fmt.Errorf("core: invalid expected status %q", u.ExpectStatus)
	}
	if u.Attempts != nil && *u.Attempts < 0 {
		return fmt.Errorf("core: attempts must be non-negative")
	}
	return nil
}

type EventFilter struct {
	Status    EventStatus
	EventType string
	Page      int
	PerPage   int
}

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 500
)

func (f EventFilter) Normalize() EventFilter {
	f.EventType = strings.TrimSpace(f.EventType)
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = defaultEventPageSize
	}
	if f.PerPage > maxEventPageSize {
		f.PerPage = maxEventPageSize
	}
	return f
}

func (f EventFilter) Offset() int {
	normalized := f.Normalize()
	return (normalized.Page - 1) * normalized.PerPage
}

type EventPage struct {
	Items   []BufferedEvent
	Total   int
	Page    int
	PerPage int
}

type Task struct {
	EventID string
	Lane    string
}

type Notification struct {
	Channel string
	Message []byte
}

func intPtr(value int) *int {
	return &value
}

func stringPtr(value string) *string {
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}
