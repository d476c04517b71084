package core

import "testing"

func TestCanTransition_LifecycleEdges(t *testing.T) {
	allowed := [][2]EventStatus{
		{EventStatusPending, EventStatusProcessing},
		{EventStatusProcessing, EventStatusDone},
		{EventStatusProcessing, EventStatusPending},
		{EventStatusProcessing, EventStatusFailed},
		{EventStatusFailed, EventStatusPending},
	}
	for _, edge := range allowed {
		if !CanTransition(edge[0], edge[1]) {
			t.Fatalf("expected %s -> %s to be allowed", edge[0], edge[1])
		}
	}

	rejected := [][2]EventStatus{
		{EventStatusDone, EventStatusPending},
		{EventStatusDone, EventStatusProcessing},
		{EventStatusPending, EventStatusDone},
		{EventStatusFailed, EventStatusProcessing},
		{EventStatusPending, EventStatusFailed},
	}
	for _, edge := range rejected {
		if CanTransition(edge[0], edge[1]) {
			t.Fatalf("expected %s -> %s to be rejected", edge[0], edge[1])
		}
	}
}

func TestParseEventStatus(t *testing.T) {
	status, err := ParseEventStatus(" Failed ")
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if status != EventStatusFailed {
		t.Fatalf("expected failed, got %q", status)
	}
	if _, err := ParseEventStatus("archived"); err == nil {
		t.Fatalf("expected unknown status error")
	}
}

func TestNewEventValidate(t *testing.T) {
	if err := (NewEvent{EventID: "evt_1"}).Validate(); err == nil {
		t.Fatalf("expected missing type error")
	}
	if err := (NewEvent{EventType: "invoice.paid"}).Validate(); err == nil {
		t.Fatalf("expected missing id error")
	}
	normalized := NewEvent{EventID: " evt_1 ", EventType: " invoice.paid "}.Normalize()
	if normalized.EventID != "evt_1" || normalized.EventType != "invoice.paid" {
		t.Fatalf("expected trimmed event, got %#v", normalized)
	}
}

func TestEventFilterNormalize(t *testing.T) {
	filter := EventFilter{PerPage: 10_000}.Normalize()
	if filter.Page != 1 {
		t.Fatalf("expected page 1, got %d", filter.Page)
	}
	if filter.PerPage != maxEventPageSize {
		t.Fatalf("expected per page capped at %d, got %d", maxEventPageSize, filter.PerPage)
	}
	if offset := (EventFilter{Page: 3, PerPage: 20}).Offset(); offset != 40 {
		t.Fatalf("expected offset 40, got %d", offset)
	}
}

func TestStatusUpdateValidate(t *testing.T) {
	if err := (StatusUpdate{Status: "archived"}).Validate(); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if err := (StatusUpdate{Status: EventStatusPending, Attempts: intPtr(-1)}).Validate(); err == nil {
		t.Fatalf("expected negative attempts error")
	}
	if err := (StatusUpdate{Status: EventStatusPending, ExpectStatus: EventStatusFailed}).Validate(); err != nil {
		t.Fatalf("expected guarded update to validate: %v", err)
	}
}
