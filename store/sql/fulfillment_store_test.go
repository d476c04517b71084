package sqlstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-webhook-inbox/core"
	"github.com/goliatone/go-webhook-inbox/fulfillment"
	sqlstore "github.com/goliatone/go-webhook-inbox/store/sql"
	"github.com/shopspring/decimal"
)

type fixedGeocoder struct {
	point fulfillment.Point
}

func (g fixedGeocoder) Geocode(context.Context, string) (fulfillment.Point, error) {
	return g.point, nil
}

func newFulfillmentStore(t *testing.T) (*sqlstore.FulfillmentStore, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory.FulfillmentStore(), cleanup
}

func TestFulfillmentStore_ContactsAreScopedByTenantAndEmail(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newFulfillmentStore(t)
	defer cleanup()

	created, err := store.CreateContact(ctx, fulfillment.Contact{
		TenantID: "tenant-1",
		Name:     "Ada Lovelace",
		Email:    "Ada@Example.com",
		Type:     fulfillment.ContactTypeCustomer,
	})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	if created.ID == "" || created.Email != "ada@example.com" {
		t.Fatalf("unexpected contact: %#v", created)
	}

	found, ok, err := store.FindContactByEmail(ctx, "tenant-1", "ADA@example.com")
	if err != nil || !ok {
		t.Fatalf("expected contact lookup to succeed, ok=%t err=%v", ok, err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected contact %q, got %q", created.ID, found.ID)
	}

	if _, ok, err := store.FindContactByEmail(ctx, "tenant-2", "ada@example.com"); err != nil || ok {
		t.Fatalf("expected no contact under another tenant, ok=%t err=%v", ok, err)
	}
	if _, err := store.CreateContact(ctx, fulfillment.Contact{Email: "x@example.com"}); !errors.Is(err, fulfillment.ErrTenantRequired) {
		t.Fatalf("expected tenant required, got %v", err)
	}
}

func TestFulfillmentStore_FindPickupPlacePrefersHints(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newFulfillmentStore(t)
	defer cleanup()

	if _, ok, err := store.FindPickupPlace(ctx, "tenant-1", []string{"Store"}); err != nil || ok {
		t.Fatalf("expected no pickup for empty tenant, ok=%t err=%v", ok, err)
	}

	oldest, err := store.CreatePlace(ctx, fulfillment.Place{TenantID: "tenant-1", Name: "Customer Home"})
	if err != nil {
		t.Fatalf("create place: %v", err)
	}
	fallback, ok, err := store.FindPickupPlace(ctx, "tenant-1", []string{"Warehouse"})
	if err != nil || !ok {
		t.Fatalf("expected fallback pickup, ok=%t err=%v", ok, err)
	}
	if fallback.ID != oldest.ID {
		t.Fatalf("expected oldest place as fallback, got %#v", fallback)
	}

	time.Sleep(2 * time.Millisecond)
	warehouse, err := store.CreatePlace(ctx, fulfillment.Place{
		TenantID: "tenant-1",
		Name:     "North Warehouse",
		Location: fulfillment.Point{Lat: 41.1, Lng: -87.2},
	})
	if err != nil {
		t.Fatalf("create warehouse: %v", err)
	}
	pickup, ok, err := store.FindPickupPlace(ctx, "tenant-1", []string{"store", "warehouse"})
	if err != nil || !ok {
		t.Fatalf("expected hinted pickup, ok=%t err=%v", ok, err)
	}
	if pickup.ID != warehouse.ID {
		t.Fatalf("expected warehouse pickup, got %#v", pickup)
	}
	if pickup.Location.Lat != 41.1 || pickup.Location.Lng != -87.2 {
		t.Fatalf("expected coordinates to round-trip, got %#v", pickup.Location)
	}
}

func TestFulfillmentStore_CreateOrderIsUniquePerSession(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newFulfillmentStore(t)
	defer cleanup()

	order := fulfillment.Order{
		TenantID:       "tenant-1",
		CustomerID:     "contact-1",
		SessionID:      "cs_test_1",
		Type:           fulfillment.OrderTypeDefault,
		Status:         fulfillment.OrderStatusCreated,
		Currency:       "USD",
		AmountTotal:    decimal.New(4599, -2),
		PickupPlaceID:  "place-pickup",
		DropoffPlaceID: "place-dropoff",
		Items: []fulfillment.OrderItem{{
			Name:        "Stripe Order Item",
			Description: "Order from Stripe Checkout",
			Type:        fulfillment.OrderItemTypeItem,
		}},
		Waypoints: []fulfillment.Waypoint{
			{PlaceID: "place-pickup", Sequence: 1},
			{PlaceID: "place-dropoff", Sequence: 2},
		},
	}
	created, err := store.CreateOrder(ctx, order)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if created.ID == "" || len(created.Items) != 1 || len(created.Waypoints) != 2 {
		t.Fatalf("unexpected created order: %#v", created)
	}

	if _, err := store.CreateOrder(ctx, order); !errors.Is(err, fulfillment.ErrOrderExists) {
		t.Fatalf("expected duplicate session to fail with ErrOrderExists, got %v", err)
	}

	found, ok, err := store.FindOrderBySession(ctx, "tenant-1", "cs_test_1")
	if err != nil || !ok {
		t.Fatalf("expected order lookup, ok=%t err=%v", ok, err)
	}
	if !found.AmountTotal.Equal(decimal.RequireFromString("45.99")) {
		t.Fatalf("expected amount 45.99, got %s", found.AmountTotal)
	}
	if found.Currency != "usd" {
		t.Fatalf("expected normalized currency, got %q", found.Currency)
	}
	if len(found.Waypoints) != 2 || found.Waypoints[0].Sequence != 1 || found.Waypoints[1].PlaceID != "place-dropoff" {
		t.Fatalf("unexpected waypoints: %#v", found.Waypoints)
	}
	if len(found.Items) != 1 || found.Items[0].Name != "Stripe Order Item" {
		t.Fatalf("unexpected items: %#v", found.Items)
	}

	if _, ok, err := store.FindOrderBySession(ctx, "tenant-1", "cs_other"); err != nil || ok {
		t.Fatalf("expected no order for unknown session, ok=%t err=%v", ok, err)
	}
}

func TestCheckoutSessionHandler_AgainstSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newFulfillmentStore(t)
	defer cleanup()

	cfg := fulfillment.DefaultConfig()
	cfg.TenantID = "tenant-1"
	handler, err := fulfillment.NewCheckoutSessionHandler(store, fixedGeocoder{point: fulfillment.Point{Lat: 39.8, Lng: -89.6}}, cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_checkout",
		"type": fulfillment.EventCheckoutSessionCompleted,
		"data": map[string]any{
			"object": map[string]any{
				"id":           "cs_sql_1",
				"amount_total": 1250,
				"currency":     "usd",
				"customer_details": map[string]any{
					"name":  "Grace Hopper",
					"email": "grace@example.com",
					"phone": "202-456-1111",
					"address": map[string]any{
						"line1":       "1 Navy Way",
						"city":        "Arlington",
						"state":       "VA",
						"postal_code": "22202",
						"country":     "US",
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	registry := core.NewHandlerRegistry(nil)
	if err := handler.Register(registry); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := registry.Handle(ctx, fulfillment.EventCheckoutSessionCompleted, payload); err != nil {
			t.Fatalf("handle #%d: %v", i+1, err)
		}
	}

	order, ok, err := store.FindOrderBySession(ctx, "tenant-1", "cs_sql_1")
	if err != nil || !ok {
		t.Fatalf("expected order for session, ok=%t err=%v", ok, err)
	}
	if !order.AmountTotal.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("expected amount 12.50, got %s", order.AmountTotal)
	}
	if len(order.Waypoints) != 2 {
		t.Fatalf("expected pickup and dropoff waypoints, got %#v", order.Waypoints)
	}

	contact, ok, err := store.FindContactByEmail(ctx, "tenant-1", "grace@example.com")
	if err != nil || !ok {
		t.Fatalf("expected contact, ok=%t err=%v", ok, err)
	}
	if contact.Phone != "+12024561111" {
		t.Fatalf("expected E.164 phone, got %q", contact.Phone)
	}
	if order.CustomerID != contact.ID {
		t.Fatalf("expected order customer %q, got %q", contact.ID, order.CustomerID)
	}
}
