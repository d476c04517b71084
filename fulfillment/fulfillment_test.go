package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-webhook-inbox/core"
)

type memoryStore struct {
	mu       sync.Mutex
	contacts []Contact
	places   []Place
	orders   []Order
	seq      int
	orderErr error
}

func (s *memoryStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

func (s *memoryStore) FindOrderBySession(_ context.Context, tenantID string, sessionID string) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.TenantID == tenantID && order.SessionID == sessionID {
			return order, true, nil
		}
	}
	return Order{}, false, nil
}

func (s *memoryStore) FindContactByEmail(_ context.Context, tenantID string, email string) (Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range s.contacts {
		if contact.TenantID == tenantID && contact.Email == email {
			return contact, true, nil
		}
	}
	return Contact{}, false, nil
}

func (s *memoryStore) CreateContact(_ context.Context, contact Contact) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact.ID = s.nextID("contact")
	s.contacts = append(s.contacts, contact)
	return contact, nil
}

func (s *memoryStore) CreatePlace(_ context.Context, place Place) (Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	place.ID = s.nextID("place")
	s.places = append(s.places, place)
	return place, nil
}

func (s *memoryStore) FindPickupPlace(_ context.Context, tenantID string, hints []string) (Place, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tenantPlaces []Place
	for _, place := range s.places {
		if place.TenantID == tenantID {
			tenantPlaces = append(tenantPlaces, place)
		}
	}
	for _, place := range tenantPlaces {
		for _, hint := range hints {
			if strings.Contains(place.Name, hint) {
				return place, true, nil
			}
		}
	}
	if len(tenantPlaces) == 0 {
		return Place{}, false, nil
	}
	sort.SliceStable(tenantPlaces, func(i, j int) bool {
		return tenantPlaces[i].CreatedAt.Before(tenantPlaces[j].CreatedAt)
	})
	return tenantPlaces[0], true, nil
}

func (s *memoryStore) CreateOrder(_ context.Context, order Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderErr != nil {
		return Order{}, s.orderErr
	}
	for _, existing := range s.orders {
		if existing.TenantID == order.TenantID && existing.SessionID == order.SessionID {
			return Order{}, ErrOrderExists
		}
	}
	order.ID = s.nextID("order")
	for i := range order.Waypoints {
		order.Waypoints[i].ID = s.nextID("waypoint")
		order.Waypoints[i].OrderID = order.ID
	}
	s.orders = append(s.orders, order)
	return order, nil
}

type stubGeocoder struct {
	point Point
	err   error
	calls []string
}

func (g *stubGeocoder) Geocode(_ context.Context, address string) (Point, error) {
	g.calls = append(g.calls, address)
	return g.point, g.err
}

func checkoutPayload(t *testing.T, session map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": EventCheckoutSessionCompleted,
		"data": map[string]any{"object": session},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func sampleSession() map[string]any {
	return map[string]any{
		"id":           "cs_test_1",
		"amount_total": 4599,
		"currency":     "USD",
		"customer_details": map[string]any{
			"email": "Ada@Example.com",
			"name":  "Ada Lovelace",
			"phone": "202-456-1111",
			"address": map[string]any{
				"line1": "1 Billing Rd", "city": "Boston", "country": "US",
			},
		},
		"shipping_details": map[string]any{
			"name": "Ada Lovelace",
			"address": map[string]any{
				"line1": "10 Downing St", "city": "Springfield", "state": "IL", "postal_code": "62701", "country": "US",
			},
		},
	}
}

func newTestHandler(t *testing.T, store Store, geocoder Geocoder) *CheckoutSessionHandler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TenantID = "company_42"
	handler, err := NewCheckoutSessionHandler(store, geocoder, cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func TestCheckoutSessionHandler_CreatesOrderWithWaypoints(t *testing.T) {
	store := &memoryStore{}
	geocoder := &stubGeocoder{point: Point{Lat: 39.78, Lng: -89.65}}
	handler := newTestHandler(t, store, geocoder)

	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, checkoutPayload(t, sampleSession())); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(store.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(store.orders))
	}
	order := store.orders[0]
	if order.SessionID != "cs_test_1" || order.TenantID != "company_42" || order.Status != OrderStatusCreated {
		t.Fatalf("unexpected order %#v", order)
	}
	if order.AmountTotal.StringFixed(2) != "45.99" || order.Currency != "usd" {
		t.Fatalf("unexpected amount %s %s", order.AmountTotal.StringFixed(2), order.Currency)
	}
	if len(order.Waypoints) != 2 || order.Waypoints[0].Sequence != 1 || order.Waypoints[1].Sequence != 2 {
		t.Fatalf("expected pickup then dropoff waypoints, got %#v", order.Waypoints)
	}
	if order.Waypoints[0].PlaceID != order.PickupPlaceID || order.Waypoints[1].PlaceID != order.DropoffPlaceID {
		t.Fatalf("waypoints do not match order places")
	}

	var dropoff, pickup Place
	for _, place := range store.places {
		switch place.ID {
		case order.DropoffPlaceID:
			dropoff = place
		case order.PickupPlaceID:
			pickup = place
		}
	}
	if dropoff.Street1 != "10 Downing St" || dropoff.Location != geocoder.point {
		t.Fatalf("expected geocoded shipping address, got %#v", dropoff)
	}
	if pickup.Name != "Default Store" {
		t.Fatalf("expected default pickup, got %#v", pickup)
	}
	if len(geocoder.calls) != 1 || geocoder.calls[0] != "10 Downing St, Springfield, IL, 62701, US" {
		t.Fatalf("unexpected geocode calls %#v", geocoder.calls)
	}

	if len(store.contacts) != 1 {
		t.Fatalf("expected one contact")
	}
	contact := store.contacts[0]
	if contact.Email != "ada@example.com" || contact.Phone != "+12024561111" || contact.Type != ContactTypeCustomer {
		t.Fatalf("unexpected contact %#v", contact)
	}
}

func TestCheckoutSessionHandler_ReinvocationDoesNotDuplicate(t *testing.T) {
	store := &memoryStore{}
	handler := newTestHandler(t, store, nil)
	payload := checkoutPayload(t, sampleSession())

	for i := 0; i < 3; i++ {
		if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, payload); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if len(store.orders) != 1 || len(store.contacts) != 1 {
		t.Fatalf("expected one order and contact, got %d/%d", len(store.orders), len(store.contacts))
	}
}

func TestCheckoutSessionHandler_ReusesContactAndPickup(t *testing.T) {
	store := &memoryStore{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.contacts = append(store.contacts, Contact{ID: "contact_existing", TenantID: "company_42", Email: "ada@example.com"})
	store.places = append(store.places,
		Place{ID: "place_old", TenantID: "company_42", Name: "Head Office", CreatedAt: now},
		Place{ID: "place_wh", TenantID: "company_42", Name: "North Warehouse", CreatedAt: now.Add(time.Hour)},
	)
	handler := newTestHandler(t, store, nil)

	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, checkoutPayload(t, sampleSession())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	order := store.orders[0]
	if order.CustomerID != "contact_existing" {
		t.Fatalf("expected existing contact, got %s", order.CustomerID)
	}
	if order.PickupPlaceID != "place_wh" {
		t.Fatalf("expected warehouse pickup, got %s", order.PickupPlaceID)
	}
}

func TestCheckoutSessionHandler_GeocodeFailureKeepsZeroPoint(t *testing.T) {
	store := &memoryStore{}
	handler := newTestHandler(t, store, &stubGeocoder{err: errors.New("quota exceeded")})

	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, checkoutPayload(t, sampleSession())); err != nil {
		t.Fatalf("expected geocode failure to be absorbed, got %v", err)
	}
	for _, place := range store.places {
		if place.ID == store.orders[0].DropoffPlaceID && !place.Location.IsZero() {
			t.Fatalf("expected zero location, got %#v", place.Location)
		}
	}
}

func TestCheckoutSessionHandler_FailureModes(t *testing.T) {
	store := &memoryStore{}
	handler := newTestHandler(t, store, nil)

	handler.Config.TenantID = ""
	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, checkoutPayload(t, sampleSession())); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected tenant error, got %v", err)
	}
	handler.Config.TenantID = "company_42"

	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, []byte("{")); err == nil {
		t.Fatalf("expected malformed payload error")
	}
	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, []byte(`{"id":"evt_1","data":{}}`)); err != nil {
		t.Fatalf("expected missing object to be skipped, got %v", err)
	}
	bad := sampleSession()
	bad["customer_details"].(map[string]any)["email"] = "not-an-email"
	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, checkoutPayload(t, bad)); err == nil {
		t.Fatalf("expected invalid email to fail validation")
	}

	store.orderErr = errors.New("db down")
	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, checkoutPayload(t, sampleSession())); err == nil {
		t.Fatalf("expected store failure to surface")
	}
}

func TestCheckoutSessionHandler_RegistersOnRegistry(t *testing.T) {
	registry := core.NewHandlerRegistry(nil)
	handler := newTestHandler(t, &memoryStore{}, nil)
	if err := handler.Register(registry); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := registry.Lookup(EventCheckoutSessionCompleted); !ok {
		t.Fatalf("expected checkout handler to be registered")
	}
}

func TestNotificationRouter_AnnouncesOrderOnTenantChannel(t *testing.T) {
	store := &memoryStore{}
	handler := newTestHandler(t, store, nil)
	payload := checkoutPayload(t, sampleSession())
	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	router := NewNotificationRouter(store, "company_42", "inbox.events")

	notifications, err := router.Route(context.Background(), core.BufferedEvent{
		EventID:   "evt_1",
		EventType: EventCheckoutSessionCompleted,
		Payload:   payload,
		Status:    core.EventStatusDone,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Channel != "company.company_42" {
		t.Fatalf("expected tenant channel notification, got %#v", notifications)
	}
	var notice OrderNotice
	if err := json.Unmarshal(notifications[0].Message, &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Event != NotificationOrderCreated || notice.SessionID != "cs_test_1" || notice.Amount != "45.99" {
		t.Fatalf("unexpected notice %#v", notice)
	}

	other, err := router.Route(context.Background(), core.BufferedEvent{EventID: "evt_2", EventType: "invoice.paid", Status: core.EventStatusDone})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(other) != 1 || other[0].Channel != "inbox.events" {
		t.Fatalf("expected fallback channel, got %#v", other)
	}
}

func TestCheckoutSession_AmountUsesCurrencyMinorUnits(t *testing.T) {
	cases := []struct {
		currency string
		total    int64
		want     string
	}{
		{currency: "usd", total: 4599, want: "45.99"},
		{currency: "USD", total: 5, want: "0.05"},
		{currency: "jpy", total: 4599, want: "4599"},
		{currency: "KRW", total: 12000, want: "12000"},
		{currency: "kwd", total: 4599, want: "4.599"},
		{currency: "", total: 100, want: "1"},
	}
	for _, tc := range cases {
		session := CheckoutSession{AmountTotal: tc.total, Currency: tc.currency}
		if got := session.Amount().String(); got != tc.want {
			t.Fatalf("%s %d: expected %s, got %s", tc.currency, tc.total, tc.want, got)
		}
	}
}

func TestNotificationRouter_FormatsZeroDecimalCurrency(t *testing.T) {
	store := &memoryStore{}
	handler := newTestHandler(t, store, nil)
	session := sampleSession()
	session["currency"] = "JPY"
	session["amount_total"] = 5000
	payload := checkoutPayload(t, session)
	if err := handler.Handle(context.Background(), EventCheckoutSessionCompleted, payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := store.orders[0].AmountTotal.String(); got != "5000" {
		t.Fatalf("expected whole yen amount, got %s", got)
	}

	router := NewNotificationRouter(store, "company_42", "inbox.events")
	notifications, err := router.Route(context.Background(), core.BufferedEvent{
		EventID:   "evt_jpy",
		EventType: EventCheckoutSessionCompleted,
		Payload:   payload,
		Status:    core.EventStatusDone,
	})
	if err != nil || len(notifications) != 1 {
		t.Fatalf("route: %v %#v", err, notifications)
	}
	var notice OrderNotice
	if err := json.Unmarshal(notifications[0].Message, &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Amount != "5000" || notice.Currency != "jpy" {
		t.Fatalf("unexpected notice amount %q %q", notice.Amount, notice.Currency)
	}
}

func TestGoogleGeocoder_ParsesFirstResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "secret" || r.URL.Query().Get("address") != "10 Downing St" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":51.5,"lng":-0.12}}}]}`))
	}))
	defer server.Close()

	geocoder := NewGoogleGeocoder("secret")
	geocoder.Endpoint = server.URL
	point, err := geocoder.Geocode(context.Background(), "10 Downing St")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if point.Lat != 51.5 || point.Lng != -0.12 {
		t.Fatalf("unexpected point %#v", point)
	}
}

func TestGoogleGeocoder_ErrorsOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	defer server.Close()

	geocoder := NewGoogleGeocoder("secret")
	geocoder.Endpoint = server.URL
	if _, err := geocoder.Geocode(context.Background(), "nowhere"); !errors.Is(err, ErrNoGeocodeResult) {
		t.Fatalf("expected no result error, got %v", err)
	}
	if _, err := NewGoogleGeocoder("").Geocode(context.Background(), "x"); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestNormalizePhone(t *testing.T) {
	if got := NormalizePhone("(202) 456-1111", "us"); got != "+12024561111" {
		t.Fatalf("expected E.164, got %q", got)
	}
	if got := NormalizePhone(" call me ", "US"); got != "call me" {
		t.Fatalf("expected raw passthrough, got %q", got)
	}
	if NormalizePhone("", "US") != "" {
		t.Fatalf("expected empty")
	}
}
