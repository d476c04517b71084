package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"

	ContactTypeCustomer = "customer"
	OrderTypeDefault    = "default"
	OrderStatusCreated  = "created"
	OrderItemTypeItem   = "item"

	defaultCustomerName = "Stripe Customer"
)

var (
	ErrOrderExists      = errors.New("fulfillment: order already exists for session")
	ErrTenantRequired   = errors.New("fulfillment: tenant id is not configured")
	ErrNoGeocodeResult  = errors.New("fulfillment: geocoder returned no result")
	ErrStoreUnavailable = errors.New("fulfillment: store is not configured")
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

type Contact struct {
	ID        string
	TenantID  string
	Name      string
	Email     string
	Phone     string
	Type      string
	CreatedAt time.Time
}

type Place struct {
	ID         string
	TenantID   string
	Name       string
	Street1    string
	Street2    string
	City       string
	Province   string
	PostalCode string
	Country    string
	Location   Point
	CreatedAt  time.Time
}

// AddressLine joins the geocodable parts of the place address.
func (p Place) AddressLine() string {
	parts := make([]string, 0, 5)
	for _, part := range []string{p.Street1, p.City, p.Province, p.PostalCode, p.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

type OrderItem struct {
	Name        string
	Description string
	Type        string
}

type Waypoint struct {
	ID       string
	OrderID  string
	PlaceID  string
	Sequence int
}

type Order struct {
	ID             string
	TenantID       string
	CustomerID     string
	SessionID      string
	Type           string
	Status         string
	Currency       string
	AmountTotal    decimal.Decimal
	PickupPlaceID  string
	DropoffPlaceID string
	Items          []OrderItem
	Waypoints      []Waypoint
	CreatedAt      time.Time
}

// Store persists the fulfillment entities of a tenant.
type Store interface {
	FindOrderBySession(ctx context.Context, tenantID string, sessionID string) (Order, bool, error)
	FindContactByEmail(ctx context.Context, tenantID string, email string) (Contact, bool, error)
	CreateContact(ctx context.Context, contact Contact) (Contact, error)
	CreatePlace(ctx context.Context, place Place) (Place, error)
	// FindPickupPlace returns the first place whose name contains one of the
	// hints, falling back to the oldest place of the tenant.
	FindPickupPlace(ctx context.Context, tenantID string, nameHints []string) (Place, bool, error)
	// CreateOrder stores the order with its items and waypoints atomically.
	// It returns ErrOrderExists when the session already has an order.
	CreateOrder(ctx context.Context, order Order) (Order, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}
