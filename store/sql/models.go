package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type bufferedEventRecord struct {
	bun.BaseModel `bun:"table:inbox_buffered_events,alias:ibe"`

	ID          string     `bun:"id,pk"`
	EventID     string     `bun:"event_id,notnull"`
	EventType   string     `bun:"event_type,notnull"`
	Payload     []byte     `bun:"payload,notnull"`
	Status      string     `bun:"status,notnull"`
	Attempts    int        `bun:"attempts,notnull"`
	LastError   string     `bun:"last_error,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
	ProcessedAt *time.Time `bun:"processed_at,nullzero"`
}

type contactRecord struct {
	bun.BaseModel `bun:"table:inbox_contacts,alias:ic"`

	ID        string    `bun:"id,pk"`
	TenantID  string    `bun:"tenant_id,notnull"`
	Name      string    `bun:"name,notnull"`
	Email     string    `bun:"email,notnull"`
	Phone     string    `bun:"phone,notnull"`
	Type      string    `bun:"type,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type placeRecord struct {
	bun.BaseModel `bun:"table:inbox_places,alias:ip"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id,notnull"`
	Name       string    `bun:"name,notnull"`
	Street1    string    `bun:"street1,notnull"`
	Street2    string    `bun:"street2,notnull"`
	City       string    `bun:"city,notnull"`
	Province   string    `bun:"province,notnull"`
	PostalCode string    `bun:"postal_code,notnull"`
	Country    string    `bun:"country,notnull"`
	Latitude   float64   `bun:"latitude,notnull"`
	Longitude  float64   `bun:"longitude,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

type orderRecord struct {
	bun.BaseModel `bun:"table:inbox_orders,alias:io"`

	ID             string          `bun:"id,pk"`
	TenantID       string          `bun:"tenant_id,notnull"`
	CustomerID     string          `bun:"customer_id,notnull"`
	SessionID      string          `bun:"session_id,notnull"`
	Type           string          `bun:"type,notnull"`
	Status         string          `bun:"status,notnull"`
	Currency       string          `bun:"currency,notnull"`
	AmountTotal    decimal.Decimal `bun:"amount_total,notnull"`
	PickupPlaceID  string          `bun:"pickup_place_id,notnull"`
	DropoffPlaceID string          `bun:"dropoff_place_id,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull"`
}

type orderItemRecord struct {
	bun.BaseModel `bun:"table:inbox_order_items,alias:ioi"`

	ID          string    `bun:"id,pk"`
	OrderID     string    `bun:"order_id,notnull"`
	TenantID    string    `bun:"tenant_id,notnull"`
	Name        string    `bun:"name,notnull"`
	Description string    `bun:"description,notnull"`
	Type        string    `bun:"type,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

type waypointRecord struct {
	bun.BaseModel `bun:"table:inbox_waypoints,alias:iw"`

	ID        string    `bun:"id,pk"`
	OrderID   string    `bun:"order_id,notnull"`
	TenantID  string    `bun:"tenant_id,notnull"`
	PlaceID   string    `bun:"place_id,notnull"`
	Sequence  int       `bun:"sequence,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
