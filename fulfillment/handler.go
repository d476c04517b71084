package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhook-inbox/core"
)

type Config struct {
	// TenantID is the company every checkout order is filed under.
	TenantID        string   `koanf:"tenant_id" mapstructure:"tenant_id"`
	DefaultRegion   string   `koanf:"default_region" mapstructure:"default_region"`
	PickupNameHints []string `koanf:"pickup_name_hints" mapstructure:"pickup_name_hints"`
	DefaultPickup   Place    `koanf:"-" mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		DefaultRegion:   "US",
		PickupNameHints: []string{"Store", "Warehouse"},
		DefaultPickup: Place{
			Name:    "Default Store",
			Street1: "123 Main St",
		},
	}
}

// CheckoutSessionHandler creates a delivery order for each completed checkout
// session. It is safe to invoke more than once for the same session.
type CheckoutSessionHandler struct {
	Store    Store
	Geocoder Geocoder
	Config   Config
	Logger   core.Logger
	Now      func() time.Time
}

func NewCheckoutSessionHandler(store Store, geocoder Geocoder, cfg Config) (*CheckoutSessionHandler, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.DefaultRegion) == "" {
		cfg.DefaultRegion = defaults.DefaultRegion
	}
	if len(cfg.PickupNameHints) == 0 {
		cfg.PickupNameHints = defaults.PickupNameHints
	}
	if strings.TrimSpace(cfg.DefaultPickup.Name) == "" {
		cfg.DefaultPickup = defaults.DefaultPickup
	}
	return &CheckoutSessionHandler{
		Store:    store,
		Geocoder: geocoder,
		Config:   cfg,
		Logger:   glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Register routes checkout.session.completed to the handler.
func (h *CheckoutSessionHandler) Register(registry *core.HandlerRegistry) error {
	if registry == nil {
		return fmt.Errorf("fulfillment: handler registry is required")
	}
	return registry.Register(EventCheckoutSessionCompleted, h)
}

func (h *CheckoutSessionHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	if h == nil || h.Store == nil {
		return ErrStoreUnavailable
	}
	logger := glog.Ensure(h.Logger).WithContext(ctx)
	if eventType != EventCheckoutSessionCompleted {
		logger.Info("fulfillment ignoring event type", "event_type", eventType)
		return nil
	}
	tenantID := strings.TrimSpace(h.Config.TenantID)
	if tenantID == "" {
		return ErrTenantRequired
	}

	session, ok, err := DecodeCheckoutSession(payload)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("checkout event has no data object", "event_type", eventType)
		return nil
	}

	if _, exists, err := h.Store.FindOrderBySession(ctx, tenantID, session.ID); err != nil {
		return fmt.Errorf("fulfillment: lookup order: %w", err)
	} else if exists {
		logger.Info("order already exists for checkout session, skipping", "session_id", session.ID, "tenant_id", tenantID)
		return nil
	}

	contact, err := h.resolveContact(ctx, tenantID, session)
	if err != nil {
		return err
	}
	// Pickup is resolved first so the new dropoff place is never picked as
	// the oldest tenant place.
	pickup, err := h.resolvePickup(ctx, tenantID)
	if err != nil {
		return err
	}
	dropoff, err := h.Store.CreatePlace(ctx, h.dropoffPlace(ctx, tenantID, session))
	if err != nil {
		return fmt.Errorf("fulfillment: create dropoff place: %w", err)
	}

	order, err := h.Store.CreateOrder(ctx, Order{
		TenantID:       tenantID,
		CustomerID:     contact.ID,
		SessionID:      session.ID,
		Type:           OrderTypeDefault,
		Status:         OrderStatusCreated,
		Currency:       strings.ToLower(strings.TrimSpace(session.Currency)),
		AmountTotal:    session.Amount(),
		PickupPlaceID:  pickup.ID,
		DropoffPlaceID: dropoff.ID,
		Items: []OrderItem{{
			Name:        "Stripe Order Item",
			Description: "Order from Stripe Checkout",
			Type:        OrderItemTypeItem,
		}},
		Waypoints: []Waypoint{
			{PlaceID: pickup.ID, Sequence: 1},
			{PlaceID: dropoff.ID, Sequence: 2},
		},
		CreatedAt: h.now(),
	})
	if err != nil {
		if errors.Is(err, ErrOrderExists) {
			logger.Info("order created concurrently for checkout session, skipping", "session_id", session.ID)
			return nil
		}
		return fmt.Errorf("fulfillment: create order: %w", err)
	}

	logger.Info("order created",
		"order_id", order.ID,
		"session_id", session.ID,
		"tenant_id", tenantID,
		"customer_id", contact.ID,
	)
	return nil
}

func (h *CheckoutSessionHandler) resolveContact(ctx context.Context, tenantID string, session CheckoutSession) (Contact, error) {
	email := session.CustomerEmail()
	if email != "" {
		contact, found, err := h.Store.FindContactByEmail(ctx, tenantID, email)
		if err != nil {
			return Contact{}, fmt.Errorf("fulfillment: lookup contact: %w", err)
		}
		if found {
			return contact, nil
		}
	}
	phone := ""
	if session.CustomerDetails != nil {
		region := h.Config.DefaultRegion
		if address := session.DeliveryAddress(); address != nil && strings.TrimSpace(address.Country) != "" {
			region = address.Country
		}
		phone = NormalizePhone(session.CustomerDetails.Phone, region)
	}
	contact, err := h.Store.CreateContact(ctx, Contact{
		TenantID:  tenantID,
		Name:      session.CustomerName(),
		Email:     email,
		Phone:     phone,
		Type:      ContactTypeCustomer,
		CreatedAt: h.now(),
	})
	if err != nil {
		return Contact{}, fmt.Errorf("fulfillment: create contact: %w", err)
	}
	return contact, nil
}

func (h *CheckoutSessionHandler) dropoffPlace(ctx context.Context, tenantID string, session CheckoutSession) Place {
	place := Place{
		TenantID:  tenantID,
		Name:      session.CustomerName(),
		CreatedAt: h.now(),
	}
	address := session.DeliveryAddress()
	if address == nil {
		return place
	}
	place.Street1 = strings.TrimSpace(address.Line1)
	place.Street2 = strings.TrimSpace(address.Line2)
	place.City = strings.TrimSpace(address.City)
	place.Province = strings.TrimSpace(address.State)
	place.PostalCode = strings.TrimSpace(address.PostalCode)
	place.Country = strings.TrimSpace(address.Country)
	place.Location = h.geocode(ctx, place.AddressLine())
	return place
}

// geocode never fails the order; an unresolved address keeps a zero point.
func (h *CheckoutSessionHandler) geocode(ctx context.Context, address string) Point {
	if h.Geocoder == nil || address == "" {
		return Point{}
	}
	logger := glog.Ensure(h.Logger).WithContext(ctx)
	point, err := h.Geocoder.Geocode(ctx, address)
	if err != nil {
		logger.Error("geocoding failed", "address", address, "error", err.Error())
		return Point{}
	}
	logger.Info("geocoded address", "address", address, "lat", point.Lat, "lng", point.Lng)
	return point
}

func (h *CheckoutSessionHandler) resolvePickup(ctx context.Context, tenantID string) (Place, error) {
	place, found, err := h.Store.FindPickupPlace(ctx, tenantID, h.Config.PickupNameHints)
	if err != nil {
		return Place{}, fmt.Errorf("fulfillment: lookup pickup place: %w", err)
	}
	if found {
		return place, nil
	}
	fallback := h.Config.DefaultPickup
	fallback.ID = ""
	fallback.TenantID = tenantID
	fallback.CreatedAt = h.now()
	created, err := h.Store.CreatePlace(ctx, fallback)
	if err != nil {
		return Place{}, fmt.Errorf("fulfillment: create default pickup place: %w", err)
	}
	return created, nil
}

func (h *CheckoutSessionHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

var _ core.EventHandler = (*CheckoutSessionHandler)(nil)
