package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhook-inbox/fulfillment"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FulfillmentStore persists the contacts, places and orders created from
// completed checkout sessions.
type FulfillmentStore struct {
	db       *bun.DB
	contacts repository.Repository[*contactRecord]
	places   repository.Repository[*placeRecord]
	orders   repository.Repository[*orderRecord]
	now      func() time.Time
}

func NewFulfillmentStore(db *bun.DB) (*FulfillmentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	contacts := repository.NewRepository[*contactRecord](db, contactHandlers())
	if validator, ok := contacts.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid contact repository wiring: %w", err)
		}
	}
	places := repository.NewRepository[*placeRecord](db, placeHandlers())
	if validator, ok := places.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid place repository wiring: %w", err)
		}
	}
	orders := repository.NewRepository[*orderRecord](db, orderHandlers())
	if validator, ok := orders.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid order repository wiring: %w", err)
		}
	}
	return &FulfillmentStore{
		db:       db,
		contacts: contacts,
		places:   places,
		orders:   orders,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *FulfillmentStore) FindOrderBySession(ctx context.Context, tenantID string, sessionID string) (fulfillment.Order, bool, error) {
	if s == nil || s.orders == nil {
		return fulfillment.Order{}, false, fulfillment.ErrStoreUnavailable
	}
	records, _, err := s.orders.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("session_id", "=", strings.TrimSpace(sessionID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return fulfillment.Order{}, false, err
	}
	if len(records) == 0 {
		return fulfillment.Order{}, false, nil
	}
	order := toOrder(records[0])

	var items []*orderItemRecord
	if err := s.db.NewSelect().
		Model(&items).
		Where("?TableAlias.order_id = ?", order.ID).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fulfillment.Order{}, false, err
	}
	for _, item := range items {
		order.Items = append(order.Items, fulfillment.OrderItem{
			Name:        item.Name,
			Description: item.Description,
			Type:        item.Type,
		})
	}

	var waypoints []*waypointRecord
	if err := s.db.NewSelect().
		Model(&waypoints).
		Where("?TableAlias.order_id = ?", order.ID).
		OrderExpr("?TableAlias.sequence ASC").
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fulfillment.Order{}, false, err
	}
	for _, waypoint := range waypoints {
		order.Waypoints = append(order.Waypoints, fulfillment.Waypoint{
			ID:       waypoint.ID,
			OrderID:  waypoint.OrderID,
			PlaceID:  waypoint.PlaceID,
			Sequence: waypoint.Sequence,
		})
	}
	return order, true, nil
}

func (s *FulfillmentStore) FindContactByEmail(ctx context.Context, tenantID string, email string) (fulfillment.Contact, bool, error) {
	if s == nil || s.contacts == nil {
		return fulfillment.Contact{}, false, fulfillment.ErrStoreUnavailable
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fulfillment.Contact{}, false, nil
	}
	records, _, err := s.contacts.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("email", "=", email),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return fulfillment.Contact{}, false, err
	}
	if len(records) == 0 {
		return fulfillment.Contact{}, false, nil
	}
	return toContact(records[0]), true, nil
}

func (s *FulfillmentStore) CreateContact(ctx context.Context, contact fulfillment.Contact) (fulfillment.Contact, error) {
	if s == nil || s.contacts == nil {
		return fulfillment.Contact{}, fulfillment.ErrStoreUnavailable
	}
	if strings.TrimSpace(contact.TenantID) == "" {
		return fulfillment.Contact{}, fulfillment.ErrTenantRequired
	}
	now := s.now()
	record := &contactRecord{
		ID:        uuid.NewString(),
		TenantID:  strings.TrimSpace(contact.TenantID),
		Name:      strings.TrimSpace(contact.Name),
		Email:     strings.ToLower(strings.TrimSpace(contact.Email)),
		Phone:     strings.TrimSpace(contact.Phone),
		Type:      strings.TrimSpace(contact.Type),
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.contacts.Create(ctx, record)
	if err != nil {
		return fulfillment.Contact{}, err
	}
	return toContact(created), nil
}

func (s *FulfillmentStore) CreatePlace(ctx context.Context, place fulfillment.Place) (fulfillment.Place, error) {
	if s == nil || s.places == nil {
		return fulfillment.Place{}, fulfillment.ErrStoreUnavailable
	}
	if strings.TrimSpace(place.TenantID) == "" {
		return fulfillment.Place{}, fulfillment.ErrTenantRequired
	}
	now := s.now()
	record := &placeRecord{
		ID:         uuid.NewString(),
		TenantID:   strings.TrimSpace(place.TenantID),
		Name:       strings.TrimSpace(place.Name),
		Street1:    strings.TrimSpace(place.Street1),
		Street2:    strings.TrimSpace(place.Street2),
		City:       strings.TrimSpace(place.City),
		Province:   strings.TrimSpace(place.Province),
		PostalCode: strings.TrimSpace(place.PostalCode),
		Country:    strings.TrimSpace(place.Country),
		Latitude:   place.Location.Lat,
		Longitude:  place.Location.Lng,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := s.places.Create(ctx, record)
	if err != nil {
		return fulfillment.Place{}, err
	}
	return toPlace(created), nil
}

func (s *FulfillmentStore) FindPickupPlace(ctx context.Context, tenantID string, nameHints []string) (fulfillment.Place, bool, error) {
	if s == nil || s.places == nil {
		return fulfillment.Place{}, false, fulfillment.ErrStoreUnavailable
	}
	tenantID = strings.TrimSpace(tenantID)
	hints := make([]string, 0, len(nameHints))
	for _, hint := range nameHints {
		if trimmed := strings.ToLower(strings.TrimSpace(hint)); trimmed != "" {
			hints = append(hints, trimmed)
		}
	}

	if len(hints) > 0 {
		records, _, err := s.places.List(ctx,
			repository.SelectBy("tenant_id", "=", tenantID),
			repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
					for _, hint := range hints {
						q = q.WhereOr("LOWER(?TableAlias.name) LIKE ?", "%"+hint+"%")
					}
					return q
				})
			}),
			repository.OrderBy("created_at ASC"),
			repository.SelectPaginate(1, 0),
		)
		if err != nil {
			return fulfillment.Place{}, false, err
		}
		if len(records) > 0 {
			return toPlace(records[0]), true, nil
		}
	}

	records, _, err := s.places.List(ctx,
		repository.SelectBy("tenant_id", "=", tenantID),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return fulfillment.Place{}, false, err
	}
	if len(records) == 0 {
		return fulfillment.Place{}, false, nil
	}
	return toPlace(records[0]), true, nil
}

func (s *FulfillmentStore) CreateOrder(ctx context.Context, order fulfillment.Order) (fulfillment.Order, error) {
	if s == nil || s.orders == nil || s.db == nil {
		return fulfillment.Order{}, fulfillment.ErrStoreUnavailable
	}
	if strings.TrimSpace(order.TenantID) == "" {
		return fulfillment.Order{}, fulfillment.ErrTenantRequired
	}
	if strings.TrimSpace(order.SessionID) == "" {
		return fulfillment.Order{}, fmt.Errorf("sqlstore: order session id is required")
	}

	now := s.now()
	record := &orderRecord{
		ID:             uuid.NewString(),
		TenantID:       strings.TrimSpace(order.TenantID),
		CustomerID:     strings.TrimSpace(order.CustomerID),
		SessionID:      strings.TrimSpace(order.SessionID),
		Type:           strings.TrimSpace(order.Type),
		Status:         strings.TrimSpace(order.Status),
		Currency:       strings.ToLower(strings.TrimSpace(order.Currency)),
		AmountTotal:    order.AmountTotal,
		PickupPlaceID:  strings.TrimSpace(order.PickupPlaceID),
		DropoffPlaceID: strings.TrimSpace(order.DropoffPlaceID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var created fulfillment.Order
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		inserted, createErr := s.orders.CreateTx(ctx, tx, record)
		if createErr != nil {
			if isUniqueViolation(createErr) {
				return fulfillment.ErrOrderExists
			}
			return createErr
		}
		created = toOrder(inserted)

		for _, item := range order.Items {
			itemRecord := &orderItemRecord{
				ID:          uuid.NewString(),
				OrderID:     inserted.ID,
				TenantID:    inserted.TenantID,
				Name:        strings.TrimSpace(item.Name),
				Description: strings.TrimSpace(item.Description),
				Type:        strings.TrimSpace(item.Type),
				CreatedAt:   now,
			}
			if _, insertErr := tx.NewInsert().Model(itemRecord).Exec(ctx); insertErr != nil {
				return insertErr
			}
			created.Items = append(created.Items, fulfillment.OrderItem{
				Name:        itemRecord.Name,
				Description: itemRecord.Description,
				Type:        itemRecord.Type,
			})
		}

		for _, waypoint := range order.Waypoints {
			waypointRecord := &waypointRecord{
				ID:        uuid.NewString(),
				OrderID:   inserted.ID,
				TenantID:  inserted.TenantID,
				PlaceID:   strings.TrimSpace(waypoint.PlaceID),
				Sequence:  waypoint.Sequence,
				CreatedAt: now,
			}
			if _, insertErr := tx.NewInsert().Model(waypointRecord).Exec(ctx); insertErr != nil {
				return insertErr
			}
			created.Waypoints = append(created.Waypoints, fulfillment.Waypoint{
				ID:       waypointRecord.ID,
				OrderID:  waypointRecord.OrderID,
				PlaceID:  waypointRecord.PlaceID,
				Sequence: waypointRecord.Sequence,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fulfillment.ErrOrderExists) || isUniqueViolation(err) {
			return fulfillment.Order{}, fulfillment.ErrOrderExists
		}
		return fulfillment.Order{}, err
	}
	return created, nil
}

func toContact(record *contactRecord) fulfillment.Contact {
	if record == nil {
		return fulfillment.Contact{}
	}
	return fulfillment.Contact{
		ID:        record.ID,
		TenantID:  record.TenantID,
		Name:      record.Name,
		Email:     record.Email,
		Phone:     record.Phone,
		Type:      record.Type,
		CreatedAt: record.CreatedAt.UTC(),
	}
}

func toPlace(record *placeRecord) fulfillment.Place {
	if record == nil {
		return fulfillment.Place{}
	}
	return fulfillment.Place{
		ID:         record.ID,
		TenantID:   record.TenantID,
		Name:       record.Name,
		Street1:    record.Street1,
		Street2:    record.Street2,
		City:       record.City,
		Province:   record.Province,
		PostalCode: record.PostalCode,
		Country:    record.Country,
		Location: fulfillment.Point{
			Lat: record.Latitude,
			Lng: record.Longitude,
		},
		CreatedAt: record.CreatedAt.UTC(),
	}
}

func toOrder(record *orderRecord) fulfillment.Order {
	if record == nil {
		return fulfillment.Order{}
	}
	return fulfillment.Order{
		ID:             record.ID,
		TenantID:       record.TenantID,
		CustomerID:     record.CustomerID,
		SessionID:      record.SessionID,
		Type:           record.Type,
		Status:         record.Status,
		Currency:       record.Currency,
		AmountTotal:    record.AmountTotal,
		PickupPlaceID:  record.PickupPlaceID,
		DropoffPlaceID: record.DropoffPlaceID,
		CreatedAt:      record.CreatedAt.UTC(),
	}
}
