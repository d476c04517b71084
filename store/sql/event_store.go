package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhook-inbox/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// EventStore persists buffered provider events in inbox_buffered_events.
// The unique index on event_id is the idempotency boundary.
type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*bufferedEventRecord]
	now  func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*bufferedEventRecord](db, bufferedEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid buffered event repository wiring: %w", err)
		}
	}
	return &EventStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventStore) InsertIfAbsent(ctx context.Context, event core.NewEvent) (core.InsertResult, error) {
	if s == nil || s.db == nil {
		return core.InsertResult{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	event = event.Normalize()
	if err := event.Validate(); err != nil {
		return core.InsertResult{}, err
	}

	// payload is NOT NULL, so an empty body is stored as an empty blob
	payload := make([]byte, len(event.Payload))
	copy(payload, event.Payload)

	now := s.now()
	record := &bufferedEventRecord{
		ID:        uuid.NewString(),
		EventID:   event.EventID,
		EventType: event.EventType,
		Payload:   payload,
		Status:    string(core.EventStatusPending),
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (event_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil && !isUniqueViolation(err) {
		return core.InsertResult{}, core.StorageError(err, "sqlstore: insert buffered event failed")
	}
	if err == nil {
		affected, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			return core.InsertResult{}, core.StorageError(rowsErr, "sqlstore: insert buffered event failed")
		}
		if affected > 0 {
			return core.InsertResult{Event: toBufferedEvent(record), Inserted: true}, nil
		}
	}

	existing, err := s.Get(ctx, event.EventID)
	if err != nil {
		return core.InsertResult{}, err
	}
	return core.InsertResult{Event: existing, Inserted: false}, nil
}

func (s *EventStore) Begin(ctx context.Context, fn func(ctx context.Context, tx core.EventTx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: transaction callback is required")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &eventTx{store: s, tx: tx})
	})
}

func (s *EventStore) UpdateStatus(ctx context.Context, eventID string, update core.StatusUpdate) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: event store is not configured")
	}
	return s.updateStatus(ctx, s.db, eventID, update)
}

func (s *EventStore) Get(ctx context.Context, eventID string) (core.BufferedEvent, error) {
	if s == nil || s.db == nil {
		return core.BufferedEvent{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.BufferedEvent{}, fmt.Errorf("sqlstore: event id is required")
	}
	record := &bufferedEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BufferedEvent{}, core.NotFoundError(eventID)
		}
		return core.BufferedEvent{}, core.StorageError(err, "sqlstore: load buffered event failed")
	}
	return toBufferedEvent(record), nil
}

func (s *EventStore) List(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	if s == nil || s.repo == nil {
		return core.EventPage{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	filter = filter.Normalize()

	criteria := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(filter.PerPage, filter.Offset()),
	}
	if filter.Status != "" {
		criteria = append(criteria, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if filter.EventType != "" {
		criteria = append(criteria, repository.SelectBy("event_type", "=", filter.EventType))
	}

	records, total, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.EventPage{}, core.StorageError(err, "sqlstore: list buffered events failed")
	}
	items := make([]core.BufferedEvent, 0, len(records))
	for _, record := range records {
		items = append(items, toBufferedEvent(record))
	}
	return core.EventPage{
		Items:   items,
		Total:   total,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}, nil
}

func (s *EventStore) lockForUpdate(ctx context.Context, tx bun.Tx, eventID string) (core.BufferedEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.BufferedEvent{}, fmt.Errorf("sqlstore: event id is required")
	}

	record := &bufferedEventRecord{}
	query := tx.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", eventID).
		Limit(1)
	if s.db.Dialect().Name() == dialect.SQLite {
		// sqlite has no row locks; a no-op write takes the database write
		// lock for the rest of the transaction.
		if _, err := tx.NewUpdate().
			Model((*bufferedEventRecord)(nil)).
			Set("updated_at = updated_at").
			Where("?TableAlias.event_id = ?", eventID).
			Exec(ctx); err != nil {
			return core.BufferedEvent{}, core.StorageError(err, "sqlstore: lock buffered event failed")
		}
	} else {
		query = query.For("UPDATE")
	}

	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BufferedEvent{}, core.NotFoundError(eventID)
		}
		return core.BufferedEvent{}, core.StorageError(err, "sqlstore: lock buffered event failed")
	}
	return toBufferedEvent(record), nil
}

func (s *EventStore) updateStatus(ctx context.Context, db bun.IDB, eventID string, update core.StatusUpdate) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("sqlstore: event id is required")
	}
	if err := update.Validate(); err != nil {
		return false, err
	}

	query := db.NewUpdate().
		Model((*bufferedEventRecord)(nil)).
		Set("status = ?", string(update.Status)).
		Set("updated_at = ?", s.now()).
		Where("?TableAlias.event_id = ?", eventID)
	if update.Attempts != nil {
		query = query.Set("attempts = ?", *update.Attempts)
	}
	if update.LastError != nil {
		query = query.Set("last_error = ?", *update.LastError)
	}
	if update.ProcessedAt != nil {
		query = query.Set("processed_at = ?", update.ProcessedAt.UTC())
	}
	if update.ExpectStatus != "" {
		query = query.Where("?TableAlias.status = ?", string(update.ExpectStatus))
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return false, core.StorageError(err, "sqlstore: update buffered event status failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, core.StorageError(err, "sqlstore: update buffered event status failed")
	}
	return affected > 0, nil
}

type eventTx struct {
	store *EventStore
	tx    bun.Tx
}

func (t *eventTx) LockForUpdate(ctx context.Context, eventID string) (core.BufferedEvent, error) {
	return t.store.lockForUpdate(ctx, t.tx, eventID)
}

func (t *eventTx) UpdateStatus(ctx context.Context, eventID string, update core.StatusUpdate) (bool, error) {
	return t.store.updateStatus(ctx, t.tx, eventID, update)
}

func toBufferedEvent(record *bufferedEventRecord) core.BufferedEvent {
	if record == nil {
		return core.BufferedEvent{}
	}
	event := core.BufferedEvent{
		ID:        record.ID,
		EventID:   record.EventID,
		EventType: record.EventType,
		Payload:   append([]byte(nil), record.Payload...),
		Status:    core.EventStatus(record.Status),
		Attempts:  record.Attempts,
		LastError: record.LastError,
		CreatedAt: record.CreatedAt.UTC(),
		UpdatedAt: record.UpdatedAt.UTC(),
	}
	if record.ProcessedAt != nil {
		processedAt := record.ProcessedAt.UTC()
		event.ProcessedAt = &processedAt
	}
	return event
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
