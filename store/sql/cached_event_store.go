package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhook-inbox/core"
)

const bufferedEventCacheKeyPrefix = "go-webhook-inbox::buffered_event::v1"

// BufferedEventStore is the full surface a cached wrapper needs from its base.
type BufferedEventStore interface {
	core.EventStore
	core.EventReader
}

// CachedEventStore serves single-event reads from a cache and drops the
// cached row on every write that can change it. Listing always reads through.
type CachedEventStore struct {
	base  BufferedEventStore
	cache repositorycache.CacheService
}

func NewCachedEventStore(base BufferedEventStore, cacheService repositorycache.CacheService) (*CachedEventStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base event store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: event cache service is required")
	}
	return &CachedEventStore{base: base, cache: cacheService}, nil
}

// BufferedEventCacheKey returns go-webhook-inbox::buffered_event::v1::<event_id>
// with the id URL-path escaped.
func BufferedEventCacheKey(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("sqlstore: event id is required")
	}
	return bufferedEventCacheKeyPrefix + "::" + url.PathEscape(eventID), nil
}

func (s *CachedEventStore) InsertIfAbsent(ctx context.Context, event core.NewEvent) (core.InsertResult, error) {
	if err := s.validate(); err != nil {
		return core.InsertResult{}, err
	}
	result, err := s.base.InsertIfAbsent(ctx, event)
	if err != nil {
		return core.InsertResult{}, err
	}
	if result.Inserted {
		if err := s.invalidate(ctx, result.Event.EventID); err != nil {
			return core.InsertResult{}, err
		}
	}
	return result, nil
}

func (s *CachedEventStore) Begin(ctx context.Context, fn func(ctx context.Context, tx core.EventTx) error) error {
	if err := s.validate(); err != nil {
		return err
	}
	tracked := &trackingTx{}
	err := s.base.Begin(ctx, func(ctx context.Context, tx core.EventTx) error {
		tracked.inner = tx
		return fn(ctx, tracked)
	})
	for _, eventID := range tracked.touchedIDs() {
		if invalidateErr := s.invalidate(ctx, eventID); invalidateErr != nil && err == nil {
			err = invalidateErr
		}
	}
	return err
}

func (s *CachedEventStore) UpdateStatus(ctx context.Context, eventID string, update core.StatusUpdate) (bool, error) {
	if err := s.validate(); err != nil {
		return false, err
	}
	changed, err := s.base.UpdateStatus(ctx, eventID, update)
	if err != nil {
		return false, err
	}
	if changed {
		if err := s.invalidate(ctx, eventID); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (s *CachedEventStore) Get(ctx context.Context, eventID string) (core.BufferedEvent, error) {
	if err := s.validate(); err != nil {
		return core.BufferedEvent{}, err
	}
	cacheKey, err := BufferedEventCacheKey(eventID)
	if err != nil {
		return core.BufferedEvent{}, err
	}
	event, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.BufferedEvent, error) {
		fetched, fetchErr := s.base.Get(ctx, strings.TrimSpace(eventID))
		if fetchErr != nil {
			return core.BufferedEvent{}, fetchErr
		}
		return fetched.Clone(), nil
	})
	if err != nil {
		return core.BufferedEvent{}, err
	}
	return event.Clone(), nil
}

func (s *CachedEventStore) List(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	if err := s.validate(); err != nil {
		return core.EventPage{}, err
	}
	return s.base.List(ctx, filter)
}

func (s *CachedEventStore) validate() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return nil
}

func (s *CachedEventStore) invalidate(ctx context.Context, eventID string) error {
	cacheKey, err := BufferedEventCacheKey(eventID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

type trackingTx struct {
	inner core.EventTx

	mu      sync.Mutex
	touched []string
}

func (t *trackingTx) LockForUpdate(ctx context.Context, eventID string) (core.BufferedEvent, error) {
	return t.inner.LockForUpdate(ctx, eventID)
}

func (t *trackingTx) UpdateStatus(ctx context.Context, eventID string, update core.StatusUpdate) (bool, error) {
	changed, err := t.inner.UpdateStatus(ctx, eventID, update)
	if err == nil && changed {
		t.mu.Lock()
		t.touched = append(t.touched, strings.TrimSpace(eventID))
		t.mu.Unlock()
	}
	return changed, err
}

func (t *trackingTx) touchedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.touched...)
}

var (
	_ core.EventStore  = (*CachedEventStore)(nil)
	_ core.EventReader = (*CachedEventStore)(nil)
)
