package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// memoryEventStore mirrors the SQL store contract, including a blocking
// per-row lock held for the lifetime of a Begin callback.
type memoryEventStore struct {
	mu        sync.Mutex
	rows      map[string]*BufferedEvent
	rowLocks  map[string]*sync.Mutex
	insertErr error
	updateErr error
	getErr    error
	updates   []StatusUpdate
	now       func() time.Time
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{
		rows:     map[string]*BufferedEvent{},
		rowLocks: map[string]*sync.Mutex{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *memoryEventStore) seed(event BufferedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = "row_" + event.EventID
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}
	stored := event.Clone()
	s.rows[event.EventID] = &stored
}

func (s *memoryEventStore) InsertIfAbsent(_ context.Context, event NewEvent) (InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return InsertResult{}, s.insertErr
	}
	if existing, ok := s.rows[event.EventID]; ok {
		return InsertResult{Event: existing.Clone(), Inserted: false}, nil
	}
	now := s.now()
	row := &BufferedEvent{
		ID:        fmt.Sprintf("row_%d", len(s.rows)+1),
		EventID:   event.EventID,
		EventType: event.EventType,
		Payload:   append([]byte(nil), event.Payload...),
		Status:    EventStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rows[event.EventID] = row
	return InsertResult{Event: row.Clone(), Inserted: true}, nil
}

func (s *memoryEventStore) Begin(ctx context.Context, fn func(ctx context.Context, tx EventTx) error) error {
	tx := &memoryEventTx{store: s}
	defer tx.release()
	return fn(ctx, tx)
}

func (s *memoryEventStore) UpdateStatus(_ context.Context, eventID string, update StatusUpdate) (bool, error) {
	return s.apply(eventID, update)
}

func (s *memoryEventStore) Get(_ context.Context, eventID string) (BufferedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return BufferedEvent{}, s.getErr
	}
	row, ok := s.rows[eventID]
	if !ok {
		return BufferedEvent{}, NotFoundError(eventID)
	}
	return row.Clone(), nil
}

func (s *memoryEventStore) List(_ context.Context, filter EventFilter) (EventPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filter = filter.Normalize()
	items := []BufferedEvent{}
	for _, row := range s.rows {
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		items = append(items, row.Clone())
	}
	return EventPage{Items: items, Total: len(items), Page: filter.Page, PerPage: filter.PerPage}, nil
}

func (s *memoryEventStore) apply(eventID string, update StatusUpdate) (bool, error) {
	if err := update.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return false, s.updateErr
	}
	row, ok := s.rows[eventID]
	if !ok {
		return false, nil
	}
	if update.ExpectStatus != "" && row.Status != update.ExpectStatus {
		return false, nil
	}
	s.updates = append(s.updates, update)
	row.Status = update.Status
	if update.Attempts != nil {
		row.Attempts = *update.Attempts
	}
	if update.LastError != nil {
		row.LastError = *update.LastError
	}
	if update.ProcessedAt != nil {
		value := *update.ProcessedAt
		row.ProcessedAt = &value
	}
	row.UpdatedAt = s.now()
	return true, nil
}

func (s *memoryEventStore) rowLock(eventID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.rowLocks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		s.rowLocks[eventID] = lock
	}
	return lock
}

func (s *memoryEventStore) snapshot(eventID string) BufferedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[eventID]
	if !ok {
		return BufferedEvent{}
	}
	return row.Clone()
}

type memoryEventTx struct {
	store *memoryEventStore
	held  []*sync.Mutex
}

func (tx *memoryEventTx) LockForUpdate(ctx context.Context, eventID string) (BufferedEvent, error) {
	lock := tx.store.rowLock(eventID)
	lock.Lock()
	tx.held = append(tx.held, lock)
	return tx.store.Get(ctx, eventID)
}

func (tx *memoryEventTx) UpdateStatus(_ context.Context, eventID string, update StatusUpdate) (bool, error) {
	return tx.store.apply(eventID, update)
}

func (tx *memoryEventTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	tx.held = nil
}

type recordingTaskQueue struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (q *recordingTaskQueue) Enqueue(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingTaskQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type countingHandler struct {
	mu     sync.Mutex
	calls  map[string]int
	delay  time.Duration
	errFor map[string]error
}

func newCountingHandler() *countingHandler {
	return &countingHandler{calls: map[string]int{}, errFor: map[string]error{}}
}

func (h *countingHandler) Handle(_ context.Context, eventType string, payload []byte) error {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(payload)
	h.calls[key]++
	if err, ok := h.errFor[key]; ok {
		return err
	}
	if err, ok := h.errFor[eventType]; ok {
		return err
	}
	return nil
}

func (h *countingHandler) callsFor(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[key]
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []Notification
	fail     int
	err      error
	calls    int
}

func (p *capturePublisher) Publish(_ context.Context, channel string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil && (p.fail < 0 || p.calls <= p.fail) {
		return p.err
	}
	p.messages = append(p.messages, Notification{Channel: channel, Message: append([]byte(nil), message...)})
	return nil
}

var errBoom = errors.New("boom")
