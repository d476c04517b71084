package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
)

// HandlerRegistry routes an event type to its side-effect handler. Types
// without a handler are logged and treated as processed.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	fallback EventHandler
	logger   Logger
}

func NewHandlerRegistry(logger Logger) *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]EventHandler),
		logger:   glog.Ensure(logger),
	}
}

func (r *HandlerRegistry) Register(eventType string, handler EventHandler) error {
	if r == nil {
		return fmt.Errorf("core: handler registry is nil")
	}
	if handler == nil {
		return fmt.Errorf("core: handler is nil")
	}
	key := strings.TrimSpace(eventType)
	if key == "" {
		return fmt.Errorf("core: event type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("core: handler already registered: %s", key)
	}
	r.handlers[key] = handler
	return nil
}

func (r *HandlerRegistry) RegisterFunc(eventType string, fn EventHandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("core: handler is nil")
	}
	return r.Register(eventType, fn)
}

// SetFallback installs a handler for event types with no explicit route.
func (r *HandlerRegistry) SetFallback(handler EventHandler) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

func (r *HandlerRegistry) Lookup(eventType string) (EventHandler, bool) {
	if r == nil {
		return nil, false
	}
	key := strings.TrimSpace(eventType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if handler, ok := r.handlers[key]; ok {
		return handler, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

func (r *HandlerRegistry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	keys := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (r *HandlerRegistry) Handle(ctx context.Context, eventType string, payload []byte) error {
	handler, ok := r.Lookup(eventType)
	if !ok {
		if r != nil && r.logger != nil {
			r.logger.WithContext(ctx).Info("no handler registered for event type, skipping", "event_type", eventType)
		}
		return nil
	}
	return handler.Handle(ctx, eventType, payload)
}

var _ EventHandler = (*HandlerRegistry)(nil)
