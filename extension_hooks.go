package inbox

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-webhook-inbox/core"
)

// HandlerPack groups the event handlers of one downstream integration.
type HandlerPack struct {
	Name     string
	Handlers map[string]core.EventHandler
	// Router announces the pack's side effects once an event is done.
	Router core.NotificationRouter
}

type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks map[string]HandlerPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks: map[string]HandlerPack{},
	}
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("inbox: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("inbox: handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("inbox: handler pack %q has no handlers", name)
	}

	handlers := make(map[string]core.EventHandler, len(pack.Handlers))
	for eventType, handler := range pack.Handlers {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return fmt.Errorf("inbox: handler pack %q has an empty event type", name)
		}
		if handler == nil {
			return fmt.Errorf("inbox: handler pack %q has a nil handler for %s", name, eventType)
		}
		handlers[eventType] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("inbox: handler pack %q already registered", name)
	}
	h.handlerPacks[name] = HandlerPack{Name: name, Handlers: handlers, Router: pack.Router}
	return nil
}

// ApplyHandlerPacks registers every pack handler in name order. Two packs
// claiming the same event type is an error.
func (h *ExtensionHooks) ApplyHandlerPacks(registry *core.HandlerRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("inbox: handler registry is required")
	}
	owners := map[string]string{}
	for _, pack := range h.HandlerPacks() {
		eventTypes := make([]string, 0, len(pack.Handlers))
		for eventType := range pack.Handlers {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)
		for _, eventType := range eventTypes {
			if owner, exists := owners[eventType]; exists {
				return fmt.Errorf("inbox: event type %s claimed by packs %q and %q", eventType, owner, pack.Name)
			}
			owners[eventType] = pack.Name
			if err := registry.Register(eventType, pack.Handlers[eventType]); err != nil {
				return err
			}
		}
	}
	return nil
}

// NotificationRouters returns the pack routers in name order.
func (h *ExtensionHooks) NotificationRouters() core.RouterChain {
	if h == nil {
		return nil
	}
	var chain core.RouterChain
	for _, pack := range h.HandlerPacks() {
		if pack.Router != nil {
			chain = append(chain, pack.Router)
		}
	}
	return chain
}

func (h *ExtensionHooks) HandlerPacks() []HandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]HandlerPack, 0, len(names))
	for _, name := range names {
		pack := h.handlerPacks[name]
		handlers := make(map[string]core.EventHandler, len(pack.Handlers))
		for eventType, handler := range pack.Handlers {
			handlers[eventType] = handler
		}
		out = append(out, HandlerPack{Name: pack.Name, Handlers: handlers, Router: pack.Router})
	}
	return out
}

func (h *ExtensionHooks) PackNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
