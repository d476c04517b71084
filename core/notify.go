package core

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// BestEffortNotifier publishes the notifications a router derives from a
// processed event. Publish failures are retried within the notifier's own
// budget, then logged and dropped; they never affect the event status.
type BestEffortNotifier struct {
	Router    NotificationRouter
	Publisher Publisher
	Timeout   time.Duration
	Attempts  int
	Backoff   time.Duration
	Logger    Logger
	Metrics   MetricsRecorder
}

func NewBestEffortNotifier(router NotificationRouter, publisher Publisher, cfg NotifyConfig) *BestEffortNotifier {
	return &BestEffortNotifier{
		Router:    router,
		Publisher: publisher,
		Timeout:   cfg.Timeout,
		Attempts:  cfg.Attempts,
		Backoff:   cfg.Backoff,
	}
}

func (n *BestEffortNotifier) Notify(ctx context.Context, event BufferedEvent) {
	if n == nil || n.Router == nil || n.Publisher == nil {
		return
	}
	tel := newTelemetry("inbox.notify", nil, n.Logger, n.Metrics)
	notifications, err := n.Router.Route(ctx, event)
	if err != nil {
		fields := eventFields(event)
		fields["error"] = err.Error()
		tel.logWarn(ctx, "notification routing failed", fields)
		return
	}
	for _, notification := range notifications {
		n.publish(ctx, tel, event, notification)
	}
}

func (n *BestEffortNotifier) publish(ctx context.Context, tel telemetry, event BufferedEvent, notification Notification) bool {
	channel := strings.TrimSpace(notification.Channel)
	if channel == "" {
		return false
	}
	attempts := n.Attempts
	if attempts < 1 {
		attempts = 1
	}
	startedAt := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = n.publishOnce(ctx, channel, notification.Message)
		if lastErr == nil {
			tel.observe(ctx, startedAt, "notify", "published", nil, map[string]any{
				"event_id":   event.EventID,
				"event_type": event.EventType,
				"channel":    channel,
				"attempt":    attempt,
			})
			return true
		}
		if attempt < attempts && !sleepContext(ctx, n.Backoff) {
			break
		}
	}
	tel.observe(ctx, startedAt, "notify", "dropped", lastErr, map[string]any{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"channel":    channel,
	})
	return false
}

func (n *BestEffortNotifier) publishOnce(ctx context.Context, channel string, message []byte) error {
	publishCtx := ctx
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		publishCtx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}
	return n.Publisher.Publish(publishCtx, channel, message)
}

// ChannelRouter announces every processed event on a single channel.
type ChannelRouter struct {
	Channel string
}

type EventNotice struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (r ChannelRouter) Route(_ context.Context, event BufferedEvent) ([]Notification, error) {
	channel := strings.TrimSpace(r.Channel)
	if channel == "" {
		return nil, nil
	}
	message, err := json.Marshal(EventNotice{
		EventID:     event.EventID,
		EventType:   event.EventType,
		Status:      string(event.Status),
		ProcessedAt: event.ProcessedAt,
	})
	if err != nil {
		return nil, err
	}
	return []Notification{{Channel: channel, Message: message}}, nil
}

// RouterChain concatenates the notifications of several routers.
type RouterChain []NotificationRouter

func (c RouterChain) Route(ctx context.Context, event BufferedEvent) ([]Notification, error) {
	var out []Notification
	for _, router := range c {
		if router == nil {
			continue
		}
		notifications, err := router.Route(ctx, event)
		if err != nil {
			return nil, err
		}
		out = append(out, notifications...)
	}
	return out, nil
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var (
	_ Notifier           = (*BestEffortNotifier)(nil)
	_ NotificationRouter = ChannelRouter{}
	_ NotificationRouter = RouterChain{}
)
