package fulfillment

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-inbox/core"
)

const (
	NotificationOrderCreated = "order.created"
	tenantChannelPrefix      = "company."
)

type OrderNotice struct {
	Event      string    `json:"event"`
	OrderID    string    `json:"order_id"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotificationRouter announces checkout orders on the tenant channel and
// delegates every other event to Fallback.
type NotificationRouter struct {
	Store    Store
	TenantID string
	Fallback core.NotificationRouter
}

func NewNotificationRouter(store Store, tenantID string, channel string) *NotificationRouter {
	return &NotificationRouter{
		Store:    store,
		TenantID: strings.TrimSpace(tenantID),
		Fallback: core.ChannelRouter{Channel: channel},
	}
}

func TenantChannel(tenantID string) string {
	return tenantChannelPrefix + strings.TrimSpace(tenantID)
}

func (r *NotificationRouter) Route(ctx context.Context, event core.BufferedEvent) ([]core.Notification, error) {
	if r == nil {
		return nil, nil
	}
	if event.EventType == EventCheckoutSessionCompleted && r.Store != nil && r.TenantID != "" {
		notification, ok, err := r.orderNotification(ctx, event)
		if err != nil {
			return nil, err
		}
		if ok {
			return []core.Notification{notification}, nil
		}
	}
	if r.Fallback == nil {
		return nil, nil
	}
	return r.Fallback.Route(ctx, event)
}

func (r *NotificationRouter) orderNotification(ctx context.Context, event core.BufferedEvent) (core.Notification, bool, error) {
	session, ok, err := DecodeCheckoutSession(event.Payload)
	if err != nil || !ok {
		return core.Notification{}, false, nil
	}
	order, found, err := r.Store.FindOrderBySession(ctx, r.TenantID, session.ID)
	if err != nil {
		return core.Notification{}, false, err
	}
	if !found {
		return core.Notification{}, false, nil
	}
	notice := OrderNotice{
		Event:      NotificationOrderCreated,
		OrderID:    order.ID,
		TenantID:   order.TenantID,
		CustomerID: order.CustomerID,
		SessionID:  order.SessionID,
		Status:     order.Status,
		Currency:   order.Currency,
		CreatedAt:  order.CreatedAt,
	}
	if !order.AmountTotal.IsZero() {
		notice.Amount = order.AmountTotal.StringFixed(CurrencyDigits(order.Currency))
	}
	message, err := json.Marshal(notice)
	if err != nil {
		return core.Notification{}, false, err
	}
	return core.Notification{Channel: TenantChannel(r.TenantID), Message: message}, true, nil
}

var _ core.NotificationRouter = (*NotificationRouter)(nil)
