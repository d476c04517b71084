// Package notify holds the publisher backends used for post-processing
// notifications.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhook-inbox/core"
	"github.com/redis/go-redis/v9"
)

// NopPublisher accepts and discards every message.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }

// RedisPublisher publishes notifications with redis PUBLISH.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: strings.TrimSpace(prefix)}
}

func (p *RedisPublisher) Channel(channel string) string {
	channel = strings.TrimSpace(channel)
	if p.prefix == "" {
		return channel
	}
	return p.prefix + channel
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, message []byte) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("notify: redis client is not configured")
	}
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("notify: channel is required")
	}
	return p.client.Publish(ctx, p.Channel(channel), message).Err()
}

var (
	_ core.Publisher = NopPublisher{}
	_ core.Publisher = (*RedisPublisher)(nil)
)
