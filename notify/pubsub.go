package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/goliatone/go-webhook-inbox/core"
)

// PubSubPublisher publishes notifications to Google Cloud Pub/Sub. Each
// channel maps to a topic of the same name; topic handles are cached and
// flushed on Close.
type PubSubPublisher struct {
	client *pubsub.Client
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	// TopicName maps a channel to a topic id. Pub/Sub ids may not start with
	// "goog" and must begin with a letter.
	TopicName func(channel string) string
}

func NewPubSubPublisher(client *pubsub.Client) *PubSubPublisher {
	return &PubSubPublisher{
		client:    client,
		topics:    map[string]*pubsub.Topic{},
		TopicName: DefaultTopicName,
	}
}

// DefaultTopicName keeps letters, digits and the separators Pub/Sub accepts
// and replaces everything else with "-".
func DefaultTopicName(channel string) string {
	channel = strings.TrimSpace(channel)
	var b strings.Builder
	for _, r := range channel {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.', r == '~', r == '+', r == '%':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func (p *PubSubPublisher) topic(channel string) (*pubsub.Topic, error) {
	name := channel
	if p.TopicName != nil {
		name = p.TopicName(channel)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("notify: topic name is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic, ok := p.topics[name]; ok {
		return topic, nil
	}
	topic := p.client.Topic(name)
	p.topics[name] = topic
	return topic, nil
}

// Publish blocks until the server acknowledges the message or ctx is done.
func (p *PubSubPublisher) Publish(ctx context.Context, channel string, message []byte) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("notify: pubsub client is not configured")
	}
	topic, err := p.topic(channel)
	if err != nil {
		return err
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       message,
		Attributes: map[string]string{"channel": channel},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", topic.ID(), err)
	}
	return nil
}

func (p *PubSubPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, topic := range p.topics {
		topic.Stop()
		delete(p.topics, name)
	}
	return nil
}

var _ core.Publisher = (*PubSubPublisher)(nil)
