package core

import (
	"fmt"
	"strings"
	"time"
)

type ProcessingConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	RetryDelay     time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
	Workers        int           `koanf:"workers" mapstructure:"workers"`
	DequeueTimeout time.Duration `koanf:"dequeue_timeout" mapstructure:"dequeue_timeout"`
}

type NotifyConfig struct {
	Channel  string        `koanf:"channel" mapstructure:"channel"`
	Timeout  time.Duration `koanf:"timeout" mapstructure:"timeout"`
	Attempts int           `koanf:"attempts" mapstructure:"attempts"`
	Backoff  time.Duration `koanf:"backoff" mapstructure:"backoff"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	QueueName   string           `koanf:"queue_name" mapstructure:"queue_name"`
	Processing  ProcessingConfig `koanf:"processing" mapstructure:"processing"`
	Notify      NotifyConfig     `koanf:"notify" mapstructure:"notify"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "webhook-inbox",
		QueueName:   DefaultQueueName,
		Processing: ProcessingConfig{
			MaxAttempts:    DefaultMaxAttempts,
			RetryDelay:     DefaultRetryDelay,
			Workers:        4,
			DequeueTimeout: time.Second,
		},
		Notify: NotifyConfig{
			Channel:  "inbox.events",
			Timeout:  5 * time.Second,
			Attempts: 2,
			Backoff:  250 * time.Millisecond,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.QueueName) == "" {
		return fmt.Errorf("core: queue_name is required")
	}
	if c.Processing.MaxAttempts < 1 {
		return fmt.Errorf("core: processing.max_attempts must be at least 1")
	}
	if c.Processing.RetryDelay <= 0 {
		return fmt.Errorf("core: processing.retry_delay must be positive")
	}
	if c.Processing.Workers < 1 {
		return fmt.Errorf("core: processing.workers must be at least 1")
	}
	if c.Notify.Timeout < 0 || c.Notify.Backoff < 0 {
		return fmt.Errorf("core: notify durations must be non-negative")
	}
	if c.Notify.Attempts < 1 {
		return fmt.Errorf("core: notify.attempts must be at least 1")
	}
	return nil
}

// DefaultNotifyBudget bounds the notifications of one event when no
// per-publish timeout is configured.
const DefaultNotifyBudget = 30 * time.Second

// Budget is the total time the notifications of one processed event may
// take: every publish attempt at its timeout plus the backoff between them.
func (c NotifyConfig) Budget() time.Duration {
	if c.Timeout <= 0 {
		return DefaultNotifyBudget
	}
	attempts := max(c.Attempts, 1)
	return time.Duration(attempts)*c.Timeout + time.Duration(attempts-1)*c.Backoff
}

func (c Config) RetryPolicy() FixedDelayRetryPolicy {
	return FixedDelayRetryPolicy{
		MaxAttempts: c.Processing.MaxAttempts,
		Delay:       c.Processing.RetryDelay,
	}
}
