package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
	err error
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, p.err
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

func newTestService(t *testing.T, cfg Config, opts ...Option) (*Service, *memoryEventStore, *recordingTaskQueue) {
	t.Helper()
	store := newMemoryEventStore()
	queue := &recordingTaskQueue{}
	base := []Option{WithEventStore(store), WithTaskQueue(queue)}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store, queue
}

func TestNewService_DefaultConfig(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	cfg := svc.Config()
	if cfg.ServiceName != "webhook-inbox" || cfg.QueueName != DefaultQueueName {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.Processing.MaxAttempts != DefaultMaxAttempts || cfg.Processing.RetryDelay != DefaultRetryDelay {
		t.Fatalf("expected retry defaults, got %#v", cfg.Processing)
	}
	if svc.Logger() == nil || svc.Handlers() == nil {
		t.Fatalf("expected default logger and handler registry")
	}
}

func TestNewService_RequiresStoreAndQueue(t *testing.T) {
	if _, err := NewService(Config{}, WithTaskQueue(&recordingTaskQueue{})); err == nil {
		t.Fatalf("expected missing store to fail")
	}
	_, err := NewService(Config{}, WithEventStore(newMemoryEventStore()))
	if err == nil {
		t.Fatalf("expected missing queue to fail")
	}
	var mapped *goerrors.Error
	if !goerrors.As(err, &mapped) {
		t.Fatalf("expected build error to be mapped, got %T", err)
	}
}

func TestNewService_LayersRuntimeOverLoadedConfig(t *testing.T) {
	loader := StaticConfigLoader{Values: map[string]any{
		"service_name": "from-file",
		"queue_name":   "stripe-webhooks",
		"processing": map[string]any{
			"max_attempts": 7,
		},
	}}
	svc, _, queue := newTestService(t, Config{Processing: ProcessingConfig{MaxAttempts: 3}},
		WithConfigProvider(NewCfgxConfigProvider(loader)),
	)

	cfg := svc.Config()
	if cfg.ServiceName != "from-file" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.Processing.MaxAttempts != 3 {
		t.Fatalf("expected runtime override to win, got %d", cfg.Processing.MaxAttempts)
	}
	if cfg.Processing.RetryDelay != DefaultRetryDelay {
		t.Fatalf("expected default retry delay to survive, got %s", cfg.Processing.RetryDelay)
	}

	if _, err := svc.Ingest(context.Background(), IngestRequest{EventID: "evt_1", EventType: "invoice.paid", Payload: []byte("{}")}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if queue.tasks[0].Lane != "stripe-webhooks" {
		t.Fatalf("expected configured lane, got %q", queue.tasks[0].Lane)
	}
}

func TestNewService_CustomProviderAndResolver(t *testing.T) {
	svc, _, _ := newTestService(t, Config{},
		WithConfigProvider(&fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}),
		WithOptionsResolver(&fixedOptionsResolver{cfg: func() Config {
			cfg := DefaultConfig()
			cfg.ServiceName = "resolved"
			return cfg
		}()}),
	)
	if svc.Config().ServiceName != "resolved" {
		t.Fatalf("expected resolver output, got %q", svc.Config().ServiceName)
	}

	_, err := NewService(Config{},
		WithEventStore(newMemoryEventStore()),
		WithTaskQueue(&recordingTaskQueue{}),
		WithConfigProvider(&fixedConfigProvider{err: errors.New("config unreadable")}),
	)
	if err == nil {
		t.Fatalf("expected provider error to surface")
	}
}

func TestNewService_CustomErrorMapper(t *testing.T) {
	sentinel := errors.New("sentinel")
	svc, _, _ := newTestService(t, Config{}, WithErrorMapper(func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}))

	_, err := svc.GetEvent(context.Background(), "evt_missing")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected custom mapper output, got %v", err)
	}
}

func TestNewService_WithLoggerAndMetrics(t *testing.T) {
	logger := newCaptureLogger()
	metrics := &captureMetricsRecorder{}
	svc, _, _ := newTestService(t, Config{}, WithLogger(logger), WithMetricsRecorder(metrics))

	if _, err := svc.Ingest(context.Background(), IngestRequest{EventID: "evt_1", EventType: "invoice.paid"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, ok := findLog(logger.snapshot(), "info", "ingest succeeded"); !ok {
		t.Fatalf("expected ingest log on injected logger")
	}
	counters, _ := metrics.snapshot()
	if !hasCounter(counters, "inbox.ingest.total", "success") {
		t.Fatalf("expected ingest counter, got %#v", counters)
	}
}

func TestNewService_EndToEndWithHandlersAndPublisher(t *testing.T) {
	processedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	handler := newCountingHandler()
	publisher := &capturePublisher{}
	svc, store, _ := newTestService(t, Config{},
		WithHandler("invoice.paid", handler),
		WithPublisher(publisher),
		WithClock(func() time.Time { return processedAt }),
	)

	if _, err := svc.Ingest(context.Background(), IngestRequest{EventID: "evt_1", EventType: "invoice.paid", Payload: []byte("evt_1")}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	result, err := svc.Process(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != ProcessOutcomeDone {
		t.Fatalf("expected done, got %s", result.Outcome)
	}
	if handler.callsFor("evt_1") != 1 {
		t.Fatalf("expected registered handler to run")
	}
	if got := store.snapshot("evt_1").ProcessedAt; got == nil || !got.Equal(processedAt) {
		t.Fatalf("expected injected clock for processed_at, got %v", got)
	}
	if err := svc.WaitNotifications(context.Background()); err != nil {
		t.Fatalf("wait notifications: %v", err)
	}
	if len(publisher.messages) != 1 || publisher.messages[0].Channel != "inbox.events" {
		t.Fatalf("expected default notify channel, got %#v", publisher.messages)
	}

	// unregistered types are processed as no-ops
	if _, err := svc.Ingest(context.Background(), IngestRequest{EventID: "evt_9", EventType: "customer.created", Payload: []byte("evt_9")}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result, err := svc.Process(context.Background(), "evt_9"); err != nil || result.Outcome != ProcessOutcomeDone {
		t.Fatalf("expected unknown type done, got %#v %v", result, err)
	}
}

func TestNewService_DuplicateHandlerRegistrationFails(t *testing.T) {
	registry := NewHandlerRegistry(nil)
	noop := EventHandlerFunc(func(context.Context, string, []byte) error { return nil })
	if err := registry.Register("invoice.paid", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := NewService(Config{},
		WithEventStore(newMemoryEventStore()),
		WithTaskQueue(&recordingTaskQueue{}),
		WithHandlerRegistry(registry),
		WithHandler("invoice.paid", noop),
	)
	if err == nil {
		t.Fatalf("expected duplicate handler error")
	}
}

func TestNotifyConfig_BudgetCoversAttemptsAndBackoff(t *testing.T) {
	cfg := NotifyConfig{Timeout: 2 * time.Second, Attempts: 3, Backoff: 500 * time.Millisecond}
	if got := cfg.Budget(); got != 7*time.Second {
		t.Fatalf("expected 7s budget, got %s", got)
	}
	if got := (NotifyConfig{Attempts: 3}).Budget(); got != DefaultNotifyBudget {
		t.Fatalf("expected default budget without a publish timeout, got %s", got)
	}
	if got := (NotifyConfig{Timeout: time.Second}).Budget(); got != time.Second {
		t.Fatalf("expected a single attempt budget, got %s", got)
	}
}
