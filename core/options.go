package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig      Config
	logger             Logger
	loggerProvider     LoggerProvider
	metricsRecorder    MetricsRecorder
	errorMapper        ErrorMapper
	configProvider     ConfigProvider
	optionsResolver    OptionsResolver
	eventStore         EventStore
	eventReader        EventReader
	taskQueue          TaskQueue
	handlers           *HandlerRegistry
	pendingHandlers    map[string]EventHandler
	fallbackHandler    EventHandler
	publisher          Publisher
	notificationRouter NotificationRouter
	retryPolicy        RetryPolicy
	workerHook         JobWorkerHook
	now                func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithEventStore(store EventStore) Option {
	return func(b *serviceBuilder) {
		b.eventStore = store
	}
}

// WithEventReader overrides the read path used for administrative listing,
// typically a cached reader in front of the store.
func WithEventReader(reader EventReader) Option {
	return func(b *serviceBuilder) {
		b.eventReader = reader
	}
}

func WithTaskQueue(queue TaskQueue) Option {
	return func(b *serviceBuilder) {
		b.taskQueue = queue
	}
}

func WithHandlerRegistry(registry *HandlerRegistry) Option {
	return func(b *serviceBuilder) {
		b.handlers = registry
	}
}

func WithHandler(eventType string, handler EventHandler) Option {
	return func(b *serviceBuilder) {
		if b.pendingHandlers == nil {
			b.pendingHandlers = map[string]EventHandler{}
		}
		b.pendingHandlers[strings.TrimSpace(eventType)] = handler
	}
}

func WithFallbackHandler(handler EventHandler) Option {
	return func(b *serviceBuilder) {
		b.fallbackHandler = handler
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(b *serviceBuilder) {
		b.publisher = publisher
	}
}

func WithNotificationRouter(router NotificationRouter) Option {
	return func(b *serviceBuilder) {
		b.notificationRouter = router
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *serviceBuilder) {
		b.retryPolicy = policy
	}
}

func WithWorkerHook(hook JobWorkerHook) Option {
	return func(b *serviceBuilder) {
		b.workerHook = hook
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	return serviceBuilder{
		runtimeConfig:   runtime,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded config < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.QueueName) != "" {
		layer["queue_name"] = cfg.QueueName
	}

	processing := map[string]any{}
	if includeZero || cfg.Processing.MaxAttempts != 0 {
		processing["max_attempts"] = cfg.Processing.MaxAttempts
	}
	if includeZero || cfg.Processing.RetryDelay != 0 {
		processing["retry_delay"] = cfg.Processing.RetryDelay
	}
	if includeZero || cfg.Processing.Workers != 0 {
		processing["workers"] = cfg.Processing.Workers
	}
	if includeZero || cfg.Processing.DequeueTimeout != 0 {
		processing["dequeue_timeout"] = cfg.Processing.DequeueTimeout
	}
	if len(processing) > 0 {
		layer["processing"] = processing
	}

	notify := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Notify.Channel) != "" {
		notify["channel"] = cfg.Notify.Channel
	}
	if includeZero || cfg.Notify.Timeout != 0 {
		notify["timeout"] = cfg.Notify.Timeout
	}
	if includeZero || cfg.Notify.Attempts != 0 {
		notify["attempts"] = cfg.Notify.Attempts
	}
	if includeZero || cfg.Notify.Backoff != 0 {
		notify["backoff"] = cfg.Notify.Backoff
	}
	if len(notify) > 0 {
		layer["notify"] = notify
	}
	return layer
}
