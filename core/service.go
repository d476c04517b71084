package core

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
)

// Service wires the ingestion, processing and administration components
// around one event store and task queue.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	store           EventStore
	reader          EventReader
	queue           TaskQueue
	handlers        *HandlerRegistry
	workerHook      JobWorkerHook
	ingestor        *Ingestor
	processor       *Processor
	admin           *Admin
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("inbox", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("inbox"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.eventStore == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: event store is required"))
	}
	if builder.taskQueue == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: task queue is required"))
	}
	reader := builder.eventReader
	if reader == nil {
		if candidate, ok := builder.eventStore.(EventReader); ok {
			reader = candidate
		}
	}

	handlers := builder.handlers
	if handlers == nil {
		handlers = NewHandlerRegistry(logger)
	}
	for eventType, handler := range builder.pendingHandlers {
		if err := handlers.Register(eventType, handler); err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}
	if builder.fallbackHandler != nil {
		handlers.SetFallback(builder.fallbackHandler)
	}

	retryPolicy := builder.retryPolicy
	if retryPolicy == nil {
		retryPolicy = finalConfig.RetryPolicy()
	}

	ingestor := NewIngestor(builder.eventStore, builder.taskQueue)
	ingestor.Lane = finalConfig.QueueName
	ingestor.Logger = logger
	ingestor.Metrics = builder.metricsRecorder

	processor := NewProcessor(builder.eventStore, handlers)
	processor.RetryPolicy = retryPolicy
	processor.Logger = logger
	processor.Metrics = builder.metricsRecorder
	if builder.now != nil {
		processor.Now = builder.now
	}
	if builder.publisher != nil {
		router := builder.notificationRouter
		if router == nil {
			router = ChannelRouter{Channel: finalConfig.Notify.Channel}
		}
		notifier := NewBestEffortNotifier(router, builder.publisher, finalConfig.Notify)
		notifier.Logger = logger
		notifier.Metrics = builder.metricsRecorder
		processor.Notifier = notifier
		processor.NotifyBudget = finalConfig.Notify.Budget()
	}

	admin := NewAdmin(builder.eventStore, reader, builder.taskQueue)
	admin.Lane = finalConfig.QueueName
	admin.Logger = logger
	admin.Metrics = builder.metricsRecorder
	if builder.now != nil {
		admin.Now = builder.now
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		store:           builder.eventStore,
		reader:          reader,
		queue:           builder.taskQueue,
		handlers:        handlers,
		workerHook:      builder.workerHook,
		ingestor:        ingestor,
		processor:       processor,
		admin:           admin,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Handlers() *HandlerRegistry {
	if s == nil {
		return nil
	}
	return s.handlers
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if s == nil {
		return IngestResult{}, fmt.Errorf("core: service is nil")
	}
	result, err := s.ingestor.Ingest(ctx, req)
	return result, s.mapError(err)
}

func (s *Service) Process(ctx context.Context, eventID string) (ProcessResult, error) {
	if s == nil {
		return ProcessResult{}, fmt.Errorf("core: service is nil")
	}
	result, err := s.processor.Process(ctx, eventID)
	return result, s.mapError(err)
}

func (s *Service) RequeueEvent(ctx context.Context, eventID string) (BufferedEvent, error) {
	if s == nil {
		return BufferedEvent{}, fmt.Errorf("core: service is nil")
	}
	event, err := s.admin.Requeue(ctx, eventID)
	return event, s.mapError(err)
}

func (s *Service) ResetStuckEvent(ctx context.Context, eventID string) (BufferedEvent, error) {
	if s == nil {
		return BufferedEvent{}, fmt.Errorf("core: service is nil")
	}
	event, err := s.admin.ResetStuck(ctx, eventID)
	return event, s.mapError(err)
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (BufferedEvent, error) {
	if s == nil {
		return BufferedEvent{}, fmt.Errorf("core: service is nil")
	}
	event, err := s.admin.GetEvent(ctx, eventID)
	return event, s.mapError(err)
}

func (s *Service) ListEvents(ctx context.Context, filter EventFilter) (EventPage, error) {
	if s == nil {
		return EventPage{}, fmt.Errorf("core: service is nil")
	}
	page, err := s.admin.ListEvents(ctx, filter)
	return page, s.mapError(err)
}

// WaitNotifications waits for notifications still publishing after their
// events were marked done. Call it on shutdown once workers have stopped.
func (s *Service) WaitNotifications(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.processor.WaitNotifications(ctx)
}

// NewWorkerRunner builds a runner that processes tasks from dequeuer with
// the service's processor and configured worker count.
func (s *Service) NewWorkerRunner(dequeuer JobDequeuer) *WorkerRunner {
	if s == nil {
		return nil
	}
	runner := NewWorkerRunner(dequeuer, s.processor, s.config.Processing)
	runner.Hook = s.workerHook
	runner.Logger = s.logger
	runner.Metrics = s.metricsRecorder
	return runner
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}
