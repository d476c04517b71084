package inbox

import "github.com/goliatone/go-webhook-inbox/core"

type Config = core.Config
type ProcessingConfig = core.ProcessingConfig
type NotifyConfig = core.NotifyConfig

type Option = core.Option

type Service = core.Service

type BufferedEvent = core.BufferedEvent
type EventStatus = core.EventStatus
type EventFilter = core.EventFilter
type EventPage = core.EventPage
type EventHandler = core.EventHandler
type EventHandlerFunc = core.EventHandlerFunc
type IngestRequest = core.IngestRequest
type IngestResult = core.IngestResult

const (
	EventStatusPending    = core.EventStatusPending
	EventStatusProcessing = core.EventStatusProcessing
	EventStatusDone       = core.EventStatusDone
	EventStatusFailed     = core.EventStatusFailed
)

var (
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithErrorMapper        = core.WithErrorMapper
	WithConfigProvider     = core.WithConfigProvider
	WithOptionsResolver    = core.WithOptionsResolver
	WithEventStore         = core.WithEventStore
	WithEventReader        = core.WithEventReader
	WithTaskQueue          = core.WithTaskQueue
	WithHandlerRegistry    = core.WithHandlerRegistry
	WithHandler            = core.WithHandler
	WithFallbackHandler    = core.WithFallbackHandler
	WithPublisher          = core.WithPublisher
	WithNotificationRouter = core.WithNotificationRouter
	WithRetryPolicy        = core.WithRetryPolicy
	WithWorkerHook         = core.WithWorkerHook
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
