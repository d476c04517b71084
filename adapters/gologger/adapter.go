package gologger

import (
	"context"
	"log/slog"
	"os"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhook-inbox/core"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// WorkerHook logs worker lifecycle events for process tasks.
type WorkerHook struct {
	logger glog.Logger
}

func NewWorkerHook(logger glog.Logger) *WorkerHook {
	return &WorkerHook{logger: glog.Ensure(logger)}
}

func (h *WorkerHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx).Debug("process task started", workerEventArgs(event)...)
}

func (h *WorkerHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx).Info("process task settled", workerEventArgs(event)...)
}

func (h *WorkerHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx).Error("process task dead-lettered", workerEventArgs(event)...)
}

func (h *WorkerHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx).Warn("process task requeued", workerEventArgs(event)...)
}

func (h *WorkerHook) log(ctx context.Context) glog.Logger {
	if h == nil || h.logger == nil {
		return glog.Nop()
	}
	return h.logger.WithContext(ctx)
}

func workerEventArgs(event core.JobWorkerEvent) []any {
	args := []any{"attempt", event.Attempt}
	if task, err := core.TaskFromMessage(event.Message); err == nil {
		args = append(args, "event_id", task.EventID, "lane", task.Lane)
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		args = append(args, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}


// SlogLogger exposes a log/slog logger through the glog contract so the
// server binary can emit structured JSON without a second logging stack.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger, ctx: context.Background()}
}

func (l *SlogLogger) Trace(msg string, args ...any) {
	l.logger.Log(l.ctx, LevelTrace, msg, args...)
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.DebugContext(l.ctx, msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.InfoContext(l.ctx, msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.WarnContext(l.ctx, msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
}

// Fatal logs at error level and exits.
func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.logger.Log(l.ctx, LevelFatal, msg, args...)
	os.Exit(1)
}

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SlogLogger{logger: l.logger, ctx: ctx}
}

// GetLogger returns a child logger tagged with the component name, which
// makes SlogLogger usable as a glog.LoggerProvider.
func (l *SlogLogger) GetLogger(name string) glog.Logger {
	return &SlogLogger{logger: l.logger.With("logger", name), ctx: l.ctx}
}

const (
	LevelTrace = slog.LevelDebug - 4
	LevelFatal = slog.LevelError + 4
)

var (
	_ core.JobWorkerHook  = (*WorkerHook)(nil)
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*SlogLogger)(nil)
)
