package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	InboxErrorBadInput          = "INBOX_BAD_INPUT"
	InboxErrorEventNotFound     = "INBOX_EVENT_NOT_FOUND"
	InboxErrorDuplicateEvent    = "INBOX_DUPLICATE_EVENT"
	InboxErrorInvalidTransition = "INBOX_INVALID_TRANSITION"
	InboxErrorHandlerFailed     = "INBOX_HANDLER_FAILED"
	InboxErrorStorageFailed     = "INBOX_STORAGE_FAILED"
	InboxErrorQueueFailed       = "INBOX_QUEUE_FAILED"
	InboxErrorSignatureInvalid  = "INBOX_SIGNATURE_INVALID"
	InboxErrorNotConfigured     = "INBOX_NOT_CONFIGURED"
	InboxErrorInternal          = "INBOX_INTERNAL_ERROR"
)

var (
	ErrEventNotFound           = errors.New("core: buffered event not found")
	ErrDuplicateEvent          = errors.New("core: duplicate event")
	ErrInvalidStatusTransition = errors.New("core: invalid status transition")
	ErrStatusGuardMismatch     = errors.New("core: event status changed concurrently")
)

// StorageError marks a failure of the buffer store. It always reaches the
// caller as a 500 so the provider retries the delivery.
func StorageError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == InboxErrorStorageFailed {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(InboxErrorStorageFailed)
}

// HandlerError wraps a side-effect handler failure. It is retryable up to
// the configured attempt budget.
func HandlerError(err error, eventID string, eventType string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, "core: event handler failed").
		WithCode(http.StatusBadGateway).
		WithTextCode(InboxErrorHandlerFailed).
		WithMetadata(map[string]any{
			"event_id":   eventID,
			"event_type": eventType,
		})
}

func QueueError(err error, eventID string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "core: enqueue process task failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(InboxErrorQueueFailed).
		WithMetadata(map[string]any{"event_id": eventID})
}

func NotFoundError(eventID string) error {
	return goerrors.Wrap(ErrEventNotFound, goerrors.CategoryNotFound, fmt.Sprintf("core: event %q not found", eventID)).
		WithCode(http.StatusNotFound).
		WithTextCode(InboxErrorEventNotFound)
}

func TransitionError(eventID string, from EventStatus, to EventStatus) error {
	return goerrors.Wrap(
		ErrInvalidStatusTransition,
		goerrors.CategoryConflict,
		fmt.Sprintf("core: event %q cannot move from %s to %s", eventID, from, to),
	).
		WithCode(http.StatusConflict).
		WithTextCode(InboxErrorInvalidTransition).
		WithMetadata(map[string]any{
			"event_id": eventID,
			"from":     string(from),
			"to":       string(to),
		})
}

func BadInputError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(InboxErrorBadInput)
}

// FieldError reports one invalid message field. scope prefixes the message,
// e.g. "command" or "query".
func FieldError(scope string, field string, message string) error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(InboxErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func NotConfiguredError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(InboxErrorNotConfigured)
}

// IsNotFound reports whether err carries the missing-event sentinel or a
// not-found category.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEventNotFound) {
		return true
	}
	return goerrors.IsCategory(err, goerrors.CategoryNotFound)
}

// MapError converts any error into the inbox error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureInboxErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrEventNotFound):
		return newInboxError(err.Error(), goerrors.CategoryNotFound, InboxErrorEventNotFound)
	case errors.Is(err, ErrInvalidStatusTransition), errors.Is(err, ErrStatusGuardMismatch):
		return newInboxError(err.Error(), goerrors.CategoryConflict, InboxErrorInvalidTransition)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return newInboxError(err.Error(), goerrors.CategoryBadInput, InboxErrorSignatureInvalid)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newInboxError(err.Error(), goerrors.CategoryBadInput, InboxErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureInboxErrorEnvelope(mapped)
}

func newInboxError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureInboxErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureInboxErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = inboxHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultInboxTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultInboxTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return InboxErrorBadInput
	case goerrors.CategoryNotFound:
		return InboxErrorEventNotFound
	case goerrors.CategoryConflict:
		return InboxErrorInvalidTransition
	case goerrors.CategoryExternal:
		return InboxErrorHandlerFailed
	default:
		return InboxErrorInternal
	}
}

func inboxHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
