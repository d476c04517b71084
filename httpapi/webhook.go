package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-webhook-inbox/core"
	"github.com/goliatone/go-webhook-inbox/webhooks"
)

// stripeWebhook answers 200 once the event is durably buffered, including
// duplicates. Anything else makes Stripe retry, which is safe because
// ingestion is idempotent.
func (a *api) stripeWebhook(c *gin.Context) {
	if a.handlers.Receiver == nil {
		a.logger.Error("stripe webhook receiver not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Configuration error"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for key := range c.Request.Header {
		headers[key] = c.Request.Header.Get(key)
	}

	if _, err := a.handlers.Receiver.Receive(c.Request.Context(), webhooks.Request{
		Headers: headers,
		Body:    body,
	}); err != nil {
		mapped := core.MapError(err)
		c.JSON(mapped.Code, gin.H{"error": webhookErrorMessage(mapped.TextCode)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "buffered"})
}

// webhookErrorMessage keeps provider-facing errors generic.
func webhookErrorMessage(textCode string) string {
	switch textCode {
	case core.InboxErrorSignatureInvalid:
		return "Invalid signature"
	case core.InboxErrorBadInput:
		return "Invalid payload"
	case core.InboxErrorNotConfigured:
		return "Configuration error"
	case core.InboxErrorStorageFailed:
		return "Database error"
	case core.InboxErrorQueueFailed:
		return "Queue error"
	default:
		return "Internal error"
	}
}
