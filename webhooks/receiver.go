package webhooks

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhook-inbox/core"
)

type Ingestor interface {
	Ingest(ctx context.Context, req core.IngestRequest) (core.IngestResult, error)
}

// Receiver verifies a Stripe delivery, extracts its identity and buffers it.
type Receiver struct {
	Verifier Verifier
	Ingestor Ingestor
	Logger   glog.Logger
}

func NewReceiver(verifier Verifier, ingestor Ingestor) *Receiver {
	return &Receiver{Verifier: verifier, Ingestor: ingestor}
}

// Receive returns a go-errors envelope on failure: 500 when the receiver is
// not configured or the event could not be buffered, 400 for signature or
// payload problems. Duplicates are not errors.
func (r *Receiver) Receive(ctx context.Context, req Request) (core.IngestResult, error) {
	if r == nil || r.Verifier == nil || r.Ingestor == nil {
		return core.IngestResult{}, core.NotConfiguredError("webhooks: receiver requires verifier and ingestor")
	}
	logger := glog.Ensure(r.Logger).WithContext(ctx)

	if err := r.Verifier.Verify(ctx, req); err != nil {
		if errors.Is(err, ErrMissingSecret) {
			logger.Error("stripe webhook secret not set")
			return core.IngestResult{}, core.NotConfiguredError(err.Error())
		}
		logger.Warn("stripe webhook signature rejected", "error", err.Error())
		return core.IngestResult{}, signatureError(err)
	}

	envelope, err := ParseEnvelope(req.Body)
	if err != nil {
		logger.Warn("stripe webhook payload rejected", "error", err.Error())
		return core.IngestResult{}, payloadError(err)
	}
	logger.Info("stripe webhook received", "event_id", envelope.ID, "event_type", envelope.Type)

	result, err := r.Ingestor.Ingest(ctx, core.IngestRequest{
		EventID:   envelope.ID,
		EventType: envelope.Type,
		Payload:   req.Body,
	})
	if err != nil {
		logger.Error("stripe webhook buffering failed",
			"event_id", envelope.ID,
			"error", err.Error(),
		)
		return result, err
	}
	if result.Outcome == core.IngestOutcomeDuplicate {
		logger.Info("stripe webhook already buffered",
			"event_id", envelope.ID,
			"status", string(result.Event.Status),
		)
	}
	return result, nil
}

func signatureError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "webhooks: invalid signature").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.InboxErrorSignatureInvalid)
}

func payloadError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "webhooks: invalid payload").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.InboxErrorBadInput)
}
