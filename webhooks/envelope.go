package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPayload = errors.New("webhooks: invalid event payload")

// Envelope is the part of a Stripe event the inbox needs before buffering.
// The full payload is stored verbatim.
type Envelope struct {
	ID       string          `json:"id"`
	Object   string          `json:"object"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Livemode bool            `json:"livemode"`
	Data     json.RawMessage `json:"data"`
}

func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("%w: event id is required", ErrInvalidPayload)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: event type is required", ErrInvalidPayload)
	}
	if env.Object != "" && env.Object != "event" {
		return Envelope{}, fmt.Errorf("%w: unexpected object %q", ErrInvalidPayload, env.Object)
	}
	return env, nil
}
