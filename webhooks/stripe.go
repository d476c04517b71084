package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StripeSignatureHeader = "Stripe-Signature"
	// DefaultStripeTolerance matches the window the Stripe SDKs enforce.
	DefaultStripeTolerance = 5 * time.Minute
	stripeSchemeV1         = "v1"
)

var (
	ErrMissingSecret           = errors.New("webhooks: signing secret is not configured")
	ErrMissingSignature        = errors.New("webhooks: signature header is required")
	ErrMalformedSignature      = errors.New("webhooks: malformed signature header")
	ErrSignatureMismatch       = errors.New("webhooks: no signature matches the payload")
	ErrTimestampOutOfTolerance = errors.New("webhooks: signature timestamp outside tolerance")
)

// Request is the raw inbound delivery: headers plus the exact body bytes the
// signature was computed over.
type Request struct {
	Headers map[string]string
	Body    []byte
}

type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// StripeVerifier checks the Stripe-Signature header: an HMAC-SHA256 of
// "<t>.<body>" keyed by the endpoint secret. Any v1 entry may match, which
// covers secret rotation where Stripe signs with both secrets.
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewStripeVerifier(secret string) StripeVerifier {
	return StripeVerifier{
		Secret:    strings.TrimSpace(secret),
		Tolerance: DefaultStripeTolerance,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (v StripeVerifier) Verify(_ context.Context, req Request) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return ErrMissingSecret
	}
	header := headerValue(req.Headers, StripeSignatureHeader)
	if header == "" {
		return ErrMissingSignature
	}
	timestamp, signatures, err := parseStripeSignature(header)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultStripeTolerance
	}
	delta := now.Sub(timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > tolerance {
		return fmt.Errorf("%w: %s", ErrTimestampOutOfTolerance, delta.Truncate(time.Second))
	}

	expected := ComputeStripeSignature(secret, timestamp, req.Body)
	for _, candidate := range signatures {
		if subtle.ConstantTimeCompare(candidate, expected) == 1 {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// ComputeStripeSignature returns the raw v1 signature for payload signed at
// timestamp.
func ComputeStripeSignature(secret string, timestamp time.Time, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// SignStripePayload builds a Stripe-Signature header value. Used by tests
// and local tooling that replays deliveries.
func SignStripePayload(secret string, timestamp time.Time, payload []byte) string {
	signature := ComputeStripeSignature(secret, timestamp, payload)
	return fmt.Sprintf("t=%d,%s=%s", timestamp.Unix(), stripeSchemeV1, hex.EncodeToString(signature))
}

func parseStripeSignature(header string) (time.Time, [][]byte, error) {
	var (
		timestamp  time.Time
		haveTime   bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("%w: invalid timestamp", ErrMalformedSignature)
			}
			timestamp = time.Unix(seconds, 0).UTC()
			haveTime = true
		case stripeSchemeV1:
			decoded, err := hex.DecodeString(strings.TrimSpace(value))
			if err != nil {
				// Stripe may add entries we cannot read; skip them.
				continue
			}
			signatures = append(signatures, decoded)
		}
	}
	if !haveTime {
		return time.Time{}, nil, fmt.Errorf("%w: timestamp is required", ErrMalformedSignature)
	}
	if len(signatures) == 0 {
		return time.Time{}, nil, fmt.Errorf("%w: no v1 signature", ErrMalformedSignature)
	}
	return timestamp, signatures, nil
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ Verifier = StripeVerifier{}
