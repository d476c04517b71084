package fulfillment

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type CustomerDetails struct {
	Email   string   `json:"email" validate:"omitempty,email"`
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Address *Address `json:"address"`
}

type ShippingDetails struct {
	Name    string   `json:"name"`
	Address *Address `json:"address"`
}

// CheckoutSession is the subset of the provider checkout object the
// fulfillment flow reads.
type CheckoutSession struct {
	ID              string           `json:"id" validate:"required"`
	AmountTotal     int64            `json:"amount_total"`
	Currency        string           `json:"currency"`
	CustomerDetails *CustomerDetails `json:"customer_details"`
	ShippingDetails *ShippingDetails `json:"shipping_details"`
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func sessionValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// DecodeCheckoutSession extracts data.object from an event payload. ok is
// false when the payload carries no object.
func DecodeCheckoutSession(payload []byte) (CheckoutSession, bool, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return CheckoutSession{}, false, fmt.Errorf("fulfillment: decode event payload: %w", err)
	}
	raw := strings.TrimSpace(string(envelope.Data.Object))
	if raw == "" || raw == "null" {
		return CheckoutSession{}, false, nil
	}
	var session CheckoutSession
	if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
		return CheckoutSession{}, false, fmt.Errorf("fulfillment: decode checkout session: %w", err)
	}
	session.ID = strings.TrimSpace(session.ID)
	if err := sessionValidator().Struct(session); err != nil {
		return CheckoutSession{}, false, fmt.Errorf("fulfillment: invalid checkout session: %w", err)
	}
	return session, true, nil
}

func (s CheckoutSession) CustomerName() string {
	if s.CustomerDetails != nil {
		if name := strings.TrimSpace(s.CustomerDetails.Name); name != "" {
			return name
		}
	}
	return defaultCustomerName
}

func (s CheckoutSession) CustomerEmail() string {
	if s.CustomerDetails == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s.CustomerDetails.Email))
}

// DeliveryAddress prefers the shipping address over the billing address.
func (s CheckoutSession) DeliveryAddress() *Address {
	if s.ShippingDetails != nil && s.ShippingDetails.Address != nil {
		return s.ShippingDetails.Address
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Address != nil {
		return s.CustomerDetails.Address
	}
	return nil
}

// Amount converts the minor-unit total into a decimal amount using the
// session currency's minor unit.
func (s CheckoutSession) Amount() decimal.Decimal {
	return decimal.New(s.AmountTotal, -CurrencyDigits(s.Currency))
}

// Stripe charges these in whole units.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {},
	"krw": {}, "mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {},
	"vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

var threeDecimalCurrencies = map[string]struct{}{
	"bhd": {}, "jod": {}, "kwd": {}, "omr": {}, "tnd": {},
}

// CurrencyDigits reports how many minor-unit digits an amount in currency
// carries. Unknown currencies use two.
func CurrencyDigits(currency string) int32 {
	code := strings.ToLower(strings.TrimSpace(currency))
	if _, ok := zeroDecimalCurrencies[code]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[code]; ok {
		return 3
	}
	return 2
}

// NormalizePhone formats a parseable number as E.164 and returns anything
// else trimmed but unchanged.
func NormalizePhone(raw string, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = "US"
	}
	number, err := libphonenumber.Parse(raw, region)
	if err != nil || !libphonenumber.IsValidNumber(number) {
		return raw
	}
	return libphonenumber.Format(number, libphonenumber.E164)
}
