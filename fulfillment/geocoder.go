package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultGeocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleGeocoder resolves addresses with the Maps geocoding API.
type GoogleGeocoder struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{
		APIKey:   strings.TrimSpace(apiKey),
		Endpoint: DefaultGeocodeEndpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	if g == nil || strings.TrimSpace(g.APIKey) == "" {
		return Point{}, fmt.Errorf("fulfillment: geocoder api key is not configured")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return Point{}, fmt.Errorf("fulfillment: address is required")
	}
	endpoint := strings.TrimSpace(g.Endpoint)
	if endpoint == "" {
		endpoint = DefaultGeocodeEndpoint
	}
	target, err := url.Parse(endpoint)
	if err != nil {
		return Point{}, fmt.Errorf("fulfillment: invalid geocode endpoint: %w", err)
	}
	query := target.Query()
	query.Set("address", address)
	query.Set("key", g.APIKey)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Point{}, err
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("fulfillment: geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Point{}, fmt.Errorf("fulfillment: geocode request returned status %d", resp.StatusCode)
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Point{}, fmt.Errorf("fulfillment: decode geocode response: %w", err)
	}
	if decoded.Status != "OK" {
		if decoded.Status == "ZERO_RESULTS" {
			return Point{}, ErrNoGeocodeResult
		}
		return Point{}, fmt.Errorf("fulfillment: geocode status %s: %s", decoded.Status, decoded.ErrorMessage)
	}
	if len(decoded.Results) == 0 {
		return Point{}, ErrNoGeocodeResult
	}
	location := decoded.Results[0].Geometry.Location
	return Point{Lat: location.Lat, Lng: location.Lng}, nil
}

var _ Geocoder = (*GoogleGeocoder)(nil)
