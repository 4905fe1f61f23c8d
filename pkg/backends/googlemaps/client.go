// Package googlemaps serves the wps, geocode and poi backends from the
// Google Maps Platform: WiFi geolocation, geocoding and nearby search.
package googlemaps

import (
	"fmt"
	"net/http"
	"time"

	"googlemaps.github.io/maps"

	"github.com/markus-lassfolk/locationd/pkg"
)

// Config configures the Maps client and the WiFi scanner
type Config struct {
	APIKey    string
	BaseURL   string // overrides every API host, for proxies and tests
	Language  string
	Region    string
	Interface string // wireless interface scanned for access points
	Interval  time.Duration
	Timeout   time.Duration
	MaxAPs    int
	RateLimit int // requests per second
}

// DefaultConfig returns the settings used when the config file omits them
func DefaultConfig() Config {
	return Config{
		Interface: "wlan0",
		Interval:  30 * time.Second,
		Timeout:   30 * time.Second,
		MaxAPs:    20,
		RateLimit: 10,
	}
}

func newClient(cfg Config) (*maps.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google maps api key missing: %w", pkg.ErrConfiguration)
	}
	opts := []maps.ClientOption{
		maps.WithAPIKey(cfg.APIKey),
		maps.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, maps.WithRateLimit(cfg.RateLimit))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create google maps client: %v: %w", err, pkg.ErrConfiguration)
	}
	return client, nil
}

// classify reports every remote failure as a network failure
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if pkg.IsKnown(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, pkg.ErrNetworkFailed)
}
