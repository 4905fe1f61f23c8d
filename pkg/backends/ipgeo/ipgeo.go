// Package ipgeo is an IP positioning backend. It asks an ip-api.com
// compatible service where the public address of the router is.
package ipgeo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

// Config holds the lookup endpoint settings
type Config struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	// MinInterval is the minimum spacing between upstream requests. Calls in
	// between are answered from the last result.
	MinInterval time.Duration `json:"min_interval"`
}

// DefaultConfig returns the free ip-api.com endpoint settings
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://ip-api.com/json",
		Timeout:     10 * time.Second,
		MinInterval: 2 * time.Second,
	}
}

type response struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Query       string  `json:"query"`
}

// IPS implements provider.IPSOps
type IPS struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	clock   func() time.Time
	logger  *logx.Logger

	mu   sync.Mutex
	last *fix
}

type fix struct {
	pos  pkg.Position
	acc  pkg.Accuracy
	addr pkg.Address
	ip   string
}

// New creates the backend
func New(cfg Config, logger *logx.Logger) *IPS {
	if logger == nil {
		logger = logx.Discard()
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &IPS{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		clock:   time.Now,
		logger:  logger,
	}
}

// Position implements provider.PositionOps
func (s *IPS) Position() (pkg.Position, pkg.Accuracy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if allowed := s.limiter.Allow(); !allowed && s.last != nil {
		return s.last.pos, s.last.acc, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	f, err := s.lookup(ctx)
	if err != nil {
		return pkg.Position{}, pkg.Accuracy{}, err
	}
	s.last = f
	s.logger.Debug("ips_fix", "public_ip", f.ip, "city", f.addr.City, "country_code", f.addr.CountryCode)
	return f.pos, f.acc, nil
}

// Address returns the civic address of the last lookup
func (s *IPS) Address() (pkg.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return pkg.Address{}, fmt.Errorf("no ip lookup yet: %w", pkg.ErrNotAvailable)
	}
	return s.last.addr, nil
}

func (s *IPS) lookup(ctx context.Context) (*fix, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ip lookup request: %w", pkg.ErrConfiguration)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ip lookup: %v: %w", err, pkg.ErrNetworkFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip lookup: HTTP %d: %w", resp.StatusCode, pkg.ErrNetworkFailed)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("ip lookup: decode: %v: %w", err, pkg.ErrNetworkFailed)
	}
	if r.Status != "success" {
		return nil, fmt.Errorf("ip lookup failed for %q: %s: %w", r.Query, r.Message, pkg.ErrNotFound)
	}

	pos, err := pkg.NewPosition(s.clock(), r.Lat, r.Lon, 0, pkg.Status2D)
	if err != nil {
		return nil, err
	}
	acc := pkg.Accuracy{Level: pkg.AccuracyLocality, Horizontal: 25000}
	if r.City == "" {
		acc = pkg.Accuracy{Level: pkg.AccuracyCountry, Horizontal: 500000}
	}
	return &fix{
		pos: pos,
		acc: acc,
		addr: pkg.Address{
			City:        r.City,
			State:       r.RegionName,
			CountryCode: r.CountryCode,
			PostalCode:  r.Zip,
		},
		ip: r.Query,
	}, nil
}

// Module returns a factory serving the ips backend
func Module(cfg Config) provider.Factory {
	return func() provider.Module {
		return provider.ModuleFuncs{
			InitFunc: func(logger *logx.Logger) (interface{}, error) {
				return New(cfg, logger), nil
			},
		}
	}
}
