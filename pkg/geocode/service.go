// Package geocode exposes the geocode and POI backends to applications.
//
// A Service is an explicit dependency: the daemon builds one and hands it to
// whatever needs lookups. Each backend is loaded at most once per Service.
package geocode

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/eventloop"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// PositionSource supplies the position POI searches run around.
// location.Object satisfies it.
type PositionSource interface {
	Position() (pkg.Position, pkg.Accuracy, error)
}

// Deps are the collaborators of a Service
type Deps struct {
	Loader     *provider.Loader
	Settings   settings.Store
	Dispatcher eventloop.Dispatcher
	Logger     *logx.Logger
}

// Service performs geocode and POI lookups, sync or async
type Service struct {
	loader     *provider.Loader
	store      settings.Store
	dispatcher eventloop.Dispatcher
	logger     *logx.Logger
	perf       *logx.PerformanceLogger

	mu         sync.Mutex
	geocode    *provider.Handle
	geocodeErr error
	poi        *provider.Handle
	poiErr     error
	closed     bool
}

// New creates a service; backends load on first use
func New(deps Deps) *Service {
	if deps.Loader == nil {
		deps.Loader = provider.NewLoader(deps.Logger)
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = eventloop.Immediate{}
	}
	if deps.Settings == nil {
		deps.Settings = settings.NewMemoryStore(deps.Dispatcher)
	}
	if deps.Logger == nil {
		deps.Logger = logx.Discard()
	}
	logger := deps.Logger.WithComponent("geocode")
	return &Service{
		loader:     deps.Loader,
		store:      deps.Settings,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		perf:       logx.NewPerformanceLogger(logger, 2*time.Second),
	}
}

// Stats reports the timing of every backend lookup made so far
func (s *Service) Stats() []logx.PerformanceMetric {
	return s.perf.Metrics()
}

// Close unloads the backends. Further lookups report ErrNotAvailable.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.geocode != nil {
		s.geocode.Unload()
		s.geocode = nil
	}
	if s.poi != nil {
		s.poi.Unload()
		s.poi = nil
	}
	return nil
}

func (s *Service) geocodeOps() (provider.GeocodeOps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("geocode service closed: %w", pkg.ErrNotAvailable)
	}
	if s.geocode == nil && s.geocodeErr == nil {
		s.geocode, s.geocodeErr = s.loader.Load(provider.KindGeocode)
	}
	if s.geocodeErr != nil {
		return nil, s.geocodeErr
	}
	ops, _ := s.geocode.Geocode()
	return ops, nil
}

func (s *Service) poiOps() (provider.POIOps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("poi service closed: %w", pkg.ErrNotAvailable)
	}
	if s.poi == nil && s.poiErr == nil {
		s.poi, s.poiErr = s.loader.Load(provider.KindPOI)
	}
	if s.poiErr != nil {
		return nil, s.poiErr
	}
	ops, _ := s.poi.POI()
	return ops, nil
}

func (s *Service) checkNetwork() error {
	if !settings.AllOn(s.store, settings.KeyNetworkEnabled) {
		return fmt.Errorf("%s is off: %w", settings.KeyNetworkEnabled, pkg.ErrNetworkNotConnected)
	}
	return nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if pkg.IsKnown(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, pkg.ErrUnknown)
}

func validPosition(p pkg.Position) error {
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("position %.6f,%.6f out of range: %w", p.Latitude, p.Longitude, pkg.ErrParameter)
	}
	return nil
}

func validSearch(radius uint, keyword string) error {
	if radius == 0 {
		return fmt.Errorf("radius must be positive: %w", pkg.ErrParameter)
	}
	if strings.TrimSpace(keyword) == "" {
		return fmt.Errorf("empty keyword: %w", pkg.ErrParameter)
	}
	return nil
}

// Geocode resolves a structured address to candidate positions
func (s *Service) Geocode(ctx context.Context, addr pkg.Address) ([]pkg.Position, []pkg.Accuracy, error) {
	if addr.IsEmpty() {
		return nil, nil, fmt.Errorf("empty address: %w", pkg.ErrParameter)
	}
	ops, err := s.geocodeOps()
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkNetwork(); err != nil {
		return nil, nil, err
	}
	op := s.perf.StartOperation("geocode")
	pos, acc, err := ops.Geocode(ctx, addr)
	op.Complete(err)
	if err != nil {
		return nil, nil, classify("geocode", err)
	}
	s.logger.Debug("geocode_done", "results", len(pos))
	return pos, acc, nil
}

// GeocodeFreeText resolves a one-line address
func (s *Service) GeocodeFreeText(ctx context.Context, text string) ([]pkg.Position, []pkg.Accuracy, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("empty address text: %w", pkg.ErrParameter)
	}
	ops, err := s.geocodeOps()
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkNetwork(); err != nil {
		return nil, nil, err
	}
	op := s.perf.StartOperation("geocode_free_text")
	pos, acc, err := ops.GeocodeFreeText(ctx, text)
	op.Complete(err)
	if err != nil {
		return nil, nil, classify("geocode free text", err)
	}
	return pos, acc, nil
}

// ReverseGeocode resolves a position to an address
func (s *Service) ReverseGeocode(ctx context.Context, pos pkg.Position) (pkg.Address, pkg.Accuracy, error) {
	if err := validPosition(pos); err != nil {
		return pkg.Address{}, pkg.Accuracy{}, err
	}
	ops, err := s.geocodeOps()
	if err != nil {
		return pkg.Address{}, pkg.Accuracy{}, err
	}
	if err := s.checkNetwork(); err != nil {
		return pkg.Address{}, pkg.Accuracy{}, err
	}
	op := s.perf.StartOperation("reverse_geocode")
	addr, acc, err := ops.ReverseGeocode(ctx, pos)
	op.Complete(err)
	if err != nil {
		return pkg.Address{}, pkg.Accuracy{}, classify("reverse geocode", err)
	}
	return addr, acc, nil
}

// POI searches around the current position of src
func (s *Service) POI(ctx context.Context, src PositionSource, radius uint, keyword string) ([]pkg.Landmark, error) {
	around, err := s.currentPosition(src, radius, keyword)
	if err != nil {
		return nil, err
	}
	return s.poiAround(ctx, around, radius, keyword)
}

func (s *Service) currentPosition(src PositionSource, radius uint, keyword string) (pkg.Position, error) {
	if src == nil {
		return pkg.Position{}, fmt.Errorf("nil position source: %w", pkg.ErrParameter)
	}
	if err := validSearch(radius, keyword); err != nil {
		return pkg.Position{}, err
	}
	around, _, err := src.Position()
	if err != nil {
		return pkg.Position{}, fmt.Errorf("current position: %w", err)
	}
	return around, nil
}

func (s *Service) poiAround(ctx context.Context, around pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error) {
	ops, err := s.poiOps()
	if err != nil {
		return nil, err
	}
	if err := s.checkNetwork(); err != nil {
		return nil, err
	}
	op := s.perf.StartOperation("poi")
	res, err := ops.POI(ctx, around, radius, keyword)
	op.Complete(err)
	if err != nil {
		return nil, classify("poi", err)
	}
	return res, nil
}

// POIFromAddress searches around an address
func (s *Service) POIFromAddress(ctx context.Context, addr pkg.Address, radius uint, keyword string) ([]pkg.Landmark, error) {
	if addr.IsEmpty() {
		return nil, fmt.Errorf("empty address: %w", pkg.ErrParameter)
	}
	if err := validSearch(radius, keyword); err != nil {
		return nil, err
	}
	ops, err := s.poiOps()
	if err != nil {
		return nil, err
	}
	if err := s.checkNetwork(); err != nil {
		return nil, err
	}
	op := s.perf.StartOperation("poi_from_address")
	res, err := ops.POIFromAddress(ctx, addr, radius, keyword)
	op.Complete(err)
	if err != nil {
		return nil, classify("poi from address", err)
	}
	return res, nil
}

// POIFromPosition searches around an explicit position
func (s *Service) POIFromPosition(ctx context.Context, pos pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error) {
	if err := validPosition(pos); err != nil {
		return nil, err
	}
	if err := validSearch(radius, keyword); err != nil {
		return nil, err
	}
	ops, err := s.poiOps()
	if err != nil {
		return nil, err
	}
	if err := s.checkNetwork(); err != nil {
		return nil, err
	}
	op := s.perf.StartOperation("poi_from_position")
	res, err := ops.POIFromPosition(ctx, pos, radius, keyword)
	op.Complete(err)
	if err != nil {
		return nil, classify("poi from position", err)
	}
	return res, nil
}
