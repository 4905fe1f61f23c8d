// Package providertest offers scriptable in-memory backends for tests.
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

// Session is a fake event-driven backend. It satisfies GPSOps, WPSOps and
// SPSOps and records every call.
type Session struct {
	mu sync.Mutex

	StartErr error
	StopErr  error
	PosErr   error

	Pos     pkg.Position
	Vel     pkg.Velocity
	Acc     pkg.Accuracy
	Sat     pkg.Satellite
	NMEAOut string
	Device  string
	AGPS    *bool

	Starts  int
	Stops   int
	Updates []Compensation

	// OnStart runs at the end of a successful Start with the registered
	// callbacks
	OnStart func(cb provider.Callbacks)

	cb      provider.Callbacks
	running bool
}

// Compensation is one recorded UpdateData call
type Compensation struct {
	Pos pkg.Position
	Vel pkg.Velocity
	Acc pkg.Accuracy
	Sat pkg.Satellite
}

// Start implements SessionOps
func (s *Session) Start(cb provider.Callbacks) error {
	s.mu.Lock()
	s.Starts++
	if s.StartErr != nil {
		s.mu.Unlock()
		return s.StartErr
	}
	s.cb = cb
	s.running = true
	hook := s.OnStart
	s.mu.Unlock()

	if hook != nil {
		hook(cb)
	}
	return nil
}

// Stop implements SessionOps
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stops++
	if s.StopErr != nil {
		return s.StopErr
	}
	s.running = false
	return nil
}

// Running reports whether Start succeeded without a later Stop
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Position implements SessionOps
func (s *Session) Position() (pkg.Position, pkg.Accuracy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Pos, s.Acc, s.PosErr
}

// Velocity implements SessionOps
func (s *Session) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Vel, s.Acc, s.PosErr
}

// NMEA implements GPSOps
func (s *Session) NMEA() (string, error) {
	return s.NMEAOut, nil
}

// Satellite implements GPSOps
func (s *Session) Satellite() (pkg.Satellite, error) {
	return s.Sat, nil
}

// DeviceName implements GPSOps
func (s *Session) DeviceName() (string, error) {
	return s.Device, nil
}

// SetDeviceName implements GPSOps
func (s *Session) SetDeviceName(name string) error {
	if name == "" {
		return errors.New("empty device name")
	}
	s.Device = name
	return nil
}

// SetAGPS implements AGPSConfigurer
func (s *Session) SetAGPS(enabled bool) error {
	s.AGPS = &enabled
	return nil
}

// UpdateData implements SPSOps
func (s *Session) UpdateData(pos pkg.Position, vel pkg.Velocity, acc pkg.Accuracy, sat pkg.Satellite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updates = append(s.Updates, Compensation{Pos: pos, Vel: vel, Acc: acc, Sat: sat})
	return nil
}

func (s *Session) callbacks() provider.Callbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

// EmitStatus invokes the status callback registered on Start
func (s *Session) EmitStatus(enabled bool, status pkg.Status) {
	if cb := s.callbacks(); cb.Status != nil {
		cb.Status(enabled, status)
	}
}

// EmitPosition invokes the position callback registered on Start
func (s *Session) EmitPosition(pos pkg.Position, acc pkg.Accuracy) {
	if cb := s.callbacks(); cb.Position != nil {
		cb.Position(pos, acc)
	}
}

// EmitVelocity invokes the velocity callback registered on Start
func (s *Session) EmitVelocity(vel pkg.Velocity, acc pkg.Accuracy) {
	if cb := s.callbacks(); cb.Velocity != nil {
		cb.Velocity(vel, acc)
	}
}

// EmitSatellite invokes the satellite callback registered on Start
func (s *Session) EmitSatellite(sat pkg.Satellite) {
	if cb := s.callbacks(); cb.Satellite != nil {
		cb.Satellite(sat)
	}
}

// Oneshot is a fake CPS/IPS backend
type Oneshot struct {
	Pos pkg.Position
	Acc pkg.Accuracy
	Err error
}

// Position implements PositionOps
func (o *Oneshot) Position() (pkg.Position, pkg.Accuracy, error) {
	return o.Pos, o.Acc, o.Err
}

// Geocoder is a fake geocode and POI backend
type Geocoder struct {
	Positions  []pkg.Position
	Accuracies []pkg.Accuracy
	Address    pkg.Address
	Landmarks  []pkg.Landmark
	Err        error

	mu    sync.Mutex
	calls int
}

func (g *Geocoder) record() {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
}

// Calls returns how many lookups reached the backend
func (g *Geocoder) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Geocode implements GeocodeOps
func (g *Geocoder) Geocode(ctx context.Context, addr pkg.Address) ([]pkg.Position, []pkg.Accuracy, error) {
	g.record()
	return g.Positions, g.Accuracies, g.Err
}

// GeocodeFreeText implements GeocodeOps
func (g *Geocoder) GeocodeFreeText(ctx context.Context, text string) ([]pkg.Position, []pkg.Accuracy, error) {
	g.record()
	return g.Positions, g.Accuracies, g.Err
}

// ReverseGeocode implements GeocodeOps
func (g *Geocoder) ReverseGeocode(ctx context.Context, pos pkg.Position) (pkg.Address, pkg.Accuracy, error) {
	g.record()
	acc := pkg.Accuracy{}
	if len(g.Accuracies) > 0 {
		acc = g.Accuracies[0]
	}
	return g.Address, acc, g.Err
}

// POI implements POIOps
func (g *Geocoder) POI(ctx context.Context, around pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error) {
	g.record()
	return g.Landmarks, g.Err
}

// POIFromAddress implements POIOps
func (g *Geocoder) POIFromAddress(ctx context.Context, addr pkg.Address, radius uint, keyword string) ([]pkg.Landmark, error) {
	g.record()
	return g.Landmarks, g.Err
}

// POIFromPosition implements POIOps
func (g *Geocoder) POIFromPosition(ctx context.Context, pos pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error) {
	g.record()
	return g.Landmarks, g.Err
}

// Module wraps ops as a module that counts Init and Shutdown calls
type Module struct {
	Ops       interface{}
	InitErr   error
	Inits     int
	Shutdowns int
}

// Init implements provider.Module
func (m *Module) Init(*logx.Logger) (interface{}, error) {
	m.Inits++
	if m.InitErr != nil {
		return nil, m.InitErr
	}
	return m.Ops, nil
}

// Shutdown implements provider.Module
func (m *Module) Shutdown() error {
	m.Shutdowns++
	return nil
}

// Registry builds a registry serving the given modules by kind
func Registry(mods map[provider.Kind]*Module) *provider.Registry {
	r := provider.NewRegistry()
	for kind, mod := range mods {
		mod := mod
		r.RegisterKind(kind, func() provider.Module { return mod })
	}
	return r
}
