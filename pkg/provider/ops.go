// Package provider defines the backend plugin ABI and loads backends by kind.
package provider

import (
	"context"

	"github.com/markus-lassfolk/locationd/pkg"
)

// Kind identifies a class of backend
type Kind int

const (
	KindGPS Kind = iota
	KindWPS
	KindCPS
	KindIPS
	KindSPS
	KindGeocode
	KindPOI
)

var kindNames = map[Kind]string{
	KindGPS:     "gps",
	KindWPS:     "wps",
	KindCPS:     "cps",
	KindIPS:     "ips",
	KindSPS:     "sps",
	KindGeocode: "geocode",
	KindPOI:     "poi",
}

// ModuleName is the well-known name a backend for this kind is registered under
func (k Kind) ModuleName() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k Kind) String() string {
	return k.ModuleName()
}

// ParseKind maps a module name back to its kind
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Callbacks are handed to a backend on Start. A backend may invoke them from
// any goroutine; the framework re-posts them onto its dispatcher. Nil fields
// are never set by the framework.
type Callbacks struct {
	Status    func(enabled bool, status pkg.Status)
	Position  func(pos pkg.Position, acc pkg.Accuracy)
	Velocity  func(vel pkg.Velocity, acc pkg.Accuracy)
	Satellite func(sat pkg.Satellite)
}

// SessionOps is the common part of every event-driven backend
type SessionOps interface {
	Start(cb Callbacks) error
	Stop() error
	Position() (pkg.Position, pkg.Accuracy, error)
	Velocity() (pkg.Velocity, pkg.Accuracy, error)
}

// GPSOps is the operation table of a satellite receiver backend
type GPSOps interface {
	SessionOps
	NMEA() (string, error)
	Satellite() (pkg.Satellite, error)
	DeviceName() (string, error)
	SetDeviceName(name string) error
}

// AGPSConfigurer is implemented by GPS backends that accept an assisted-GPS hint
type AGPSConfigurer interface {
	SetAGPS(enabled bool) error
}

// WPSOps is the operation table of a WiFi positioning backend
type WPSOps interface {
	SessionOps
}

// SPSOps is the operation table of a sensor-fusion backend
type SPSOps interface {
	SessionOps
	UpdateData(pos pkg.Position, vel pkg.Velocity, acc pkg.Accuracy, sat pkg.Satellite) error
}

// PositionOps is a one-shot positioning backend (CPS, IPS)
type PositionOps interface {
	Position() (pkg.Position, pkg.Accuracy, error)
}

// CPSOps is the operation table of a cell positioning backend
type CPSOps interface {
	PositionOps
}

// IPSOps is the operation table of an IP positioning backend
type IPSOps interface {
	PositionOps
}

// GeocodeOps is the operation table of a geocoding backend
type GeocodeOps interface {
	Geocode(ctx context.Context, addr pkg.Address) ([]pkg.Position, []pkg.Accuracy, error)
	GeocodeFreeText(ctx context.Context, text string) ([]pkg.Position, []pkg.Accuracy, error)
	ReverseGeocode(ctx context.Context, pos pkg.Position) (pkg.Address, pkg.Accuracy, error)
}

// POIOps is the operation table of a points-of-interest backend
type POIOps interface {
	POI(ctx context.Context, around pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error)
	POIFromAddress(ctx context.Context, addr pkg.Address, radius uint, keyword string) ([]pkg.Landmark, error)
	POIFromPosition(ctx context.Context, pos pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error)
}

// matchesKind reports whether ops implements the table required for kind
func matchesKind(kind Kind, ops interface{}) bool {
	switch kind {
	case KindGPS:
		_, ok := ops.(GPSOps)
		return ok
	case KindWPS:
		_, ok := ops.(WPSOps)
		return ok
	case KindSPS:
		_, ok := ops.(SPSOps)
		return ok
	case KindCPS:
		_, ok := ops.(CPSOps)
		return ok
	case KindIPS:
		_, ok := ops.(IPSOps)
		return ok
	case KindGeocode:
		_, ok := ops.(GeocodeOps)
		return ok
	case KindPOI:
		_, ok := ops.(POIOps)
		return ok
	}
	return false
}
