package location

import (
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// GPS is the satellite receiver provider
type GPS struct {
	*session
	gps provider.GPSOps
}

// NewGPS loads the gps backend. A failed load still yields a usable value
// whose operations all return pkg.ErrNotAvailable.
func NewGPS(deps Deps) *GPS {
	s := newSession(MethodGPS, provider.KindGPS, deps)
	g := &GPS{session: s}
	if s.handle != nil {
		g.gps, _ = s.handle.GPS()
	}

	s.watcher.hints = []settings.Key{settings.KeyAGPSEnabled}
	s.watcher.onHint = func(_ settings.Key, value bool) { g.applyAGPS(value) }
	return g
}

// Start implements Provider and forwards the current AGPS hint first
func (g *GPS) Start() error {
	if err := g.checkAvailable(); err == nil && !g.started {
		if on, err := g.deps.Settings.Bool(settings.KeyAGPSEnabled); err == nil {
			g.applyAGPS(on)
		}
	}
	return g.session.Start()
}

func (g *GPS) applyAGPS(enabled bool) {
	cfg, ok := g.gps.(provider.AGPSConfigurer)
	if !ok {
		return
	}
	if err := cfg.SetAGPS(enabled); err != nil {
		g.logger.Warn("agps_hint_failed", "enabled", enabled, "error", err)
		return
	}
	g.logger.Debug("agps_hint_applied", "enabled", enabled)
}

func (g *GPS) ready() error {
	if err := g.checkAvailable(); err != nil {
		return err
	}
	if g.gps == nil {
		return fmt.Errorf("gps: %w", pkg.ErrNotAvailable)
	}
	return g.checkAllowed()
}

// NMEA returns the most recent raw sentences
func (g *GPS) NMEA() (string, error) {
	if err := g.ready(); err != nil {
		return "", err
	}
	out, err := g.gps.NMEA()
	return out, wrapBackendError(g.method, "nmea", err)
}

// Satellite returns the constellation snapshot
func (g *GPS) Satellite() (pkg.Satellite, error) {
	if err := g.ready(); err != nil {
		return pkg.Satellite{}, err
	}
	sat, err := g.gps.Satellite()
	return sat.Clone(), wrapBackendError(g.method, "satellite", err)
}

// DeviceName returns the receiver device path
func (g *GPS) DeviceName() (string, error) {
	if err := g.checkAvailable(); err != nil {
		return "", err
	}
	if g.gps == nil {
		return "", fmt.Errorf("gps: %w", pkg.ErrNotAvailable)
	}
	name, err := g.gps.DeviceName()
	return name, wrapBackendError(g.method, "device name", err)
}

// SetDeviceName changes the receiver device; it applies on the next start
func (g *GPS) SetDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("gps device name: %w", pkg.ErrParameter)
	}
	if err := g.checkAvailable(); err != nil {
		return err
	}
	if g.gps == nil {
		return fmt.Errorf("gps: %w", pkg.ErrNotAvailable)
	}
	return wrapBackendError(g.method, "set device name", g.gps.SetDeviceName(name))
}

// WPS is the WiFi positioning provider
type WPS struct {
	*session
}

// NewWPS loads the wps backend
func NewWPS(deps Deps) *WPS {
	return &WPS{session: newSession(MethodWPS, provider.KindWPS, deps)}
}
