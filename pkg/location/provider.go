// Package location turns interchangeable positioning backends into one
// application-facing location object.
//
// Every exported method in this package must be called on the goroutine that
// drains Deps.Dispatcher. Backend callbacks and settings notifications are
// re-posted there, so none of the state below is locked. Backends that call
// back from their own goroutines, such as the serial NMEA reader, need a real
// dispatcher like eventloop.Loop.
package location

import (
	"fmt"
	"strings"
	"time"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/eventloop"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// Method identifies a positioning method
type Method int

const (
	MethodNone Method = iota
	MethodHybrid
	MethodGPS
	MethodWPS
	MethodSPS
	MethodCPS
	MethodIPS
)

var methodNames = map[Method]string{
	MethodNone:   "none",
	MethodHybrid: "hybrid",
	MethodGPS:    "gps",
	MethodWPS:    "wps",
	MethodSPS:    "sps",
	MethodCPS:    "cps",
	MethodIPS:    "ips",
}

func (m Method) String() string {
	if n, ok := methodNames[m]; ok {
		return n
	}
	return "unknown"
}

// ParseMethod maps a configuration name to a method
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if n == strings.ToLower(name) && m != MethodNone {
			return m, nil
		}
	}
	return MethodNone, fmt.Errorf("unknown method %q: %w", name, pkg.ErrParameter)
}

// kindOf maps a single method to the backend kind that serves it
func kindOf(m Method) (provider.Kind, bool) {
	switch m {
	case MethodGPS:
		return provider.KindGPS, true
	case MethodWPS:
		return provider.KindWPS, true
	case MethodSPS:
		return provider.KindSPS, true
	case MethodCPS:
		return provider.KindCPS, true
	case MethodIPS:
		return provider.KindIPS, true
	}
	return 0, false
}

// Provider is the capability set every positioning method implements
type Provider interface {
	Method() Method
	Start() error
	Stop() error
	Position() (pkg.Position, pkg.Accuracy, error)
	Velocity() (pkg.Velocity, pkg.Accuracy, error)
	Subscribe(l Listener) (cancel func())
	Close() error
}

// Recorder observes what the location core does. metrics.Collector
// implements it; a nil Recorder is allowed.
type Recorder interface {
	EventEmitted(method, event, kind string)
	UpdateSuppressed(kind string)
	ZoneTransition(transition string)
	ProviderStartFailed(method, reason string)
	ProviderEnabled(method string, enabled bool)
	MethodChanged(method string)
}

type nopRecorder struct{}

func (nopRecorder) EventEmitted(string, string, string) {}
func (nopRecorder) UpdateSuppressed(string) {}
func (nopRecorder) ZoneTransition(string) {}
func (nopRecorder) ProviderStartFailed(string, string) {}
func (nopRecorder) ProviderEnabled(string, bool) {}
func (nopRecorder) MethodChanged(string) {}

// Deps are the collaborators shared by every provider of one daemon
type Deps struct {
	Loader     *provider.Loader
	Settings   settings.Store
	// Dispatcher serializes backend callbacks with application calls. When
	// nil, posts run inline, which is only safe if every backend calls back
	// on the caller's goroutine.
	Dispatcher eventloop.Dispatcher
	Logger     *logx.Logger
	Recorder   Recorder
	Clock      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Loader == nil {
		d.Loader = provider.NewLoader(d.Logger)
	}
	if d.Settings == nil {
		d.Settings = settings.NewMemoryStore(d.Dispatcher)
	}
	if d.Dispatcher == nil {
		d.Dispatcher = eventloop.Immediate{}
	}
	if d.Logger == nil {
		d.Logger = logx.Discard()
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// requiredSettings lists the keys that must be on for a method to run
func requiredSettings(m Method) []settings.Key {
	switch m {
	case MethodWPS, MethodCPS, MethodIPS:
		return []settings.Key{settings.KeyGPSEnabled, settings.KeyNetworkEnabled}
	case MethodSPS:
		return []settings.Key{settings.KeyGPSEnabled, settings.KeySensorEnabled}
	default:
		return []settings.Key{settings.KeyGPSEnabled}
	}
}

// checkAllowed fails with pkg.ErrNotAllowed when a required key is off
func checkAllowed(store settings.Store, m Method, keys []settings.Key) error {
	for _, k := range keys {
		on, err := store.Bool(k)
		if err != nil || !on {
			return fmt.Errorf("%s: %s is off: %w", m, k, pkg.ErrNotAllowed)
		}
	}
	return nil
}

// wrapBackendError keeps known error kinds and files everything else under
// pkg.ErrUnknown
func wrapBackendError(m Method, op string, err error) error {
	if err == nil {
		return nil
	}
	if pkg.IsKnown(err) {
		return fmt.Errorf("%s %s: %w", m, op, err)
	}
	return fmt.Errorf("%s %s: %v: %w", m, op, err, pkg.ErrUnknown)
}

// NewProvider builds the provider for a method
func NewProvider(m Method, deps Deps) (Provider, error) {
	switch m {
	case MethodHybrid:
		return NewHybrid(deps), nil
	case MethodGPS:
		return NewGPS(deps), nil
	case MethodWPS:
		return NewWPS(deps), nil
	case MethodSPS:
		return NewSPS(deps), nil
	case MethodCPS:
		return NewCPS(deps), nil
	case MethodIPS:
		return NewIPS(deps), nil
	}
	return nil, fmt.Errorf("method %s: %w", m, pkg.ErrParameter)
}

// IsSupported reports whether a method could run with the given loader.
// Hybrid is supported when any of its sources is.
func IsSupported(loader *provider.Loader, m Method) bool {
	if loader == nil {
		return false
	}
	if m == MethodHybrid {
		for _, k := range []provider.Kind{provider.KindSPS, provider.KindGPS, provider.KindWPS} {
			if loader.IsSupported(k) {
				return true
			}
		}
		return false
	}
	kind, ok := kindOf(m)
	if !ok {
		return false
	}
	return loader.IsSupported(kind)
}
