package provider

import (
	"errors"
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
)

// Loader resolves backends by kind through an ordered list of finders
type Loader struct {
	finders []Finder
	logger  *logx.Logger
}

// NewLoader creates a loader; earlier finders take precedence
func NewLoader(logger *logx.Logger, finders ...Finder) *Loader {
	if logger == nil {
		logger = logx.Discard()
	}
	return &Loader{finders: finders, logger: logger}
}

// Load resolves, initializes and type-checks the backend for kind. Any
// failure is reported as pkg.ErrNotAvailable; the caller is expected to keep
// running without this kind.
func (l *Loader) Load(kind Kind) (*Handle, error) {
	name := kind.ModuleName()

	mod, err := l.find(name)
	if err != nil {
		l.logger.Warn("provider_module_missing", "module", name, "error", err)
		return nil, fmt.Errorf("load %s: %v: %w", name, err, pkg.ErrNotAvailable)
	}

	ops, err := mod.Init(l.logger.WithComponent(name))
	if err != nil {
		l.logger.Warn("provider_module_init_failed", "module", name, "error", err)
		return nil, fmt.Errorf("init %s: %v: %w", name, err, pkg.ErrNotAvailable)
	}

	if !matchesKind(kind, ops) {
		_ = mod.Shutdown()
		l.logger.Warn("provider_module_symbols_missing", "module", name, "ops_type", fmt.Sprintf("%T", ops))
		return nil, fmt.Errorf("module %s does not implement %s operations: %w", name, name, pkg.ErrNotAvailable)
	}

	l.logger.Debug("provider_module_loaded", "module", name, "ops_type", fmt.Sprintf("%T", ops))
	return &Handle{kind: kind, module: mod, ops: ops, loaded: true, logger: l.logger}, nil
}

// IsSupported probes kind by loading and immediately unloading it
func (l *Loader) IsSupported(kind Kind) bool {
	h, err := l.Load(kind)
	if err != nil {
		return false
	}
	h.Unload()
	return true
}

func (l *Loader) find(name string) (Module, error) {
	var lastErr error = errModuleNotFound
	for _, f := range l.finders {
		mod, err := f.Find(name)
		if err == nil {
			return mod, nil
		}
		if !errors.Is(err, errModuleNotFound) {
			lastErr = err
		}
	}
	return nil, lastErr
}

// Handle owns one loaded backend
type Handle struct {
	kind   Kind
	module Module
	ops    interface{}
	loaded bool
	logger *logx.Logger
}

// Kind returns the kind the handle was loaded as
func (h *Handle) Kind() Kind {
	return h.kind
}

// Loaded reports whether the handle still holds its module
func (h *Handle) Loaded() bool {
	return h != nil && h.loaded
}

// Ops returns the raw operation table, nil once unloaded
func (h *Handle) Ops() interface{} {
	if !h.Loaded() {
		return nil
	}
	return h.ops
}

// Unload shuts the module down. Safe to call more than once.
func (h *Handle) Unload() {
	if !h.Loaded() {
		return
	}
	if err := h.module.Shutdown(); err != nil {
		h.logger.Warn("provider_module_shutdown_failed", "module", h.kind.ModuleName(), "error", err)
	}
	h.loaded = false
	h.ops = nil
	h.module = nil
}

// GPS returns the GPS table
func (h *Handle) GPS() (GPSOps, bool) {
	ops, ok := h.Ops().(GPSOps)
	return ops, ok
}

// WPS returns the WPS table
func (h *Handle) WPS() (WPSOps, bool) {
	ops, ok := h.Ops().(WPSOps)
	return ops, ok
}

// SPS returns the SPS table
func (h *Handle) SPS() (SPSOps, bool) {
	ops, ok := h.Ops().(SPSOps)
	return ops, ok
}

// Session returns the common session table of an event-driven backend
func (h *Handle) Session() (SessionOps, bool) {
	ops, ok := h.Ops().(SessionOps)
	return ops, ok
}

// PositionOnly returns the one-shot table of a CPS or IPS backend
func (h *Handle) PositionOnly() (PositionOps, bool) {
	ops, ok := h.Ops().(PositionOps)
	return ops, ok
}

// Geocode returns the geocode table
func (h *Handle) Geocode() (GeocodeOps, bool) {
	ops, ok := h.Ops().(GeocodeOps)
	return ops, ok
}

// POI returns the POI table
func (h *Handle) POI() (POIOps, bool) {
	ops, ok := h.Ops().(POIOps)
	return ops, ok
}
