package location

import (
	"errors"
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

// Hybrid runs GPS, WPS and SPS side by side and forwards the highest
// priority enabled one (SPS > GPS > WPS).
type Hybrid struct {
	deps   Deps
	logger *logx.Logger

	gps *GPS
	wps *WPS
	sps *SPS

	// ordered by priority, highest first
	sources []Provider
	cancels []func()

	started bool
	enabled map[Method]bool
	current Method

	lastPos *pkg.Position
	lastVel *pkg.Velocity
	lastAcc *pkg.Accuracy

	// latest GPS samples cross-fed into SPS
	gpsPos pkg.Position
	gpsVel pkg.Velocity
	gpsAcc pkg.Accuracy
	gpsSat pkg.Satellite

	events emitter
}

// NewHybrid creates a provider for every supported source kind
func NewHybrid(deps Deps) *Hybrid {
	deps = deps.withDefaults()
	h := &Hybrid{
		deps:    deps,
		logger:  deps.Logger.WithComponent("hybrid"),
		enabled: make(map[Method]bool),
		current: MethodHybrid,
	}

	if deps.Loader.IsSupported(provider.KindSPS) {
		h.sps = NewSPS(deps)
		h.attach(h.sps)
	} else {
		h.logger.Warn("hybrid_source_skipped", "method", MethodSPS.String())
	}
	if deps.Loader.IsSupported(provider.KindGPS) {
		h.gps = NewGPS(deps)
		h.attach(h.gps)
	} else {
		h.logger.Warn("hybrid_source_skipped", "method", MethodGPS.String())
	}
	if deps.Loader.IsSupported(provider.KindWPS) {
		h.wps = NewWPS(deps)
		h.attach(h.wps)
	} else {
		h.logger.Warn("hybrid_source_skipped", "method", MethodWPS.String())
	}

	h.logger.Info("hybrid_initialized", "sources", len(h.sources))
	return h
}

func (h *Hybrid) attach(p Provider) {
	h.sources = append(h.sources, p)
	method := p.Method()
	h.cancels = append(h.cancels, p.Subscribe(func(ev Event) { h.handle(method, ev) }))
}

// Method implements Provider; it reports the authoritative source, or
// MethodHybrid when none is enabled
func (h *Hybrid) Method() Method {
	return h.current
}

// Subscribe implements Provider
func (h *Hybrid) Subscribe(l Listener) func() {
	return h.events.subscribe(l)
}

// Sources returns the methods that were constructed, highest priority first
func (h *Hybrid) Sources() []Method {
	out := make([]Method, 0, len(h.sources))
	for _, s := range h.sources {
		out = append(out, s.Method())
	}
	return out
}

// GPS returns the GPS source, nil if unsupported
func (h *Hybrid) GPS() *GPS { return h.gps }

// WPS returns the WPS source, nil if unsupported
func (h *Hybrid) WPS() *WPS { return h.wps }

// SPS returns the SPS source, nil if unsupported
func (h *Hybrid) SPS() *SPS { return h.sps }

// Started reports whether Start succeeded without a later Stop
func (h *Hybrid) Started() bool {
	return h.started
}

// LastPosition returns the last forwarded position
func (h *Hybrid) LastPosition() (pkg.Position, pkg.Accuracy, bool) {
	if h.lastPos == nil {
		return pkg.Position{}, pkg.Accuracy{}, false
	}
	acc := pkg.Accuracy{}
	if h.lastAcc != nil {
		acc = *h.lastAcc
	}
	return *h.lastPos, acc, true
}

// LastVelocity returns the last forwarded velocity
func (h *Hybrid) LastVelocity() (pkg.Velocity, bool) {
	if h.lastVel == nil {
		return pkg.Velocity{}, false
	}
	return *h.lastVel, true
}

// Start starts every source; it succeeds if at least one does
func (h *Hybrid) Start() error {
	if h.started {
		return nil
	}
	if len(h.sources) == 0 {
		return fmt.Errorf("hybrid: no sources: %w", pkg.ErrNotAvailable)
	}

	var errs []error
	for _, s := range h.sources {
		if err := s.Start(); err != nil {
			errs = append(errs, err)
			h.logger.Warn("hybrid_source_start_failed", "method", s.Method().String(), "error", err)
		}
	}
	if len(errs) == len(h.sources) {
		return fmt.Errorf("hybrid start: %v: %w", errors.Join(errs...), pkg.ErrNotAvailable)
	}

	h.started = true
	h.logger.Info("hybrid_started", "sources", len(h.sources), "failed", len(errs))
	return nil
}

// Stop stops every source. Stopping a coordinator that was never started
// does nothing.
func (h *Hybrid) Stop() error {
	if !h.started {
		return nil
	}

	var errs []error
	for _, s := range h.sources {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
			h.logger.Warn("hybrid_source_stop_failed", "method", s.Method().String(), "error", err)
		}
	}
	h.started = false
	if len(errs) == len(h.sources) {
		return fmt.Errorf("hybrid stop: %v: %w", errors.Join(errs...), pkg.ErrNotAvailable)
	}
	h.logger.Info("hybrid_stopped")
	return nil
}

// Position implements Provider by delegating to the authoritative source
func (h *Hybrid) Position() (pkg.Position, pkg.Accuracy, error) {
	src := h.authoritative()
	if src == nil {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("hybrid: no authoritative source: %w", pkg.ErrNotAvailable)
	}
	return src.Position()
}

// Velocity implements Provider by delegating to the authoritative source
func (h *Hybrid) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	src := h.authoritative()
	if src == nil {
		return pkg.Velocity{}, pkg.Accuracy{}, fmt.Errorf("hybrid: no authoritative source: %w", pkg.ErrNotAvailable)
	}
	return src.Velocity()
}

// Close releases every source
func (h *Hybrid) Close() error {
	_ = h.Stop()
	for _, cancel := range h.cancels {
		cancel()
	}
	h.cancels = nil
	for _, s := range h.sources {
		_ = s.Close()
	}
	return nil
}

func (h *Hybrid) authoritative() Provider {
	for _, s := range h.sources {
		if s.Method() == h.current {
			return s
		}
	}
	return nil
}

func (h *Hybrid) anyEnabled() bool {
	for _, on := range h.enabled {
		if on {
			return true
		}
	}
	return false
}

// arbitrate picks the highest priority enabled source
func (h *Hybrid) arbitrate(reason string) {
	next := MethodHybrid
	for _, m := range []Method{MethodSPS, MethodGPS, MethodWPS} {
		if h.enabled[m] {
			next = m
			break
		}
	}
	if next == h.current {
		return
	}
	prev := h.current
	h.current = next
	h.deps.Recorder.MethodChanged(next.String())
	h.logger.LogStateChange("hybrid", prev.String(), next.String(), reason, nil)
}

func (h *Hybrid) handle(src Method, ev Event) {
	switch ev.Type {
	case EventEnabled, EventDisabled:
		h.handleStatus(src, ev)
	case EventUpdated:
		h.crossFeed(src, ev)
		// re-checked at delivery: a source may have lost authority since posting
		if src != h.current {
			return
		}
		h.cache(ev)
		ev.Method = src
		h.events.emit(ev)
	}
}

func (h *Hybrid) handleStatus(src Method, ev Event) {
	wasEnabled := h.anyEnabled()
	h.enabled[src] = ev.Type == EventEnabled
	h.arbitrate(src.String() + "_" + ev.Type.String())
	isEnabled := h.anyEnabled()

	if !wasEnabled && isEnabled {
		h.events.emit(statusEvent(h.current, EventEnabled, ev.Status, ev.Time))
	} else if wasEnabled && !isEnabled {
		h.events.emit(statusEvent(MethodHybrid, EventDisabled, ev.Status, ev.Time))
	}
}

// crossFeed primes SPS with every GPS position and satellite update,
// whichever source is authoritative
func (h *Hybrid) crossFeed(src Method, ev Event) {
	if src != MethodGPS || h.sps == nil {
		return
	}
	switch ev.Kind {
	case DataPosition:
		h.gpsPos = *ev.Position
		h.gpsAcc = ev.Accuracy
	case DataVelocity:
		h.gpsVel = *ev.Velocity
		return
	case DataSatellite:
		h.gpsSat = ev.Satellite.Clone()
	}
	if err := h.sps.UpdateData(h.gpsPos, h.gpsVel, h.gpsAcc, h.gpsSat); err != nil {
		h.logger.Debug("sps_cross_feed_failed", "error", err)
	}
}

func (h *Hybrid) cache(ev Event) {
	switch ev.Kind {
	case DataPosition:
		p := *ev.Position
		a := ev.Accuracy
		h.lastPos = &p
		h.lastAcc = &a
	case DataVelocity:
		v := *ev.Velocity
		h.lastVel = &v
	}
}
