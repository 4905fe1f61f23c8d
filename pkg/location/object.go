package location

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/geofence"
	"github.com/markus-lassfolk/locationd/pkg/logx"
)

// Object is the application-facing location object. It wraps one provider
// (possibly Hybrid), rate-limits its updates and tracks geofence zones.
type Object struct {
	method   Method
	provider Provider
	deps     Deps
	logger   *logx.Logger

	gate       *UpdateGate
	boundaries geofence.Set
	tracker    geofence.Tracker

	lastPos *pkg.Position
	lastAcc pkg.Accuracy

	events emitter
	cancel func()
	closed bool
}

// New creates a location object for method
func New(method Method, deps Deps) (*Object, error) {
	deps = deps.withDefaults()
	p, err := NewProvider(method, deps)
	if err != nil {
		return nil, err
	}
	return newObject(method, p, deps), nil
}

// NewWithProvider wraps an already constructed provider
func NewWithProvider(p Provider, deps Deps) (*Object, error) {
	if p == nil {
		return nil, fmt.Errorf("nil provider: %w", pkg.ErrParameter)
	}
	return newObject(p.Method(), p, deps.withDefaults()), nil
}

func newObject(method Method, p Provider, deps Deps) *Object {
	o := &Object{
		method:   method,
		provider: p,
		deps:     deps,
		logger:   deps.Logger.WithComponent("location"),
		gate:     NewUpdateGate(MinUpdateInterval),
	}
	o.cancel = p.Subscribe(o.handle)
	return o
}

// Provider returns the wrapped provider
func (o *Object) Provider() Provider {
	return o.provider
}

// RequestedMethod is the method the object was created with
func (o *Object) RequestedMethod() Method {
	return o.method
}

// Method reports the source currently serving the object. For Hybrid this
// is the authoritative source, or MethodHybrid when none is enabled.
func (o *Object) Method() Method {
	return o.provider.Method()
}

// Subscribe registers an application listener
func (o *Object) Subscribe(l Listener) func() {
	return o.events.subscribe(l)
}

// Start starts the provider with a fresh gate
func (o *Object) Start() error {
	if o.closed {
		return fmt.Errorf("location object closed: %w", pkg.ErrNotAvailable)
	}
	o.gate.Reset()
	if err := o.provider.Start(); err != nil {
		o.deps.Recorder.ProviderStartFailed(o.method.String(), pkg.KindOf(err))
		o.logger.Warn("location_start_failed", "method", o.method.String(), "error", err)
		return err
	}
	o.logger.Info("location_started", "method", o.method.String(), "interval", o.gate.Interval().String())
	return nil
}

// Stop stops the provider and clears the gate
func (o *Object) Stop() error {
	if o.closed {
		return nil
	}
	err := o.provider.Stop()
	o.gate.Reset()
	if err != nil {
		o.logger.Warn("location_stop_failed", "method", o.method.String(), "error", err)
		return err
	}
	o.logger.Info("location_stopped", "method", o.method.String())
	return nil
}

// Position queries the provider
func (o *Object) Position() (pkg.Position, pkg.Accuracy, error) {
	return o.provider.Position()
}

// Velocity queries the provider
func (o *Object) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	return o.provider.Velocity()
}

// LastPosition returns the last position sample delivered to the object
func (o *Object) LastPosition() (pkg.Position, pkg.Accuracy, bool) {
	if o.lastPos == nil {
		return pkg.Position{}, pkg.Accuracy{}, false
	}
	return *o.lastPos, o.lastAcc, true
}

// SetUpdateInterval sets the interval in seconds, clamped to [1, 120]
func (o *Object) SetUpdateInterval(seconds int) time.Duration {
	d := ClampInterval(seconds)
	o.gate.SetInterval(d)
	o.logger.Debug("update_interval_set", "requested_s", seconds, "effective", d.String())
	return d
}

// UpdateInterval returns the effective interval
func (o *Object) UpdateInterval() time.Duration {
	return o.gate.Interval()
}

// AddBoundary registers a zone. It takes effect on the next position sample.
func (o *Object) AddBoundary(b geofence.Boundary) error {
	if err := o.boundaries.Add(b); err != nil {
		return err
	}
	o.logger.Debug("boundary_added", "boundary", b.String(), "count", o.boundaries.Len())
	return nil
}

// RemoveBoundary unregisters the zone equal to b
func (o *Object) RemoveBoundary(b geofence.Boundary) error {
	if err := o.boundaries.Remove(b); err != nil {
		return err
	}
	o.logger.Debug("boundary_removed", "boundary", b.String(), "count", o.boundaries.Len())
	return nil
}

// Boundaries lists registered zones in insertion order
func (o *Object) Boundaries() []geofence.Boundary {
	return o.boundaries.List()
}

// ZoneStatus returns the aggregate membership
func (o *Object) ZoneStatus() geofence.Status {
	return o.tracker.Status()
}

// Close releases the provider and forgets every boundary
func (o *Object) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
	}
	err := o.provider.Close()
	o.boundaries.Clear()
	o.tracker.Reset()
	return err
}

func (o *Object) handle(ev Event) {
	if o.closed {
		return
	}
	switch ev.Type {
	case EventEnabled:
		// a (re)acquired service starts a fresh gate window
		o.gate.Reset()
		o.emit(ev)
	case EventDisabled:
		o.emit(ev)
	case EventUpdated:
		o.handleUpdate(ev)
	}
}

func (o *Object) handleUpdate(ev Event) {
	if ev.Kind == DataPosition && ev.Position != nil {
		p := *ev.Position
		o.lastPos = &p
		o.lastAcc = ev.Accuracy
	}

	if o.gate.Allow(ev.Kind, o.deps.Clock()) {
		o.emit(ev)
	} else {
		o.deps.Recorder.UpdateSuppressed(ev.Kind.String())
	}

	if ev.Kind != DataPosition || ev.Position == nil {
		return
	}
	transition, b := o.tracker.Evaluate(&o.boundaries, *ev.Position)
	if transition == geofence.TransitionNone {
		return
	}

	p := *ev.Position
	zone := Event{
		Type:     EventZoneIn,
		Method:   ev.Method,
		Kind:     DataPosition,
		Status:   p.Status,
		Position: &p,
		Accuracy: ev.Accuracy,
		Boundary: b,
		Time:     ev.Time,
	}
	if transition == geofence.TransitionOut {
		zone.Type = EventZoneOut
	}
	o.deps.Recorder.ZoneTransition(transition.String())
	o.logger.Info("zone_transition", "transition", transition.String(), "boundary", b.String(),
		"latitude", p.Latitude, "longitude", p.Longitude)
	o.emit(zone)
}

func (o *Object) emit(ev Event) {
	ev.ID = uuid.NewString()
	kind := ""
	if ev.Type == EventUpdated {
		kind = ev.Kind.String()
	}
	o.deps.Recorder.EventEmitted(ev.Method.String(), ev.Type.String(), kind)
	o.events.emit(ev)
}
