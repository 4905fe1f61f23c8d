package location

import (
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// oneshot serves the polled methods (CPS, IPS). They have no session, so
// Start, Stop and Velocity are not supported and nothing is ever emitted.
type oneshot struct {
	method   Method
	deps     Deps
	logger   *logx.Logger
	handle   *provider.Handle
	ops      provider.PositionOps
	loadErr  error
	required []settings.Key
	events   emitter
}

func newOneshot(m Method, kind provider.Kind, deps Deps) *oneshot {
	deps = deps.withDefaults()
	o := &oneshot{
		method:   m,
		deps:     deps,
		logger:   deps.Logger.WithComponent(m.String()),
		required: requiredSettings(m),
	}
	h, err := deps.Loader.Load(kind)
	if err != nil {
		o.loadErr = err
		o.logger.Warn("provider_unavailable", "method", m.String(), "error", err)
		return o
	}
	o.handle = h
	o.ops, _ = h.PositionOnly()
	return o
}

func (o *oneshot) checkAvailable() error {
	if o.loadErr != nil {
		return o.loadErr
	}
	if o.ops == nil || !o.handle.Loaded() {
		return fmt.Errorf("%s: %w", o.method, pkg.ErrNotAvailable)
	}
	return nil
}

// Method implements Provider
func (o *oneshot) Method() Method {
	return o.method
}

// Start implements Provider
func (o *oneshot) Start() error {
	if err := o.checkAvailable(); err != nil {
		return err
	}
	return fmt.Errorf("%s start: %w", o.method, pkg.ErrNotSupported)
}

// Stop implements Provider
func (o *oneshot) Stop() error {
	if err := o.checkAvailable(); err != nil {
		return err
	}
	return fmt.Errorf("%s stop: %w", o.method, pkg.ErrNotSupported)
}

// Position implements Provider
func (o *oneshot) Position() (pkg.Position, pkg.Accuracy, error) {
	if err := o.checkAvailable(); err != nil {
		return pkg.Position{}, pkg.Accuracy{}, err
	}
	if err := checkAllowed(o.deps.Settings, o.method, o.required); err != nil {
		return pkg.Position{}, pkg.Accuracy{}, err
	}
	pos, acc, err := o.ops.Position()
	return pos, acc, wrapBackendError(o.method, "position", err)
}

// Velocity implements Provider
func (o *oneshot) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	if err := o.checkAvailable(); err != nil {
		return pkg.Velocity{}, pkg.Accuracy{}, err
	}
	return pkg.Velocity{}, pkg.Accuracy{}, fmt.Errorf("%s velocity: %w", o.method, pkg.ErrNotSupported)
}

// Subscribe implements Provider
func (o *oneshot) Subscribe(l Listener) func() {
	return o.events.subscribe(l)
}

// Close implements Provider
func (o *oneshot) Close() error {
	if o.handle != nil {
		o.handle.Unload()
	}
	return nil
}

// CPS is the cell positioning provider
type CPS struct {
	*oneshot
}

// NewCPS loads the cps backend
func NewCPS(deps Deps) *CPS {
	return &CPS{oneshot: newOneshot(MethodCPS, provider.KindCPS, deps)}
}

// IPS is the IP positioning provider
type IPS struct {
	*oneshot
}

// NewIPS loads the ips backend
func NewIPS(deps Deps) *IPS {
	return &IPS{oneshot: newOneshot(MethodIPS, provider.KindIPS, deps)}
}
