// Package sps is a sensor fusion backend. It holds the last satellite
// compensation fed through UpdateData and dead-reckons from it between
// updates, degrading the reported accuracy with age.
package sps

import (
	"fmt"
	"sync"
	"time"

	geo "github.com/kellydunn/golang-geo"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

// Config tunes the dead-reckoning estimator
type Config struct {
	// Interval is the estimate emission period; zero disables the ticker
	Interval time.Duration `json:"interval"`
	// Window is how long the estimate stays valid without compensation
	Window time.Duration `json:"window"`
	// Drift is the horizontal accuracy loss per second of dead reckoning, meters
	Drift float64 `json:"drift"`
}

// DefaultConfig returns a one second estimator valid for thirty seconds
func DefaultConfig() Config {
	return Config{Interval: time.Second, Window: 30 * time.Second, Drift: 1.5}
}

type input struct {
	pos pkg.Position
	vel pkg.Velocity
	acc pkg.Accuracy
	sat pkg.Satellite
	at  time.Time
}

// Engine implements provider.SPSOps
type Engine struct {
	cfg    Config
	clock  func() time.Time
	logger *logx.Logger

	mu      sync.Mutex
	cb      provider.Callbacks
	running bool
	enabled bool
	comp    *input
	pos     pkg.Position
	acc     pkg.Accuracy
	stop    chan struct{}
	done    chan struct{}
}

// New creates a fusion engine
func New(cfg Config, logger *logx.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Drift < 0 {
		cfg.Drift = def.Drift
	}
	if logger == nil {
		logger = logx.Discard()
	}
	return &Engine{cfg: cfg, clock: time.Now, logger: logger}
}

// SetClock replaces the time source
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	e.clock = clock
	e.mu.Unlock()
}

// Start begins producing estimates. The service reports enabled only once
// compensation is available.
func (e *Engine) Start(cb provider.Callbacks) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.cb = cb
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	interval, stop, done := e.cfg.Interval, e.stop, e.done
	e.mu.Unlock()

	e.logger.Info("sps_engine_started", "window", e.cfg.Window.String(), "drift_m_per_s", e.cfg.Drift)
	e.Tick()

	if interval <= 0 {
		close(done)
		return nil
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.Tick()
			}
		}
	}()
	return nil
}

// Stop halts estimation and reports the service disabled
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stop)
	done, cb, wasEnabled := e.done, e.cb, e.enabled
	e.enabled = false
	e.mu.Unlock()

	<-done
	if wasEnabled && cb.Status != nil {
		cb.Status(false, pkg.StatusNoFix)
	}
	e.logger.Info("sps_engine_stopped")
	return nil
}

// UpdateData implements provider.SPSOps. A valid fix resets dead reckoning
// and is emitted straight away.
func (e *Engine) UpdateData(pos pkg.Position, vel pkg.Velocity, acc pkg.Accuracy, sat pkg.Satellite) error {
	if pos.Latitude < -90 || pos.Latitude > 90 || pos.Longitude < -180 || pos.Longitude > 180 {
		return fmt.Errorf("compensation position out of range: %w", pkg.ErrParameter)
	}
	if acc.Horizontal < 0 {
		return fmt.Errorf("negative accuracy: %w", pkg.ErrParameter)
	}
	e.mu.Lock()
	e.comp = &input{pos: pos, vel: vel, acc: acc, sat: sat.Clone(), at: e.clock()}
	e.logger.Debug("sps_compensation_updated", "latitude", pos.Latitude, "longitude", pos.Longitude, "satellites_used", sat.InUse)
	e.mu.Unlock()

	e.Tick()
	return nil
}

// Tick computes and emits the current estimate
func (e *Engine) Tick() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	now := e.clock()
	pos, acc, ok := e.estimate(now)
	cb := e.cb
	var statusChange *bool
	if ok != e.enabled {
		e.enabled = ok
		statusChange = &ok
	}
	if ok {
		e.pos, e.acc = pos, acc
	}
	vel := pkg.Velocity{}
	if e.comp != nil {
		vel = e.comp.vel
		vel.Timestamp = now
	}
	e.mu.Unlock()

	if statusChange != nil {
		if *statusChange {
			e.logger.LogStateChange("sps", "disabled", "enabled", "compensation_received", nil)
		} else {
			e.logger.LogStateChange("sps", "enabled", "disabled", "compensation_expired", map[string]interface{}{"window": e.cfg.Window.String()})
		}
		if cb.Status != nil {
			status := pkg.StatusNoFix
			if ok {
				status = pos.Status
			}
			cb.Status(ok, status)
		}
	}
	if !ok {
		return
	}
	if cb.Position != nil {
		cb.Position(pos, acc)
	}
	if cb.Velocity != nil {
		cb.Velocity(vel, acc)
	}
}

// estimate dead-reckons the compensation forward to now. Callers hold mu.
func (e *Engine) estimate(now time.Time) (pkg.Position, pkg.Accuracy, bool) {
	if e.comp == nil || !e.comp.pos.HasFix() {
		return pkg.Position{}, pkg.Accuracy{}, false
	}
	age := now.Sub(e.comp.at)
	if age < 0 {
		age = 0
	}
	if age > e.cfg.Window {
		return pkg.Position{}, pkg.Accuracy{}, false
	}

	pos := e.comp.pos
	pos.Timestamp = now
	acc := e.comp.acc
	if age > 0 {
		if e.comp.vel.Speed > 0 {
			dist := e.comp.vel.Speed * age.Seconds() / 1000
			p := geo.NewPoint(pos.Latitude, pos.Longitude).PointAtDistanceAndBearing(dist, e.comp.vel.Direction)
			pos.Latitude, pos.Longitude = p.Lat(), p.Lng()
			pos.Altitude += e.comp.vel.Climb * age.Seconds()
		}
		acc.Horizontal += e.cfg.Drift * age.Seconds()
		acc.Vertical += e.cfg.Drift * age.Seconds()
	}
	return pos, acc, true
}

// Position implements provider.SessionOps
func (e *Engine) Position() (pkg.Position, pkg.Accuracy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, acc, ok := e.estimate(e.clock())
	if !ok {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("no recent compensation: %w", pkg.ErrNotAvailable)
	}
	return pos, acc, nil
}

// Velocity implements provider.SessionOps
func (e *Engine) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock()
	_, acc, ok := e.estimate(now)
	if !ok {
		return pkg.Velocity{}, pkg.Accuracy{}, fmt.Errorf("no recent compensation: %w", pkg.ErrNotAvailable)
	}
	vel := e.comp.vel
	vel.Timestamp = now
	return vel, acc, nil
}

// Module returns a factory serving the sps backend
func Module(cfg Config) provider.Factory {
	return func() provider.Module {
		var e *Engine
		return provider.ModuleFuncs{
			InitFunc: func(logger *logx.Logger) (interface{}, error) {
				e = New(cfg, logger)
				return e, nil
			},
			ShutdownFunc: func() error {
				if e == nil {
					return nil
				}
				return e.Stop()
			},
		}
	}
}
