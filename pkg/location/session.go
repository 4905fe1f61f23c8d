package location

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// session is the shared machinery of the event-driven providers (GPS, WPS,
// SPS). started follows the application's Start/Stop; running follows the
// backend session, which the settings watcher may pause while started.
type session struct {
	method   Method
	deps     Deps
	logger   *logx.Logger
	handle   *provider.Handle
	ops      provider.SessionOps
	loadErr  error
	required []settings.Key
	watcher  *SettingsWatcher
	events   emitter

	started    bool
	running    bool
	enabled    bool
	generation uint64

	// onResume runs after the watcher restarted a paused backend
	onResume func()
}

func newSession(m Method, kind provider.Kind, deps Deps) *session {
	deps = deps.withDefaults()
	s := &session{
		method:   m,
		deps:     deps,
		logger:   deps.Logger.WithComponent(m.String()),
		required: requiredSettings(m),
	}

	h, err := deps.Loader.Load(kind)
	if err != nil {
		s.loadErr = err
		s.logger.Warn("provider_unavailable", "method", m.String(), "error", err)
	} else if ops, ok := h.Session(); ok {
		s.handle = h
		s.ops = ops
	} else {
		h.Unload()
		s.loadErr = fmt.Errorf("%s backend has no session operations: %w", m, pkg.ErrNotAvailable)
	}

	s.watcher = newSettingsWatcher(deps.Settings, m.String()+"-"+uuid.NewString(), s.required, s.logger)
	s.watcher.onOff = s.suspend
	s.watcher.onOn = s.resume
	return s
}

// Method implements Provider
func (s *session) Method() Method {
	return s.method
}

// Subscribe implements Provider
func (s *session) Subscribe(l Listener) func() {
	return s.events.subscribe(l)
}

// Started reports whether the application started the provider
func (s *session) Started() bool {
	return s.started
}

// Enabled reports whether the backend currently reports a usable service
func (s *session) Enabled() bool {
	return s.enabled
}

// Watcher exposes the settings watcher, mostly for inspection
func (s *session) Watcher() *SettingsWatcher {
	return s.watcher
}

func (s *session) checkAvailable() error {
	if s.loadErr != nil {
		return s.loadErr
	}
	if s.ops == nil || !s.handle.Loaded() {
		return fmt.Errorf("%s: %w", s.method, pkg.ErrNotAvailable)
	}
	return nil
}

func (s *session) checkAllowed() error {
	return checkAllowed(s.deps.Settings, s.method, s.required)
}

// Start implements Provider
func (s *session) Start() error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	if s.started {
		return nil
	}
	if err := s.checkAllowed(); err != nil {
		return err
	}

	// backends may report status from inside Start
	s.generation++
	s.running = true
	if err := s.ops.Start(s.callbacks(s.generation)); err != nil {
		s.running = false
		s.setEnabled(false, pkg.StatusNoFix)
		s.logger.Warn("provider_start_failed", "method", s.method.String(), "error", err)
		return wrapBackendError(s.method, "start", err)
	}

	s.started = true
	s.watcher.Start()
	s.logger.LogStateChange(s.method.String(), "stopped", "started", "application_request", nil)
	return nil
}

// Stop implements Provider. Stopping a provider that was never started is a
// no-op. The settings gate does not apply so a paused session can always be
// released.
func (s *session) Stop() error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	if !s.started {
		return nil
	}

	s.watcher.Stop()
	var stopErr error
	if s.running {
		stopErr = s.ops.Stop()
		s.running = false
	}
	s.started = false
	s.setEnabled(false, pkg.StatusNoFix)
	s.logger.LogStateChange(s.method.String(), "started", "stopped", "application_request", nil)

	if stopErr != nil {
		s.logger.Warn("provider_stop_failed", "method", s.method.String(), "error", stopErr)
		return wrapBackendError(s.method, "stop", stopErr)
	}
	return nil
}

// Position implements Provider
func (s *session) Position() (pkg.Position, pkg.Accuracy, error) {
	if err := s.checkAvailable(); err != nil {
		return pkg.Position{}, pkg.Accuracy{}, err
	}
	if err := s.checkAllowed(); err != nil {
		return pkg.Position{}, pkg.Accuracy{}, err
	}
	pos, acc, err := s.ops.Position()
	return pos, acc, wrapBackendError(s.method, "position", err)
}

// Velocity implements Provider
func (s *session) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	if err := s.checkAvailable(); err != nil {
		return pkg.Velocity{}, pkg.Accuracy{}, err
	}
	if err := s.checkAllowed(); err != nil {
		return pkg.Velocity{}, pkg.Accuracy{}, err
	}
	vel, acc, err := s.ops.Velocity()
	return vel, acc, wrapBackendError(s.method, "velocity", err)
}

// Close stops the provider and unloads its backend
func (s *session) Close() error {
	if s.loadErr == nil {
		_ = s.Stop()
	}
	s.watcher.Stop()
	if s.handle != nil {
		s.handle.Unload()
	}
	return nil
}

// suspend pauses the backend because a required setting went off
func (s *session) suspend(key settings.Key) {
	if !s.running {
		return
	}
	if err := s.ops.Stop(); err != nil {
		s.logger.Warn("provider_suspend_failed", "key", string(key), "error", err)
	}
	s.running = false
	s.setEnabled(false, pkg.StatusNoFix)
	s.logger.LogStateChange(s.method.String(), "running", "suspended", string(key)+"_off", nil)
}

// resume restarts a paused backend once every required setting is on again
func (s *session) resume(key settings.Key) {
	if !s.started || s.running {
		return
	}
	if err := s.checkAllowed(); err != nil {
		s.logger.Debug("provider_resume_deferred", "key", string(key), "reason", err)
		return
	}
	s.generation++
	s.running = true
	if err := s.ops.Start(s.callbacks(s.generation)); err != nil {
		s.running = false
		s.setEnabled(false, pkg.StatusNoFix)
		s.logger.Warn("provider_resume_failed", "key", string(key), "error", err)
		s.deps.Recorder.ProviderStartFailed(s.method.String(), pkg.KindOf(wrapBackendError(s.method, "resume", err)))
		return
	}
	s.logger.LogStateChange(s.method.String(), "suspended", "running", string(key)+"_on", nil)
	if s.onResume != nil {
		s.onResume()
	}
}

// callbacks re-post backend notifications on the dispatcher. A notification
// is dropped at delivery if the session it belongs to is no longer running.
func (s *session) callbacks(gen uint64) provider.Callbacks {
	post := s.deps.Dispatcher.Post
	live := func() bool { return s.running && s.generation == gen }

	return provider.Callbacks{
		Status: func(enabled bool, status pkg.Status) {
			post(func() {
				if live() {
					s.setEnabled(enabled, status)
				}
			})
		},
		Position: func(pos pkg.Position, acc pkg.Accuracy) {
			post(func() {
				if !live() {
					return
				}
				if pos.HasFix() && !s.enabled {
					s.setEnabled(true, pos.Status)
				}
				s.events.emit(positionEvent(s.method, pos, acc))
			})
		},
		Velocity: func(vel pkg.Velocity, acc pkg.Accuracy) {
			post(func() {
				if live() {
					s.events.emit(velocityEvent(s.method, vel, acc))
				}
			})
		},
		Satellite: func(sat pkg.Satellite) {
			sat = sat.Clone()
			post(func() {
				if live() {
					s.events.emit(satelliteEvent(s.method, sat))
				}
			})
		},
	}
}

// setEnabled emits enabled/disabled on edges only
func (s *session) setEnabled(enabled bool, status pkg.Status) {
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	s.deps.Recorder.ProviderEnabled(s.method.String(), enabled)
	typ := EventDisabled
	if enabled {
		typ = EventEnabled
	}
	s.events.emit(statusEvent(s.method, typ, status, s.deps.Clock()))
}
