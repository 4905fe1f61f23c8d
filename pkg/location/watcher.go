package location

import (
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// SettingsWatcher follows the OS toggles a running provider depends on and
// pauses or resumes the backend session behind the application's back.
type SettingsWatcher struct {
	store    settings.Store
	owner    string
	required []settings.Key
	hints    []settings.Key
	logger   *logx.Logger

	onOff  func(key settings.Key)
	onOn   func(key settings.Key)
	onHint func(key settings.Key, value bool)

	active bool
}

func newSettingsWatcher(store settings.Store, owner string, required []settings.Key, logger *logx.Logger) *SettingsWatcher {
	return &SettingsWatcher{
		store:    store,
		owner:    owner,
		required: required,
		logger:   logger,
	}
}

// Owner is the identity used for every subscription of this watcher
func (w *SettingsWatcher) Owner() string {
	return w.owner
}

// Active reports whether subscriptions are registered
func (w *SettingsWatcher) Active() bool {
	return w.active
}

// Start subscribes to every watched key. Calling it twice is harmless.
func (w *SettingsWatcher) Start() {
	if w.active {
		return
	}
	w.active = true
	for _, k := range append(append([]settings.Key(nil), w.required...), w.hints...) {
		if err := w.store.Subscribe(k, w.owner, w.handle); err != nil {
			w.logger.Warn("settings_subscribe_failed", "key", string(k), "owner", w.owner, "error", err)
		}
	}
}

// Stop removes every subscription
func (w *SettingsWatcher) Stop() {
	if !w.active {
		return
	}
	w.active = false
	for _, k := range append(append([]settings.Key(nil), w.required...), w.hints...) {
		w.store.Unsubscribe(k, w.owner)
	}
}

func (w *SettingsWatcher) isHint(key settings.Key) bool {
	for _, k := range w.hints {
		if k == key {
			return true
		}
	}
	return false
}

func (w *SettingsWatcher) handle(key settings.Key, value bool) {
	if !w.active {
		return
	}
	w.logger.Debug("setting_observed", "key", string(key), "value", value, "owner", w.owner)

	if w.isHint(key) {
		if w.onHint != nil {
			w.onHint(key, value)
		}
		return
	}
	if !value {
		if w.onOff != nil {
			w.onOff(key)
		}
		return
	}
	if w.onOn != nil {
		w.onOn(key)
	}
}
