// Package settings exposes the OS-level location toggles and notifies
// subscribers when they change.
package settings

import (
	"fmt"
	"sync"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/eventloop"
)

// Key names a boolean setting
type Key string

const (
	KeyGPSEnabled     Key = "gps_enabled"
	KeyAGPSEnabled    Key = "agps_enabled"
	KeyNetworkEnabled Key = "network_enabled"
	KeySensorEnabled  Key = "sensor_enabled"
)

// Keys lists every known setting
var Keys = []Key{KeyGPSEnabled, KeyAGPSEnabled, KeyNetworkEnabled, KeySensorEnabled}

// defaults applies to keys never written
var defaults = map[Key]bool{
	KeyGPSEnabled:     true,
	KeyAGPSEnabled:    false,
	KeyNetworkEnabled: true,
	KeySensorEnabled:  true,
}

// ParseKey validates a key name
func ParseKey(name string) (Key, error) {
	for _, k := range Keys {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown setting %q: %w", name, pkg.ErrParameter)
}

// Callback receives the new value of a changed key
type Callback func(key Key, value bool)

// Store reads, writes and watches settings
type Store interface {
	Bool(key Key) (bool, error)
	SetBool(key Key, value bool) error
	Subscribe(key Key, owner string, cb Callback) error
	Unsubscribe(key Key, owner string)
	Close() error
}

type subscription struct {
	owner string
	cb    Callback
}

// notifier keeps at most one subscription per (key, owner), in registration
// order, and delivers notifications through a dispatcher.
type notifier struct {
	mu         sync.Mutex
	dispatcher eventloop.Dispatcher
	subs       map[Key][]subscription
}

func newNotifier(d eventloop.Dispatcher) *notifier {
	if d == nil {
		d = eventloop.Immediate{}
	}
	return &notifier{dispatcher: d, subs: make(map[Key][]subscription)}
}

func (n *notifier) subscribe(key Key, owner string, cb Callback) error {
	if owner == "" || cb == nil {
		return fmt.Errorf("subscribe %s: %w", key, pkg.ErrParameter)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs[key] {
		if s.owner == owner {
			return nil
		}
	}
	n.subs[key] = append(n.subs[key], subscription{owner: owner, cb: cb})
	return nil
}

func (n *notifier) unsubscribe(key Key, owner string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.subs[key]
	for i, s := range subs {
		if s.owner == owner {
			n.subs[key] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (n *notifier) count(key Key) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[key])
}

func (n *notifier) notify(key Key, value bool) {
	n.mu.Lock()
	subs := append([]subscription(nil), n.subs[key]...)
	n.mu.Unlock()

	for _, s := range subs {
		s := s
		n.dispatcher.Post(func() {
			// dropped if the owner unsubscribed before delivery
			if n.subscribed(key, s.owner) {
				s.cb(key, value)
			}
		})
	}
}

func (n *notifier) subscribed(key Key, owner string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs[key] {
		if s.owner == owner {
			return true
		}
	}
	return false
}

// MemoryStore keeps settings in memory
type MemoryStore struct {
	*notifier
	mu     sync.Mutex
	values map[Key]bool
}

// NewMemoryStore creates a store holding the default values
func NewMemoryStore(d eventloop.Dispatcher) *MemoryStore {
	values := make(map[Key]bool, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	return &MemoryStore{notifier: newNotifier(d), values: values}
}

// Bool implements Store
func (m *MemoryStore) Bool(key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return false, fmt.Errorf("setting %q: %w", key, pkg.ErrNotFound)
	}
	return v, nil
}

// SetBool implements Store; subscribers hear only actual changes
func (m *MemoryStore) SetBool(key Key, value bool) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("setting %q: %w", key, pkg.ErrParameter)
	}
	m.mu.Lock()
	old, had := m.values[key]
	m.values[key] = value
	m.mu.Unlock()

	if !had || old != value {
		m.notify(key, value)
	}
	return nil
}

// Subscribe implements Store
func (m *MemoryStore) Subscribe(key Key, owner string, cb Callback) error {
	return m.subscribe(key, owner, cb)
}

// Unsubscribe implements Store
func (m *MemoryStore) Unsubscribe(key Key, owner string) {
	m.unsubscribe(key, owner)
}

// Subscribers returns how many owners watch key
func (m *MemoryStore) Subscribers(key Key) int {
	return m.count(key)
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}

// AllOn reports whether every key is on; read failures count as off
func AllOn(s Store, keys ...Key) bool {
	for _, k := range keys {
		v, err := s.Bool(k)
		if err != nil || !v {
			return false
		}
	}
	return true
}
