package location

import (
	"encoding/json"
	"time"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/geofence"
)

// EventType enumerates the notifications a provider or Object emits
type EventType int

const (
	EventEnabled EventType = iota
	EventDisabled
	EventUpdated
	EventZoneIn
	EventZoneOut
)

func (t EventType) String() string {
	switch t {
	case EventEnabled:
		return "enabled"
	case EventDisabled:
		return "disabled"
	case EventUpdated:
		return "updated"
	case EventZoneIn:
		return "zone_in"
	case EventZoneOut:
		return "zone_out"
	default:
		return "unknown"
	}
}

// DataKind is the payload class of an updated event
type DataKind int

const (
	DataPosition DataKind = iota
	DataVelocity
	DataSatellite
)

func (k DataKind) String() string {
	switch k {
	case DataPosition:
		return "position"
	case DataVelocity:
		return "velocity"
	case DataSatellite:
		return "satellite"
	default:
		return "unknown"
	}
}

// Event is a value snapshot; nothing in it aliases provider state
type Event struct {
	ID        string            `json:"id,omitempty"`
	Type      EventType         `json:"-"`
	Method    Method            `json:"-"`
	Kind      DataKind          `json:"-"`
	Status    pkg.Status        `json:"status"`
	Position  *pkg.Position     `json:"position,omitempty"`
	Velocity  *pkg.Velocity     `json:"velocity,omitempty"`
	Satellite *pkg.Satellite    `json:"satellite,omitempty"`
	Accuracy  pkg.Accuracy      `json:"accuracy"`
	Boundary  geofence.Boundary `json:"-"`
	Time      time.Time         `json:"time"`
}

// MarshalJSON renders enums by name and the boundary by its description
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	out := struct {
		plain
		Type     string `json:"type"`
		Method   string `json:"method"`
		Kind     string `json:"kind,omitempty"`
		Boundary string `json:"boundary,omitempty"`
	}{
		plain:  plain(e),
		Type:   e.Type.String(),
		Method: e.Method.String(),
	}
	if e.Type == EventUpdated {
		out.Kind = e.Kind.String()
	}
	if e.Boundary != nil {
		out.Boundary = e.Boundary.String()
	}
	return json.Marshal(out)
}

// Listener receives events on the dispatcher goroutine
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// emitter is an ordered listener registry. Only touched from the dispatcher.
type emitter struct {
	nextID    int
	listeners []listenerEntry
}

func (e *emitter) subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *emitter) emit(ev Event) {
	// a listener may unsubscribe while we iterate
	snapshot := append([]listenerEntry(nil), e.listeners...)
	for _, l := range snapshot {
		l.fn(ev)
	}
}

func (e *emitter) len() int {
	return len(e.listeners)
}

func positionEvent(method Method, pos pkg.Position, acc pkg.Accuracy) Event {
	p := pos
	return Event{Type: EventUpdated, Method: method, Kind: DataPosition, Status: pos.Status, Position: &p, Accuracy: acc, Time: pos.Timestamp}
}

func velocityEvent(method Method, vel pkg.Velocity, acc pkg.Accuracy) Event {
	v := vel
	return Event{Type: EventUpdated, Method: method, Kind: DataVelocity, Velocity: &v, Accuracy: acc, Time: vel.Timestamp}
}

func satelliteEvent(method Method, sat pkg.Satellite) Event {
	s := sat.Clone()
	return Event{Type: EventUpdated, Method: method, Kind: DataSatellite, Satellite: &s, Time: sat.Timestamp}
}

func statusEvent(method Method, typ EventType, status pkg.Status, at time.Time) Event {
	return Event{Type: typ, Method: method, Status: status, Time: at}
}
