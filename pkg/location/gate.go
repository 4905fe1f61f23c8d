package location

import "time"

const (
	MinUpdateInterval = 1 * time.Second
	MaxUpdateInterval = 120 * time.Second
)

// ClampInterval turns a requested interval in seconds into the effective one.
// Zero or negative input yields the minimum.
func ClampInterval(seconds int) time.Duration {
	if seconds <= 0 {
		return MinUpdateInterval
	}
	d := time.Duration(seconds) * time.Second
	if d > MaxUpdateInterval {
		return MaxUpdateInterval
	}
	if d < MinUpdateInterval {
		return MinUpdateInterval
	}
	return d
}

// UpdateGate rate-limits updated events independently per data kind
type UpdateGate struct {
	interval time.Duration
	last     map[DataKind]time.Time
}

// NewUpdateGate creates a gate with the given interval
func NewUpdateGate(interval time.Duration) *UpdateGate {
	return &UpdateGate{interval: interval, last: make(map[DataKind]time.Time)}
}

// Interval returns the configured interval
func (g *UpdateGate) Interval() time.Duration {
	return g.interval
}

// SetInterval changes the interval; recorded emit times are kept
func (g *UpdateGate) SetInterval(d time.Duration) {
	g.interval = d
}

// Allow reports whether a sample of kind may go out at now, and records it
func (g *UpdateGate) Allow(kind DataKind, now time.Time) bool {
	last, seen := g.last[kind]
	if seen && now.Sub(last) < g.interval {
		return false
	}
	g.last[kind] = now
	return true
}

// Reset forgets every recorded emit time
func (g *UpdateGate) Reset() {
	g.last = make(map[DataKind]time.Time)
}
