package geofence

import (
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
)

// Set is an insertion-ordered collection of distinct boundaries
type Set struct {
	items []Boundary
}

// Add appends b; a boundary equal to one already present is rejected
func (s *Set) Add(b Boundary) error {
	if b == nil {
		return fmt.Errorf("nil boundary: %w", pkg.ErrParameter)
	}
	for _, existing := range s.items {
		if existing.Equal(b) {
			return fmt.Errorf("boundary %s already registered: %w", b, pkg.ErrParameter)
		}
	}
	s.items = append(s.items, b)
	return nil
}

// Remove deletes the boundary equal to b
func (s *Set) Remove(b Boundary) error {
	if b == nil {
		return fmt.Errorf("nil boundary: %w", pkg.ErrParameter)
	}
	for i, existing := range s.items {
		if existing.Equal(b) {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("boundary %s: %w", b, pkg.ErrNotFound)
}

// Clear removes every boundary
func (s *Set) Clear() {
	s.items = nil
}

// Len returns the number of boundaries
func (s *Set) Len() int {
	return len(s.items)
}

// List returns the boundaries in insertion order
func (s *Set) List() []Boundary {
	return append([]Boundary(nil), s.items...)
}

// FirstContaining returns the earliest boundary containing pos
func (s *Set) FirstContaining(pos pkg.Position) (Boundary, bool) {
	for _, b := range s.items {
		if b.Contains(pos) {
			return b, true
		}
	}
	return nil, false
}

// Status is the aggregate zone membership
type Status int

const (
	StatusUnknown Status = iota
	StatusInside
	StatusOutside
)

func (s Status) String() string {
	switch s {
	case StatusInside:
		return "inside"
	case StatusOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// Transition is a zone crossing
type Transition int

const (
	TransitionNone Transition = iota
	TransitionIn
	TransitionOut
)

func (t Transition) String() string {
	switch t {
	case TransitionIn:
		return "zone_in"
	case TransitionOut:
		return "zone_out"
	default:
		return "none"
	}
}

// Tracker turns position samples into aggregate in/out transitions. "Inside"
// means inside at least one boundary of the set.
type Tracker struct {
	status Status
	last   Boundary
}

// Status returns the current membership
func (t *Tracker) Status() Status {
	return t.status
}

// Reset forgets the membership
func (t *Tracker) Reset() {
	t.status = StatusUnknown
	t.last = nil
}

// Evaluate folds pos into the membership state. It returns the transition and
// the boundary it concerns: the containing boundary for In, the boundary last
// seen containing the sample for Out. With an empty set nothing happens.
func (t *Tracker) Evaluate(set *Set, pos pkg.Position) (Transition, Boundary) {
	if set == nil || set.Len() == 0 {
		return TransitionNone, nil
	}

	if b, inside := set.FirstContaining(pos); inside {
		t.last = b
		if t.status != StatusInside {
			t.status = StatusInside
			return TransitionIn, b
		}
		return TransitionNone, nil
	}

	switch t.status {
	case StatusInside:
		t.status = StatusOutside
		left := t.last
		t.last = nil
		return TransitionOut, left
	case StatusUnknown:
		t.status = StatusOutside
	}
	return TransitionNone, nil
}
