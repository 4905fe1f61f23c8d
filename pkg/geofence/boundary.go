// Package geofence implements geographic boundaries and aggregate zone
// tracking over an ordered boundary set.
package geofence

import (
	"fmt"
	"math"

	geo "github.com/kellydunn/golang-geo"

	"github.com/markus-lassfolk/locationd/pkg"
)

// Type tags a boundary variant
type Type string

const (
	TypeRect    Type = "rect"
	TypeCircle  Type = "circle"
	TypePolygon Type = "polygon"
)

// Coordinate is a latitude/longitude pair in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"lat"`
	Longitude float64 `json:"longitude" yaml:"lon"`
}

func (c Coordinate) valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func (c Coordinate) point() *geo.Point {
	return geo.NewPoint(c.Latitude, c.Longitude)
}

// CoordinateOf extracts the horizontal coordinate of a position
func CoordinateOf(p pkg.Position) Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Boundary is an immutable geographic area
type Boundary interface {
	Type() Type
	Contains(pos pkg.Position) bool
	Equal(other Boundary) bool
	String() string
}

// Rect is a latitude/longitude box. A box whose TopLeft longitude is east of
// its BottomRight longitude crosses the antimeridian.
type Rect struct {
	TopLeft     Coordinate
	BottomRight Coordinate
}

// NewRect validates and builds a rectangle
func NewRect(topLeft, bottomRight Coordinate) (Rect, error) {
	if !topLeft.valid() || !bottomRight.valid() {
		return Rect{}, fmt.Errorf("rect corner out of range: %w", pkg.ErrParameter)
	}
	if topLeft.Latitude < bottomRight.Latitude {
		return Rect{}, fmt.Errorf("rect top %f is south of bottom %f: %w", topLeft.Latitude, bottomRight.Latitude, pkg.ErrParameter)
	}
	return Rect{TopLeft: topLeft, BottomRight: bottomRight}, nil
}

// Type implements Boundary
func (r Rect) Type() Type { return TypeRect }

// Contains implements Boundary. Edges are inside.
func (r Rect) Contains(pos pkg.Position) bool {
	if pos.Latitude > r.TopLeft.Latitude || pos.Latitude < r.BottomRight.Latitude {
		return false
	}
	west, east := r.TopLeft.Longitude, r.BottomRight.Longitude
	if west <= east {
		return pos.Longitude >= west && pos.Longitude <= east
	}
	return pos.Longitude >= west || pos.Longitude <= east
}

// Equal implements Boundary
func (r Rect) Equal(other Boundary) bool {
	o, ok := other.(Rect)
	return ok && o == r
}

func (r Rect) String() string {
	return fmt.Sprintf("rect(%.6f,%.6f -> %.6f,%.6f)", r.TopLeft.Latitude, r.TopLeft.Longitude, r.BottomRight.Latitude, r.BottomRight.Longitude)
}

// Circle is a great-circle disc
type Circle struct {
	Center Coordinate
	Radius float64 // meters
}

// NewCircle validates and builds a circle
func NewCircle(center Coordinate, radius float64) (Circle, error) {
	if !center.valid() {
		return Circle{}, fmt.Errorf("circle center out of range: %w", pkg.ErrParameter)
	}
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return Circle{}, fmt.Errorf("circle radius %f: %w", radius, pkg.ErrParameter)
	}
	return Circle{Center: center, Radius: radius}, nil
}

// Type implements Boundary
func (c Circle) Type() Type { return TypeCircle }

// Contains implements Boundary
func (c Circle) Contains(pos pkg.Position) bool {
	km := c.Center.point().GreatCircleDistance(CoordinateOf(pos).point())
	return km*1000 <= c.Radius
}

// Equal implements Boundary
func (c Circle) Equal(other Boundary) bool {
	o, ok := other.(Circle)
	return ok && o == c
}

func (c Circle) String() string {
	return fmt.Sprintf("circle(%.6f,%.6f r=%.1fm)", c.Center.Latitude, c.Center.Longitude, c.Radius)
}

// Polygon is a simple polygon given by its vertices in order
type Polygon struct {
	vertices []Coordinate
}

// NewPolygon validates and builds a polygon; at least three vertices
func NewPolygon(vertices []Coordinate) (Polygon, error) {
	if len(vertices) < 3 {
		return Polygon{}, fmt.Errorf("polygon needs at least 3 vertices, got %d: %w", len(vertices), pkg.ErrParameter)
	}
	for i, v := range vertices {
		if !v.valid() {
			return Polygon{}, fmt.Errorf("polygon vertex %d out of range: %w", i, pkg.ErrParameter)
		}
	}
	return Polygon{vertices: append([]Coordinate(nil), vertices...)}, nil
}

// Vertices returns a copy of the vertex list
func (p Polygon) Vertices() []Coordinate {
	return append([]Coordinate(nil), p.vertices...)
}

// Type implements Boundary
func (p Polygon) Type() Type { return TypePolygon }

// Contains implements Boundary
func (p Polygon) Contains(pos pkg.Position) bool {
	points := make([]*geo.Point, 0, len(p.vertices))
	for _, v := range p.vertices {
		points = append(points, v.point())
	}
	return geo.NewPolygon(points).Contains(CoordinateOf(pos).point())
}

// Equal implements Boundary
func (p Polygon) Equal(other Boundary) bool {
	o, ok := other.(Polygon)
	if !ok || len(o.vertices) != len(p.vertices) {
		return false
	}
	for i := range p.vertices {
		if p.vertices[i] != o.vertices[i] {
			return false
		}
	}
	return true
}

func (p Polygon) String() string {
	return fmt.Sprintf("polygon(%d vertices)", len(p.vertices))
}
