package geofence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/markus-lassfolk/locationd/pkg"
)

// ZoneFile is the on-disk list of boundaries registered at daemon start.
//
//	zones:
//	  - name: depot
//	    type: circle
//	    center: {lat: 59.33, lon: 18.06}
//	    radius_m: 250
//	  - name: yard
//	    type: rect
//	    top_left: {lat: 37.261, lon: 127.052}
//	    bottom_right: {lat: 37.253, lon: 127.058}
type ZoneFile struct {
	Zones []ZoneSpec `yaml:"zones"`
}

// ZoneSpec describes one boundary
type ZoneSpec struct {
	Name        string       `yaml:"name"`
	Type        Type         `yaml:"type"`
	TopLeft     *Coordinate  `yaml:"top_left,omitempty"`
	BottomRight *Coordinate  `yaml:"bottom_right,omitempty"`
	Center      *Coordinate  `yaml:"center,omitempty"`
	RadiusM     float64      `yaml:"radius_m,omitempty"`
	Vertices    []Coordinate `yaml:"vertices,omitempty"`
}

// Boundary builds the boundary the zone entry describes
func (z ZoneSpec) Boundary() (Boundary, error) {
	switch z.Type {
	case TypeRect:
		if z.TopLeft == nil || z.BottomRight == nil {
			return nil, fmt.Errorf("zone %q: rect needs top_left and bottom_right: %w", z.Name, pkg.ErrParameter)
		}
		return NewRect(*z.TopLeft, *z.BottomRight)
	case TypeCircle:
		if z.Center == nil {
			return nil, fmt.Errorf("zone %q: circle needs center: %w", z.Name, pkg.ErrParameter)
		}
		return NewCircle(*z.Center, z.RadiusM)
	case TypePolygon:
		return NewPolygon(z.Vertices)
	default:
		return nil, fmt.Errorf("zone %q: unknown type %q: %w", z.Name, z.Type, pkg.ErrParameter)
	}
}

// ParseZones decodes a zone document
func ParseZones(data []byte) ([]Boundary, error) {
	var zf ZoneFile
	if err := yaml.Unmarshal(data, &zf); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}

	out := make([]Boundary, 0, len(zf.Zones))
	for _, z := range zf.Zones {
		b, err := z.Boundary()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// LoadFile reads a zone file. A missing file yields no boundaries.
func LoadFile(path string) ([]Boundary, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read zones %s: %w", path, err)
	}
	return ParseZones(data)
}
