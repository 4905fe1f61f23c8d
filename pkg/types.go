// Package pkg holds the value types shared by every locationd component.
package pkg

import (
	"fmt"
	"time"
)

// Status is the fix quality reported with a position or by a provider
// status callback.
type Status int

const (
	StatusNoFix Status = iota
	Status2D
	Status3D
)

func (s Status) String() string {
	switch s {
	case Status2D:
		return "2d"
	case Status3D:
		return "3d"
	default:
		return "no_fix"
	}
}

// Position is a single location sample
type Position struct {
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Status    Status    `json:"status"`
}

// NewPosition builds a position, rejecting coordinates outside WGS84 range.
func NewPosition(ts time.Time, lat, lon, alt float64, status Status) (Position, error) {
	if lat < -90 || lat > 90 {
		return Position{}, fmt.Errorf("latitude %f out of range: %w", lat, ErrParameter)
	}
	if lon < -180 || lon > 180 {
		return Position{}, fmt.Errorf("longitude %f out of range: %w", lon, ErrParameter)
	}
	return Position{Timestamp: ts, Latitude: lat, Longitude: lon, Altitude: alt, Status: status}, nil
}

// HasFix reports whether the sample carries a usable fix
func (p Position) HasFix() bool {
	return p.Status != StatusNoFix
}

// Velocity is a single motion sample
type Velocity struct {
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`     // m/s
	Direction float64   `json:"direction"` // degrees from true north
	Climb     float64   `json:"climb"`     // m/s
}

// AccuracyLevel is the coarse granularity of a fix or a geocode result
type AccuracyLevel int

const (
	AccuracyNone AccuracyLevel = iota
	AccuracyCountry
	AccuracyRegion
	AccuracyLocality
	AccuracyPostalCode
	AccuracyStreet
	AccuracyDetailed
)

func (l AccuracyLevel) String() string {
	switch l {
	case AccuracyCountry:
		return "country"
	case AccuracyRegion:
		return "region"
	case AccuracyLocality:
		return "locality"
	case AccuracyPostalCode:
		return "postal_code"
	case AccuracyStreet:
		return "street"
	case AccuracyDetailed:
		return "detailed"
	default:
		return "none"
	}
}

// Accuracy describes the uncertainty of a sample
type Accuracy struct {
	Level      AccuracyLevel `json:"level"`
	Horizontal float64       `json:"horizontal"` // meters
	Vertical   float64       `json:"vertical"`   // meters
}

// SatelliteDetail is one satellite in view
type SatelliteDetail struct {
	PRN       int     `json:"prn"`
	Used      bool    `json:"used"`
	Elevation int     `json:"elevation"`
	Azimuth   int     `json:"azimuth"`
	SNR       float64 `json:"snr"`
}

// Satellite is a constellation snapshot
type Satellite struct {
	Timestamp time.Time         `json:"timestamp"`
	InUse     int               `json:"in_use"`
	InView    int               `json:"in_view"`
	Details   []SatelliteDetail `json:"details,omitempty"`
}

// Clone returns a deep copy so event payloads never alias provider buffers
func (s Satellite) Clone() Satellite {
	out := s
	if s.Details != nil {
		out.Details = append([]SatelliteDetail(nil), s.Details...)
	}
	return out
}

// Address is a structured postal address
type Address struct {
	BuildingNumber string `json:"building_number,omitempty"`
	Street         string `json:"street,omitempty"`
	District       string `json:"district,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	CountryCode    string `json:"country_code,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
}

// IsEmpty reports whether no field is set
func (a Address) IsEmpty() bool {
	return a == Address{}
}

// Landmark is a point of interest result
type Landmark struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Address  Address  `json:"address"`
	Types    []string `json:"types,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	URL      string   `json:"url,omitempty"`
}
