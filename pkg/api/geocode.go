package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/markus-lassfolk/locationd/pkg"
)

type match struct {
	Position pkg.Position `json:"position"`
	Accuracy pkg.Accuracy `json:"accuracy"`
}

// objectSource reads the current position through the location goroutine
type objectSource struct {
	ctx context.Context
	s   *Server
}

func (o objectSource) Position() (pkg.Position, pkg.Accuracy, error) {
	if o.s.deps.Object == nil {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("no location object: %w", pkg.ErrNotAvailable)
	}
	var pos pkg.Position
	var acc pkg.Accuracy
	err := o.s.deps.Loop.Call(o.ctx, func() error {
		var err error
		pos, acc, err = o.s.deps.Object.Position()
		return err
	})
	return pos, acc, err
}

func addressOf(r *http.Request) pkg.Address {
	q := r.URL.Query()
	return pkg.Address{
		BuildingNumber: q.Get("building"),
		Street:         q.Get("street"),
		District:       q.Get("district"),
		City:           q.Get("city"),
		State:          q.Get("state"),
		CountryCode:    q.Get("country"),
		PostalCode:     q.Get("postal"),
	}
}

func (s *Server) geocoder() error {
	if s.deps.Geocode == nil {
		return fmt.Errorf("geocoding not configured: %w", pkg.ErrNotAvailable)
	}
	return nil
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	if err := s.geocoder(); err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		pos []pkg.Position
		acc []pkg.Accuracy
		err error
	)
	if text := r.URL.Query().Get("q"); text != "" {
		pos, acc, err = s.deps.Geocode.GeocodeFreeText(r.Context(), text)
	} else {
		pos, acc, err = s.deps.Geocode.Geocode(r.Context(), addressOf(r))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]match, 0, len(pos))
	for i := range pos {
		m := match{Position: pos[i]}
		if i < len(acc) {
			m.Accuracy = acc[i]
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string][]match{"results": out})
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	if err := s.geocoder(); err != nil {
		s.writeError(w, r, err)
		return
	}
	lat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, acc, err := s.deps.Geocode.ReverseGeocode(r.Context(), pkg.Position{Latitude: lat, Longitude: lon, Status: pkg.Status2D})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "accuracy": acc})
}

// handlePOI searches around lat/lon when given, else around the address
// fields when any is set, else around the current position.
func (s *Server) handlePOI(w http.ResponseWriter, r *http.Request) {
	if err := s.geocoder(); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	radius, err := strconv.ParseUint(q.Get("radius"), 10, 32)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("invalid radius %q: %w", q.Get("radius"), pkg.ErrParameter))
		return
	}
	keyword := q.Get("keyword")

	var res []pkg.Landmark
	switch addr := addressOf(r); {
	case q.Has("lat") || q.Has("lon"):
		lat, err := queryFloat(r, "lat")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lon, err := queryFloat(r, "lon")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err = s.deps.Geocode.POIFromPosition(r.Context(), pkg.Position{Latitude: lat, Longitude: lon, Status: pkg.Status2D}, uint(radius), keyword)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	case !addr.IsEmpty():
		res, err = s.deps.Geocode.POIFromAddress(r.Context(), addr, uint(radius), keyword)
	default:
		res, err = s.deps.Geocode.POI(r.Context(), objectSource{ctx: r.Context(), s: s}, uint(radius), keyword)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]pkg.Landmark{"results": res})
}
