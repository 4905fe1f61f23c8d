package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/geofence"
	"github.com/markus-lassfolk/locationd/pkg/location"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

type positionResponse struct {
	Method   string       `json:"method"`
	Position pkg.Position `json:"position"`
	Accuracy pkg.Accuracy `json:"accuracy"`
}

type velocityResponse struct {
	Method   string       `json:"method"`
	Velocity pkg.Velocity `json:"velocity"`
	Accuracy pkg.Accuracy `json:"accuracy"`
}

type statusResponse struct {
	RequestedMethod string   `json:"requested_method"`
	Method          string   `json:"method"`
	IntervalSeconds int      `json:"interval_seconds"`
	ZoneStatus      string   `json:"zone_status"`
	Boundaries      []string `json:"boundaries"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var resp positionResponse
	err := s.call(r, func() error {
		pos, acc, err := s.deps.Object.Position()
		if err != nil {
			return err
		}
		resp = positionResponse{Method: s.deps.Object.Method().String(), Position: pos, Accuracy: acc}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	var resp velocityResponse
	err := s.call(r, func() error {
		vel, acc, err := s.deps.Object.Velocity()
		if err != nil {
			return err
		}
		resp = velocityResponse{Method: s.deps.Object.Method().String(), Velocity: vel, Accuracy: acc}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLastPosition(w http.ResponseWriter, r *http.Request) {
	var resp positionResponse
	err := s.call(r, func() error {
		pos, acc, ok := s.deps.Object.LastPosition()
		if !ok {
			return fmt.Errorf("no position received yet: %w", pkg.ErrNotFound)
		}
		resp = positionResponse{Method: s.deps.Object.Method().String(), Position: pos, Accuracy: acc}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	err := s.call(r, func() error {
		o := s.deps.Object
		resp = statusResponse{
			RequestedMethod: o.RequestedMethod().String(),
			Method:          o.Method().String(),
			IntervalSeconds: int(o.UpdateInterval().Seconds()),
			ZoneStatus:      o.ZoneStatus().String(),
			Boundaries:      describe(o.Boundaries()),
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.call(r, func() error { return s.deps.Object.Start() }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("api_location_started", "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"result": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.call(r, func() error { return s.deps.Object.Stop() }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("api_location_stopped", "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"result": "stopped"})
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var effective int
	if err := s.call(r, func() error {
		effective = int(s.deps.Object.SetUpdateInterval(req.Seconds).Seconds())
		return nil
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"interval_seconds": effective})
}

// boundaryRequest is the JSON form of a zone
type boundaryRequest struct {
	Type        geofence.Type         `json:"type"`
	TopLeft     *geofence.Coordinate  `json:"top_left,omitempty"`
	BottomRight *geofence.Coordinate  `json:"bottom_right,omitempty"`
	Center      *geofence.Coordinate  `json:"center,omitempty"`
	RadiusM     float64               `json:"radius_m,omitempty"`
	Vertices    []geofence.Coordinate `json:"vertices,omitempty"`
}

func (b boundaryRequest) boundary() (geofence.Boundary, error) {
	return geofence.ZoneSpec{
		Name:        "api",
		Type:        b.Type,
		TopLeft:     b.TopLeft,
		BottomRight: b.BottomRight,
		Center:      b.Center,
		RadiusM:     b.RadiusM,
		Vertices:    b.Vertices,
	}.Boundary()
}

func describe(bs []geofence.Boundary) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.String())
	}
	return out
}

func (s *Server) readBoundary(w http.ResponseWriter, r *http.Request) (geofence.Boundary, bool) {
	var req boundaryRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	b, err := req.boundary()
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return b, true
}

func (s *Server) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	var out []string
	if err := s.call(r, func() error {
		out = describe(s.deps.Object.Boundaries())
		return nil
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"boundaries": out})
}

func (s *Server) handleAddBoundary(w http.ResponseWriter, r *http.Request) {
	b, ok := s.readBoundary(w, r)
	if !ok {
		return
	}
	if err := s.call(r, func() error { return s.deps.Object.AddBoundary(b) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"boundary": b.String()})
}

func (s *Server) handleRemoveBoundary(w http.ResponseWriter, r *http.Request) {
	b, ok := s.readBoundary(w, r)
	if !ok {
		return
	}
	if err := s.call(r, func() error { return s.deps.Object.RemoveBoundary(b) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": b.String()})
}

// gpsOf finds the gps provider behind the object, directly or in hybrid
func (s *Server) gpsOf() (*location.GPS, error) {
	switch p := s.deps.Object.Provider().(type) {
	case *location.GPS:
		return p, nil
	case *location.Hybrid:
		if g := p.GPS(); g != nil {
			return g, nil
		}
	}
	return nil, fmt.Errorf("no gps provider: %w", pkg.ErrNotSupported)
}

func (s *Server) handleSatellite(w http.ResponseWriter, r *http.Request) {
	var sat pkg.Satellite
	err := s.call(r, func() error {
		g, err := s.gpsOf()
		if err != nil {
			return err
		}
		sat, err = g.Satellite()
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sat)
}

func (s *Server) handleNMEA(w http.ResponseWriter, r *http.Request) {
	var nmea string
	err := s.call(r, func() error {
		g, err := s.gpsOf()
		if err != nil {
			return err
		}
		nmea, err = g.NMEA()
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(nmea))
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	var name string
	err := s.call(r, func() error {
		g, err := s.gpsOf()
		if err != nil {
			return err
		}
		name, err = g.DeviceName()
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device": name})
}

func (s *Server) handleSetDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Device string `json:"device"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.call(r, func() error {
		g, err := s.gpsOf()
		if err != nil {
			return err
		}
		return g.SetDeviceName(req.Device)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device": req.Device})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		s.writeError(w, r, fmt.Errorf("no settings store: %w", pkg.ErrNotAvailable))
		return
	}
	out := make(map[string]bool, len(settings.Keys))
	for _, k := range settings.Keys {
		v, err := s.deps.Settings.Bool(k)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out[string(k)] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		s.writeError(w, r, fmt.Errorf("no settings store: %w", pkg.ErrNotAvailable))
		return
	}
	key, err := settings.ParseKey(r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Value *bool `json:"value"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Value == nil {
		s.writeError(w, r, fmt.Errorf("missing value: %w", pkg.ErrParameter))
		return
	}
	if err := s.deps.Settings.SetBool(key, *req.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("api_setting_written", "key", string(key), "value", *req.Value)
	writeJSON(w, http.StatusOK, map[string]bool{string(key): *req.Value})
}

// queryFloat parses a required float query parameter
func queryFloat(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, fmt.Errorf("missing %s: %w", name, pkg.ErrParameter)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, pkg.ErrParameter)
	}
	return f, nil
}
