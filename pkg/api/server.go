// Package api serves the location object, settings and geocoding over HTTP
// and streams location events over a websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/geocode"
	"github.com/markus-lassfolk/locationd/pkg/location"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// Config holds API server configuration
type Config struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port"`
	Host     string `json:"host"`
	AuthKey  string `json:"auth_key"`  // Optional authentication key
	CertFile string `json:"cert_file"` // TLS certificate file path
	KeyFile  string `json:"key_file"`  // TLS private key file path
}

// DefaultConfig returns a disabled server bound to localhost
func DefaultConfig() *Config {
	return &Config{Port: 8081, Host: "localhost"}
}

// Runner executes fn on the goroutine that owns the location object.
// eventloop.Loop implements it.
type Runner interface {
	Call(ctx context.Context, fn func() error) error
}

// Deps are the collaborators the server exposes
type Deps struct {
	Object   *location.Object
	Geocode  *geocode.Service
	Settings settings.Store
	Loop     Runner
	Metrics  http.Handler
	Logger   *logx.Logger
}

// Server provides location data via HTTP API
type Server struct {
	config *Config
	deps   Deps
	logger *logx.Logger
	server *http.Server

	upgrader websocket.Upgrader
	clientMu sync.Mutex
	clients  map[*streamClient]struct{}
	detach   func()
}

// NewServer creates a new API server
func NewServer(config *Config, deps Deps) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = logx.Discard()
	}
	return &Server{
		config:   config,
		deps:     deps,
		logger:   deps.Logger.WithComponent("api"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*streamClient]struct{}),
	}
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/location/position", s.authMiddleware(s.handlePosition))
	mux.HandleFunc("GET /api/location/velocity", s.authMiddleware(s.handleVelocity))
	mux.HandleFunc("GET /api/location/last", s.authMiddleware(s.handleLastPosition))
	mux.HandleFunc("GET /api/location/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("POST /api/location/start", s.authMiddleware(s.handleStart))
	mux.HandleFunc("POST /api/location/stop", s.authMiddleware(s.handleStop))
	mux.HandleFunc("PUT /api/location/interval", s.authMiddleware(s.handleInterval))

	mux.HandleFunc("GET /api/location/boundaries", s.authMiddleware(s.handleBoundaries))
	mux.HandleFunc("POST /api/location/boundaries", s.authMiddleware(s.handleAddBoundary))
	mux.HandleFunc("DELETE /api/location/boundaries", s.authMiddleware(s.handleRemoveBoundary))

	mux.HandleFunc("GET /api/gps/satellite", s.authMiddleware(s.handleSatellite))
	mux.HandleFunc("GET /api/gps/nmea", s.authMiddleware(s.handleNMEA))
	mux.HandleFunc("GET /api/gps/device", s.authMiddleware(s.handleDevice))
	mux.HandleFunc("PUT /api/gps/device", s.authMiddleware(s.handleSetDevice))

	mux.HandleFunc("GET /api/settings", s.authMiddleware(s.handleSettings))
	mux.HandleFunc("PUT /api/settings/{key}", s.authMiddleware(s.handleSetSetting))

	mux.HandleFunc("GET /api/geocode", s.authMiddleware(s.handleGeocode))
	mux.HandleFunc("GET /api/geocode/reverse", s.authMiddleware(s.handleReverse))
	mux.HandleFunc("GET /api/poi", s.authMiddleware(s.handlePOI))

	mux.HandleFunc("GET /api/events", s.authMiddleware(s.handleEvents))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	return mux
}

// authMiddleware handles optional authentication for API endpoints
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authKey := r.URL.Query().Get("auth")
		if authKey == "" {
			authKey = r.Header.Get("X-API-Key")
		}
		if authKey != s.config.AuthKey {
			s.logger.Warn("api_auth_rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Kind: pkg.KindOf(pkg.ErrSecurityDenied)})
			return
		}
		next.ServeHTTP(w, r)
	}
}

// Attach subscribes the event stream to the location object
func (s *Server) Attach(ctx context.Context) error {
	if s.deps.Object == nil {
		return nil
	}
	return s.deps.Loop.Call(ctx, func() error {
		s.detach = s.deps.Object.Subscribe(s.broadcast)
		return nil
	})
}

// Start attaches the event stream and starts the HTTP listener
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("api_server_disabled")
		return nil
	}
	if err := s.Attach(ctx); err != nil {
		return fmt.Errorf("attach event stream: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("api_server_starting", "address", addr, "tls", s.config.CertFile != "")

	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			// nosemgrep: go.lang.security.audit.net.use-tls.use-tls
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api_server_failed", "error", err)
		}
	}()
	return nil
}

// Stop detaches the event stream, closes stream clients and shuts down
func (s *Server) Stop(ctx context.Context) error {
	if s.detach != nil {
		detach := s.detach
		s.detach = nil
		if err := s.deps.Loop.Call(ctx, func() error { detach(); return nil }); err != nil {
			s.logger.Debug("api_detach_skipped", "error", err)
		}
	}
	s.closeClients()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.logger.Info("api_server_stopped")
	return err
}

// call runs fn on the location goroutine, bounded by the request context
func (s *Server) call(r *http.Request, fn func() error) error {
	if s.deps.Object == nil {
		return fmt.Errorf("no location object: %w", pkg.ErrNotAvailable)
	}
	return s.deps.Loop.Call(r.Context(), fn)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusOf maps an error kind to its HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, pkg.ErrParameter):
		return http.StatusBadRequest
	case errors.Is(err, pkg.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkg.ErrNotAllowed), errors.Is(err, pkg.ErrSettingOff), errors.Is(err, pkg.ErrSecurityDenied):
		return http.StatusForbidden
	case errors.Is(err, pkg.ErrNotAvailable), errors.Is(err, pkg.ErrNotSupported):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkg.ErrNetworkFailed), errors.Is(err, pkg.ErrNetworkNotConnected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Warn("api_request_failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("api_request_rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: pkg.KindOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, pkg.ErrParameter)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "locationd",
		"streams":   s.clientCount(),
	}
	if s.deps.Geocode != nil {
		body["lookups"] = s.deps.Geocode.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
