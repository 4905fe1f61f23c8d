package googlemaps

import (
	"context"
	"fmt"
	"sync"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"googlemaps.github.io/maps"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

// geolocator is the part of maps.Client the WPS session needs
type geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// WPS locates the device from visible WiFi access points. It implements
// provider.WPSOps.
type WPS struct {
	cfg     Config
	client  geolocator
	scanner Scanner
	clock   func() time.Time
	logger  *logx.Logger

	mu      sync.Mutex
	cb      provider.Callbacks
	cancel  context.CancelFunc
	done    chan struct{}
	enabled bool
	pos     *pkg.Position
	vel     *pkg.Velocity
	acc     pkg.Accuracy
	fails   int
}

// NewWPS creates a WiFi positioning session. A nil scanner scans
// cfg.Interface with iw.
func NewWPS(cfg Config, scanner Scanner, logger *logx.Logger) (*WPS, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return newWPS(cfg, client, scanner, logger), nil
}

func newWPS(cfg Config, client geolocator, scanner Scanner, logger *logx.Logger) *WPS {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if scanner == nil {
		scanner = IWScanner{Interface: cfg.Interface, MaxAPs: cfg.MaxAPs}
	}
	if logger == nil {
		logger = logx.Discard()
	}
	return &WPS{cfg: cfg, client: client, scanner: scanner, clock: time.Now, logger: logger}
}

// Start begins periodic scans. The first lookup runs immediately.
func (w *WPS) Start(cb provider.Callbacks) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cb = cb
	w.cancel = cancel
	w.done = make(chan struct{})
	w.enabled = false
	w.fails = 0

	go w.run(ctx, w.done)
	w.logger.Info("wps_started", "interface", w.cfg.Interface, "interval", w.cfg.Interval.String())
	return nil
}

// Stop cancels the scan loop and waits for it
func (w *WPS) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	w.logger.Info("wps_stopped")
	return nil
}

func (w *WPS) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		w.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh performs one scan and lookup and emits the result
func (w *WPS) Refresh(ctx context.Context) {
	pos, acc, err := w.locate(ctx)
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	cb := w.cb
	if err != nil {
		w.fails++
		lost := w.enabled && w.fails >= 3
		if lost {
			w.enabled = false
		}
		fails := w.fails
		w.mu.Unlock()
		w.logger.Warn("wps_lookup_failed", "error", err, "consecutive_failures", fails)
		if lost && cb.Status != nil {
			cb.Status(false, pkg.StatusNoFix)
		}
		return
	}

	w.fails = 0
	first := !w.enabled
	w.enabled = true
	var vel *pkg.Velocity
	if w.pos != nil {
		v := derive(*w.pos, pos)
		if v != nil {
			w.vel = v
			vel = v
		}
	}
	w.pos = &pos
	w.acc = acc
	w.mu.Unlock()

	if first && cb.Status != nil {
		cb.Status(true, pkg.Status2D)
	}
	if cb.Position != nil {
		cb.Position(pos, acc)
	}
	if vel != nil && cb.Velocity != nil {
		cb.Velocity(*vel, acc)
	}
}

func (w *WPS) locate(ctx context.Context) (pkg.Position, pkg.Accuracy, error) {
	scanCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	aps, err := w.scanner.Scan(scanCtx)
	cancel()
	if err != nil {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("wifi scan: %w", err)
	}
	if len(aps) < 2 {
		// the geolocation API needs at least two access points
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("%d access points visible: %w", len(aps), pkg.ErrNotAvailable)
	}

	res, err := w.client.Geolocate(ctx, &maps.GeolocationRequest{WiFiAccessPoints: aps, ConsiderIP: false})
	if err != nil {
		return pkg.Position{}, pkg.Accuracy{}, classify("geolocate", err)
	}
	pos, err := pkg.NewPosition(w.clock(), res.Location.Lat, res.Location.Lng, 0, pkg.Status2D)
	if err != nil {
		return pkg.Position{}, pkg.Accuracy{}, err
	}
	w.logger.Debug("wps_fix", "access_points", len(aps), "accuracy_m", res.Accuracy)
	return pos, pkg.Accuracy{Level: pkg.AccuracyStreet, Horizontal: res.Accuracy}, nil
}

// derive computes velocity between two fixes; nil when they share a timestamp
func derive(prev, cur pkg.Position) *pkg.Velocity {
	dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return nil
	}
	a := geo.NewPoint(prev.Latitude, prev.Longitude)
	b := geo.NewPoint(cur.Latitude, cur.Longitude)
	meters := a.GreatCircleDistance(b) * 1000
	v := pkg.Velocity{Timestamp: cur.Timestamp, Speed: meters / dt}
	if meters > 0 {
		bearing := a.BearingTo(b)
		if bearing < 0 {
			bearing += 360
		}
		v.Direction = bearing
	}
	return &v
}

// Position returns the last fix
func (w *WPS) Position() (pkg.Position, pkg.Accuracy, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pos == nil {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("no wifi fix yet: %w", pkg.ErrNotAvailable)
	}
	return *w.pos, w.acc, nil
}

// Velocity returns the velocity derived from the last two fixes
func (w *WPS) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.vel == nil {
		return pkg.Velocity{}, pkg.Accuracy{}, fmt.Errorf("need two wifi fixes: %w", pkg.ErrNotAvailable)
	}
	return *w.vel, w.acc, nil
}
