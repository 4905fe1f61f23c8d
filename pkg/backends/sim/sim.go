// Package sim is a simulated receiver driving around a circle. It serves as
// the gps or wps backend for demos and end-to-end tests.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

const earthRadius = 6371000.0

// Config describes the simulated track
type Config struct {
	Latitude  float64
	Longitude float64
	Radius    float64       // meters
	Lap       time.Duration // time for one full circle
	Interval  time.Duration // sample period; zero disables the ticker
	Accuracy  float64       // reported horizontal accuracy in meters
	Status    pkg.Status
}

// DefaultConfig circles Ajou University in Suwon once every ten minutes
func DefaultConfig() Config {
	return Config{
		Latitude:  37.2829,
		Longitude: 127.0436,
		Radius:    500,
		Lap:       10 * time.Minute,
		Interval:  time.Second,
		Accuracy:  5,
		Status:    pkg.Status3D,
	}
}

// Receiver implements provider.GPSOps; as a wps backend only the session
// part is used.
type Receiver struct {
	cfg    Config
	clock  func() time.Time
	logger *logx.Logger

	mu      sync.Mutex
	device  string
	cb      provider.Callbacks
	running bool
	step    int
	pos     pkg.Position
	vel     pkg.Velocity
	stop    chan struct{}
	done    chan struct{}
}

// New creates a simulated receiver
func New(cfg Config, logger *logx.Logger) *Receiver {
	if cfg.Lap <= 0 {
		cfg.Lap = 10 * time.Minute
	}
	if cfg.Status == pkg.StatusNoFix {
		cfg.Status = pkg.Status3D
	}
	if logger == nil {
		logger = logx.Discard()
	}
	return &Receiver{cfg: cfg, clock: time.Now, logger: logger, device: "sim0"}
}

// SetClock replaces the time source
func (r *Receiver) SetClock(clock func() time.Time) {
	r.mu.Lock()
	r.clock = clock
	r.mu.Unlock()
}

// Start reports the service enabled and begins emitting samples
func (r *Receiver) Start(cb provider.Callbacks) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.cb = cb
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	interval, stop, done := r.cfg.Interval, r.stop, r.done
	r.mu.Unlock()

	if cb.Status != nil {
		cb.Status(true, r.cfg.Status)
	}
	r.logger.Info("sim_receiver_started", "latitude", r.cfg.Latitude, "longitude", r.cfg.Longitude, "radius_m", r.cfg.Radius)

	if interval <= 0 {
		close(done)
		return nil
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Step()
			}
		}
	}()
	return nil
}

// Stop halts the ticker and reports the service disabled
func (r *Receiver) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cb := r.cb
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	<-done
	if cb.Status != nil {
		cb.Status(false, pkg.StatusNoFix)
	}
	return nil
}

// Step advances the track by one sample and emits it
func (r *Receiver) Step() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.step++
	now := r.clock()
	r.pos, r.vel = r.sample(now)
	pos, vel, cb := r.pos, r.vel, r.cb
	acc := r.accuracy()
	r.mu.Unlock()

	if cb.Position != nil {
		cb.Position(pos, acc)
	}
	if cb.Velocity != nil {
		cb.Velocity(vel, acc)
	}
	if cb.Satellite != nil {
		cb.Satellite(r.constellation(now))
	}
}

// sample places the receiver on the circle after step ticks
func (r *Receiver) sample(now time.Time) (pkg.Position, pkg.Velocity) {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	elapsed := time.Duration(r.step) * interval
	theta := 2 * math.Pi * float64(elapsed) / float64(r.cfg.Lap)

	north := r.cfg.Radius * math.Cos(theta)
	east := r.cfg.Radius * math.Sin(theta)
	lat := r.cfg.Latitude + north/earthRadius*180/math.Pi
	lon := r.cfg.Longitude + east/(earthRadius*math.Cos(r.cfg.Latitude*math.Pi/180))*180/math.Pi

	speed := 2 * math.Pi * r.cfg.Radius / r.cfg.Lap.Seconds()
	// moving clockwise seen from above, heading is perpendicular to the radius
	heading := math.Mod(theta*180/math.Pi+90, 360)

	pos := pkg.Position{Timestamp: now, Latitude: lat, Longitude: lon, Altitude: 40, Status: r.cfg.Status}
	vel := pkg.Velocity{Timestamp: now, Speed: speed, Direction: heading}
	return pos, vel
}

func (r *Receiver) accuracy() pkg.Accuracy {
	return pkg.Accuracy{Level: pkg.AccuracyDetailed, Horizontal: r.cfg.Accuracy, Vertical: r.cfg.Accuracy * 1.5}
}

func (r *Receiver) constellation(now time.Time) pkg.Satellite {
	sat := pkg.Satellite{Timestamp: now, InView: 10, InUse: 7}
	for i := 0; i < sat.InView; i++ {
		sat.Details = append(sat.Details, pkg.SatelliteDetail{
			PRN:       i + 1,
			Used:      i < sat.InUse,
			Elevation: 10 + i*8,
			Azimuth:   (i * 36) % 360,
			SNR:       float64(30 + i),
		})
	}
	return sat
}

// Position returns the last emitted sample
func (r *Receiver) Position() (pkg.Position, pkg.Accuracy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.step == 0 {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("no sample yet: %w", pkg.ErrNotAvailable)
	}
	return r.pos, r.accuracy(), nil
}

// Velocity returns the last emitted motion sample
func (r *Receiver) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.step == 0 {
		return pkg.Velocity{}, pkg.Accuracy{}, fmt.Errorf("no sample yet: %w", pkg.ErrNotAvailable)
	}
	return r.vel, r.accuracy(), nil
}

// NMEA renders the last sample as a GGA sentence
func (r *Receiver) NMEA() (string, error) {
	pos, _, err := r.Position()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("$GPGGA,%s,%.5f,N,%.5f,E,1,07,1.0,%.1f,M,,M,,",
		pos.Timestamp.UTC().Format("150405"), math.Abs(pos.Latitude), math.Abs(pos.Longitude), pos.Altitude), nil
}

// Satellite returns a fixed constellation
func (r *Receiver) Satellite() (pkg.Satellite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.constellation(r.clock()), nil
}

// DeviceName returns the simulated device name
func (r *Receiver) DeviceName() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device, nil
}

// SetDeviceName renames the simulated device
func (r *Receiver) SetDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("empty device name: %w", pkg.ErrParameter)
	}
	r.mu.Lock()
	r.device = name
	r.mu.Unlock()
	return nil
}

// Module returns a factory serving a fresh simulated receiver
func Module(cfg Config) provider.Factory {
	return func() provider.Module {
		var rcv *Receiver
		return provider.ModuleFuncs{
			InitFunc: func(logger *logx.Logger) (interface{}, error) {
				rcv = New(cfg, logger)
				return rcv, nil
			},
			ShutdownFunc: func() error {
				if rcv == nil {
					return nil
				}
				return rcv.Stop()
			},
		}
	}
}
