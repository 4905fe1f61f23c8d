package nmea

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

const recentSentences = 32

// Config holds the serial settings of a receiver
type Config struct {
	Device   string
	BaudRate int
}

// Opener opens the byte stream of a receiver
type Opener func(device string, baud int) (io.ReadCloser, error)

// OpenSerial opens a UART with 8N1 framing
func OpenSerial(device string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}
	return &portReader{port: port, stop: make(chan struct{})}, nil
}

// portReader turns read timeouts into retries until closed, so line scanning
// never sees a zero-byte read.
type portReader struct {
	port serial.Port
	stop chan struct{}
	once sync.Once
}

func (r *portReader) Read(b []byte) (int, error) {
	for {
		select {
		case <-r.stop:
			return 0, io.EOF
		default:
		}
		n, err := r.port.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (r *portReader) Close() error {
	r.once.Do(func() { close(r.stop) })
	return r.port.Close()
}

// Receiver is the GPS backend. It implements provider.GPSOps and
// provider.AGPSConfigurer.
type Receiver struct {
	open   Opener
	logger *logx.Logger

	mu      sync.Mutex
	device  string
	baud    int
	agps    bool
	parser  *Parser
	recent  []string
	enabled bool
	stream  io.ReadCloser
	done    chan struct{}
}

// NewReceiver creates a receiver. A nil opener uses OpenSerial.
func NewReceiver(cfg Config, open Opener, logger *logx.Logger) *Receiver {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if open == nil {
		open = OpenSerial
	}
	if logger == nil {
		logger = logx.Discard()
	}
	return &Receiver{open: open, logger: logger, device: cfg.Device, baud: cfg.BaudRate, parser: NewParser()}
}

// Start opens the device and streams sentences until Stop
func (r *Receiver) Start(cb provider.Callbacks) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return nil
	}
	if r.device == "" {
		return fmt.Errorf("no device configured: %w", pkg.ErrConfiguration)
	}

	stream, err := r.open(r.device, r.baud)
	if err != nil {
		return fmt.Errorf("%v: %w", err, pkg.ErrNotAvailable)
	}
	r.stream = stream
	r.parser = NewParser()
	r.recent = nil
	r.enabled = false
	r.done = make(chan struct{})
	r.logger.Info("nmea_receiver_started", "device", r.device, "baud", r.baud, "agps", r.agps)

	go r.read(stream, r.done, cb)
	return nil
}

// Stop closes the device and waits for the reader to exit
func (r *Receiver) Stop() error {
	r.mu.Lock()
	stream, done := r.stream, r.done
	r.stream = nil
	r.mu.Unlock()
	if stream == nil {
		return nil
	}

	err := stream.Close()
	<-done
	r.logger.Info("nmea_receiver_stopped", "device", r.device)
	return err
}

func (r *Receiver) read(stream io.Reader, done chan struct{}, cb provider.Callbacks) {
	defer close(done)
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		r.handle(scanner.Text(), cb)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.logger.Warn("nmea_read_failed", "device", r.device, "error", err)
	}
}

func (r *Receiver) handle(line string, cb provider.Callbacks) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	r.mu.Lock()
	upd, err := r.parser.Feed(line)
	if err != nil {
		r.mu.Unlock()
		r.logger.LogVerbose("nmea_sentence_rejected", map[string]interface{}{"sentence": line, "error": err.Error()})
		return
	}
	r.recent = append(r.recent, line)
	if len(r.recent) > recentSentences {
		r.recent = r.recent[len(r.recent)-recentSentences:]
	}

	pos, acc := r.parser.Position()
	vel := r.parser.Velocity()
	sat := r.parser.Satellite()
	fix := r.parser.HasFix()

	var statusChange, enabled bool
	if upd.Position && fix != r.enabled {
		r.enabled = fix
		statusChange, enabled = true, fix
	}
	r.mu.Unlock()

	if statusChange && cb.Status != nil {
		cb.Status(enabled, pos.Status)
	}
	if upd.Position && fix && cb.Position != nil {
		cb.Position(pos, acc)
	}
	if upd.Velocity && fix && cb.Velocity != nil {
		cb.Velocity(vel, acc)
	}
	if upd.Satellite && cb.Satellite != nil {
		cb.Satellite(sat)
	}
}

// Position returns the last valid fix
func (r *Receiver) Position() (pkg.Position, pkg.Accuracy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.parser.HasFix() {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("no fix: %w", pkg.ErrNotAvailable)
	}
	pos, acc := r.parser.Position()
	return pos, acc, nil
}

// Velocity returns the last motion sample
func (r *Receiver) Velocity() (pkg.Velocity, pkg.Accuracy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.parser.HasFix() {
		return pkg.Velocity{}, pkg.Accuracy{}, fmt.Errorf("no fix: %w", pkg.ErrNotAvailable)
	}
	_, acc := r.parser.Position()
	return r.parser.Velocity(), acc, nil
}

// NMEA returns the most recent valid sentences, newline separated
func (r *Receiver) NMEA() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.recent) == 0 {
		return "", fmt.Errorf("no sentences received: %w", pkg.ErrNotAvailable)
	}
	return strings.Join(r.recent, "\n"), nil
}

// Satellite returns the last complete constellation
func (r *Receiver) Satellite() (pkg.Satellite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parser.Satellite(), nil
}

// DeviceName returns the configured device path
func (r *Receiver) DeviceName() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device, nil
}

// SetDeviceName changes the device; it takes effect on the next Start
func (r *Receiver) SetDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("empty device name: %w", pkg.ErrParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = name
	return nil
}

// SetAGPS records the assisted-GPS hint. Plain NMEA receivers have no
// assistance channel, so it is only logged.
func (r *Receiver) SetAGPS(enabled bool) error {
	r.mu.Lock()
	r.agps = enabled
	r.mu.Unlock()
	r.logger.Debug("nmea_agps_hint", "enabled", enabled)
	return nil
}

// Module returns a factory serving Receiver as the gps backend
func Module(cfg Config, open Opener) provider.Factory {
	return func() provider.Module {
		var rcv *Receiver
		return provider.ModuleFuncs{
			InitFunc: func(logger *logx.Logger) (interface{}, error) {
				rcv = NewReceiver(cfg, open, logger)
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
