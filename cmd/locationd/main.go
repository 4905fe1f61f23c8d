package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/markus-lassfolk/locationd/pkg/api"
	"github.com/markus-lassfolk/locationd/pkg/eventloop"
	"github.com/markus-lassfolk/locationd/pkg/geocode"
	"github.com/markus-lassfolk/locationd/pkg/geofence"
	"github.com/markus-lassfolk/locationd/pkg/location"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/metrics"
	"github.com/markus-lassfolk/locationd/pkg/mqtt"
	"github.com/markus-lassfolk/locationd/pkg/pidfile"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/settings"
	"github.com/markus-lassfolk/locationd/pkg/uci"
)

var (
	configPath = flag.String("config", uci.DefaultPath, "Path to UCI configuration file")
	pidPath    = flag.String("pid-file", "", "Override the PID file path")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error|trace)")
	methodFlag = flag.String("method", "", "Override the positioning method (hybrid|gps|wps|sps|cps|ips)")
	version    = flag.Bool("version", false, "Show version information")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (equivalent to trace level)")
	force      = flag.Bool("force", false, "Start even if the PID file names a running process")
	demo       = flag.Bool("demo", false, "Serve gps and wps from the built-in simulator")
	heartbeat  = flag.String("heartbeat-file", "/tmp/locationd.health", "Heartbeat file, empty to disable")
)

const (
	AppName    = "locationd"
	AppVersion = "1.0.0"
)

// HeartbeatData is written to the heartbeat file every ten seconds
type HeartbeatData struct {
	Timestamp  string  `json:"ts"`
	UptimeS    int64   `json:"uptime_s"`
	Version    string  `json:"version"`
	Method     string  `json:"method"`
	Zone       string  `json:"zone"`
	HasFix     bool    `json:"has_fix"`
	MemMB      float64 `json:"mem_mb"`
	Goroutines int     `json:"goroutines"`
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration %s: %w", *configPath, err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *verbose {
		cfg.LogLevel = "trace"
	}
	if *pidPath != "" {
		cfg.PIDFile = *pidPath
	}
	if *methodFlag != "" {
		cfg.Method = *methodFlag
	}
	method, err := location.ParseMethod(cfg.Method)
	if err != nil {
		return err
	}

	logger := logx.NewLogger(cfg.LogLevel, AppName)

	pidFile := pidfile.New(cfg.PIDFile)
	if err := pidFile.Create(*force); err != nil {
		if errors.Is(err, pidfile.ErrRunning) {
			fmt.Fprintf(os.Stderr, "Use --force to override, or stop the existing instance first\n")
		}
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("pid_file_remove_failed", "error", err)
		}
	}()

	logger.Info("locationd_starting", "version", AppVersion, "pid", os.Getpid(), "method", method.String(), "config", *configPath)

	loop := eventloop.New()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() {
		if err := loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event_loop_stopped", "error", err)
		}
	}()

	store, err := settings.OpenBoltStore(cfg.SettingsDB, loop, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := buildRegistry(cfg, *demo, logger)
	if err != nil {
		return err
	}
	loader := provider.NewLoader(logger.WithComponent("provider"), registry, provider.PluginDir{Dir: cfg.PluginDir})

	collector := metrics.NewCollector()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var obj *location.Object
	err = loop.Call(ctx, func() error {
		var err error
		obj, err = location.New(method, location.Deps{
			Loader:     loader,
			Settings:   store,
			Dispatcher: loop,
			Logger:     logger,
			Recorder:   collector,
		})
		if err != nil {
			return err
		}
		obj.SetUpdateInterval(cfg.UpdateInterval)
		loadZones(obj, cfg.ZonesFile, logger)
		if err := obj.Start(); err != nil {
			// not fatal: /api/location/start can retry
			logger.Warn("location_start_failed", "method", method.String(), "error", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create location object: %w", err)
	}

	geo := geocode.New(geocode.Deps{Loader: loader, Settings: store, Dispatcher: loop, Logger: logger})
	defer geo.Close()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(&mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retain:      cfg.MQTT.Retain,
			Enabled:     true,
			MaxRate:     cfg.MQTT.MaxRate,
		}, logger)
		if err := mqttClient.Connect(); err != nil {
			// MQTT is optional
			logger.Error("mqtt_connect_failed", "error", err)
			mqttClient = nil
		} else {
			defer mqttClient.Disconnect()
			_ = loop.Call(ctx, func() error {
				obj.Subscribe(mqttClient.Listener())
				return nil
			})
			if err := mqttClient.BindSettings(store, loop); err != nil {
				logger.Warn("mqtt_settings_bind_failed", "error", err)
			}
		}
	}

	apiServer := api.NewServer(&api.Config{
		Enabled:  cfg.API.Enabled,
		Host:     cfg.API.Host,
		Port:     cfg.API.Port,
		AuthKey:  cfg.API.AuthKey,
		CertFile: cfg.API.CertFile,
		KeyFile:  cfg.API.KeyFile,
	}, api.Deps{
		Object:   obj,
		Geocode:  geo,
		Settings: store,
		Loop:     loop,
		Metrics:  collector.Handler(),
		Logger:   logger,
	})
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(collector, logger)
		if err := metricsServer.Start(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer metricsServer.Stop()
	}

	if *heartbeat != "" {
		go writeHeartbeat(ctx, *heartbeat, time.Now(), loop, obj, logger)
	}

	logger.Info("locationd_running", "method", method.String(), "api", cfg.API.Enabled, "mqtt", mqttClient != nil, "metrics", cfg.Metrics.Enabled)
	<-ctx.Done()
	logger.Info("locationd_shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("api_server_stop_failed", "error", err)
	}
	if err := loop.Call(shutdownCtx, obj.Close); err != nil {
		logger.Warn("location_close_failed", "error", err)
	}
	return nil
}

// loadZones adds the boundaries of the zones file
func loadZones(obj *location.Object, path string, logger *logx.Logger) {
	if path == "" {
		return
	}
	zones, err := geofence.LoadFile(path)
	if err != nil {
		logger.Warn("zones_file_invalid", "path", path, "error", err)
		return
	}
	for _, b := range zones {
		if err := obj.AddBoundary(b); err != nil {
			logger.Warn("zone_rejected", "zone", b.String(), "error", err)
		}
	}
	logger.Info("zones_loaded", "path", path, "count", len(obj.Boundaries()))
}

func writeHeartbeat(ctx context.Context, path string, start time.Time, loop *eventloop.Loop, obj *location.Object, logger *logx.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		hb := HeartbeatData{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			UptimeS:    int64(time.Since(start).Seconds()),
			Version:    AppVersion,
			Goroutines: runtime.NumGoroutine(),
		}
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		hb.MemMB = float64(mem.Alloc) / 1024 / 1024

		err := loop.Call(ctx, func() error {
			hb.Method = obj.Method().String()
			hb.Zone = obj.ZoneStatus().String()
			_, _, hb.HasFix = obj.LastPosition()
			return nil
		})
		if err != nil {
			continue
		}
		if err := writeFileAtomic(path, hb); err != nil {
			logger.Warn("heartbeat_write_failed", "path", path, "error", err)
		}
	}
}

func writeFileAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
