package main

import (
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/backends/celldb"
	"github.com/markus-lassfolk/locationd/pkg/backends/googlemaps"
	"github.com/markus-lassfolk/locationd/pkg/backends/ipgeo"
	"github.com/markus-lassfolk/locationd/pkg/backends/nmea"
	"github.com/markus-lassfolk/locationd/pkg/backends/sim"
	"github.com/markus-lassfolk/locationd/pkg/backends/sps"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/uci"
)

// buildRegistry registers the built-in backend configured for every enabled
// provider section. Kinds set to the plugin backend are left to the plugin
// directory. In demo mode gps and wps come from the simulator whatever the
// configuration says.
func buildRegistry(cfg *uci.Config, demo bool, logger *logx.Logger) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	for _, name := range cfg.Kinds() {
		p := cfg.Providers[name]
		if !p.Enabled || p.Backend == "plugin" {
			logger.Debug("provider_builtin_skipped", "kind", name, "backend", p.Backend, "enabled", p.Enabled)
			continue
		}
		kind, ok := provider.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown provider kind %q", name)
		}
		factory, err := builtin(kind, p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		reg.RegisterKind(kind, factory)
		if kind == provider.KindGeocode {
			reg.RegisterKind(provider.KindPOI, factory)
		}
		logger.Info("provider_backend_registered", "kind", name, "backend", p.Backend)
	}

	if demo {
		gps := sim.DefaultConfig()
		reg.RegisterKind(provider.KindGPS, sim.Module(gps))
		wps := gps
		wps.Accuracy, wps.Status, wps.Interval = 40, pkg.Status2D, 5*gps.Interval
		reg.RegisterKind(provider.KindWPS, sim.Module(wps))
		logger.Info("demo_backends_registered", "latitude", gps.Latitude, "longitude", gps.Longitude)
	}
	return reg, nil
}

func builtin(kind provider.Kind, p *uci.ProviderConfig) (provider.Factory, error) {
	switch {
	case p.Backend == "sim":
		return sim.Module(simConfig(p)), nil
	case kind == provider.KindGPS && p.Backend == "nmea":
		return nmea.Module(nmea.Config{
			Device:   p.String("device", "/dev/ttyUSB0"),
			BaudRate: p.Int("baud", 4800),
		}, nmea.OpenSerial), nil
	case kind == provider.KindWPS && p.Backend == "googlemaps":
		return googlemaps.WPSModule(mapsConfig(p)), nil
	case kind == provider.KindGeocode && p.Backend == "googlemaps":
		return googlemaps.GeocodeModule(mapsConfig(p)), nil
	case kind == provider.KindSPS:
		d := sps.DefaultConfig()
		return sps.Module(sps.Config{
			Interval: p.Seconds("interval", d.Interval),
			Window:   p.Seconds("window", d.Window),
			Drift:    p.Float("drift", d.Drift),
		}), nil
	case kind == provider.KindCPS:
		var source celldb.CellSource
		if cells := p.Lists["cell"]; len(cells) > 0 {
			static := make(celldb.StaticSource, 0, len(cells))
			for _, s := range cells {
				c, err := celldb.ParseCell(s)
				if err != nil {
					return nil, err
				}
				static = append(static, c)
			}
			source = static
		}
		return celldb.Module(p.String("database", "/etc/locationd/cells.db"), source), nil
	case kind == provider.KindIPS:
		d := ipgeo.DefaultConfig()
		return ipgeo.Module(ipgeo.Config{
			BaseURL:     p.String("url", d.BaseURL),
			Timeout:     p.Seconds("timeout", d.Timeout),
			MinInterval: p.Seconds("min_interval", d.MinInterval),
		}), nil
	}
	return nil, fmt.Errorf("backend %q cannot serve %s", p.Backend, kind)
}

func simConfig(p *uci.ProviderConfig) sim.Config {
	c := sim.DefaultConfig()
	c.Latitude = p.Float("latitude", c.Latitude)
	c.Longitude = p.Float("longitude", c.Longitude)
	c.Radius = p.Float("radius", c.Radius)
	c.Lap = p.Seconds("lap", c.Lap)
	c.Interval = p.Seconds("interval", c.Interval)
	c.Accuracy = p.Float("accuracy", c.Accuracy)
	return c
}

func mapsConfig(p *uci.ProviderConfig) googlemaps.Config {
	c := googlemaps.DefaultConfig()
	c.APIKey = p.String("api_key", "")
	c.BaseURL = p.String("base_url", "")
	c.Language = p.String("language", "")
	c.Region = p.String("region", "")
	c.Interface = p.String("interface", c.Interface)
	c.Interval = p.Seconds("interval", c.Interval)
	c.Timeout = p.Seconds("timeout", c.Timeout)
	c.MaxAPs = p.Int("max_aps", c.MaxAPs)
	c.RateLimit = p.Int("rate_limit", c.RateLimit)
	return c
}
