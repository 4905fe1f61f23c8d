package googlemaps

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

const iwOutput = `BSS 00:11:22:33:44:55(on wlan0) -- associated
	TSF: 1234 usec (0d, 00:00:00)
	freq: 2437
	beacon interval: 100 TUs
	signal: -48.00 dBm
	last seen: 120 ms ago
	SSID: office
BSS AA:BB:CC:DD:EE:FF(on wlan0)
	freq: 5180
	signal: -71.00 dBm
	last seen: 980 ms ago
	SSID: lab
BSS not-a-mac(on wlan0)
	signal: -30.00 dBm
BSS 66:77:88:99:aa:bb(on wlan0)
	freq: 2412
	signal: -62.50 dBm
	DS Parameter set: channel 1
`

func TestParseIWScan(t *testing.T) {
	aps := ParseIWScan(iwOutput)
	require.Len(t, aps, 3)

	assert.Equal(t, "00:11:22:33:44:55", aps[0].MACAddress)
	assert.Equal(t, -48.0, aps[0].SignalStrength)
	assert.Equal(t, 6, aps[0].Channel)
	assert.Equal(t, uint64(120), aps[0].Age)

	assert.Equal(t, "66:77:88:99:aa:bb", aps[1].MACAddress)
	assert.Equal(t, 1, aps[1].Channel)

	assert.Equal(t, "aa:bb:cc:dd:ee:ff", aps[2].MACAddress)
	assert.Equal(t, 36, aps[2].Channel)

	assert.Empty(t, ParseIWScan(""))
}

type fakeGeolocator struct {
	mu      sync.Mutex
	results []maps.GeolocationResult
	err     error
	reqs    []*maps.GeolocationRequest
}

func (f *fakeGeolocator) Geolocate(_ context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, r)
	if f.err != nil {
		return nil, f.err
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return &res, nil
}

func staticScan(n int) Scanner {
	return ScannerFunc(func(context.Context) ([]maps.WiFiAccessPoint, error) {
		aps := ParseIWScan(iwOutput)
		return aps[:n], nil
	})
}

func TestWPSDerivesVelocity(t *testing.T) {
	geo := &fakeGeolocator{results: []maps.GeolocationResult{
		{Location: maps.LatLng{Lat: 37.2570, Lng: 127.0550}, Accuracy: 30},
		{Location: maps.LatLng{Lat: 37.2579, Lng: 127.0550}, Accuracy: 25},
	}}
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	w := newWPS(cfg, geo, staticScan(3), nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w.clock = func() time.Time { return now }

	status := make(chan bool, 4)
	positions := make(chan pkg.Position, 4)
	velocities := make(chan pkg.Velocity, 4)
	require.NoError(t, w.Start(provider.Callbacks{
		Status:   func(on bool, _ pkg.Status) { status <- on },
		Position: func(p pkg.Position, _ pkg.Accuracy) { positions <- p },
		Velocity: func(v pkg.Velocity, _ pkg.Accuracy) { velocities <- v },
	}))
	defer w.Stop()

	select {
	case on := <-status:
		assert.True(t, on)
	case <-time.After(time.Second):
		t.Fatal("wps never enabled")
	}
	<-positions

	now = now.Add(10 * time.Second)
	w.Refresh(context.Background())
	p := <-positions
	assert.Equal(t, 37.2579, p.Latitude)

	v := <-velocities
	assert.InDelta(t, 10.0, v.Speed, 0.2)
	assert.InDelta(t, 0, v.Direction, 0.5)

	_, acc, err := w.Position()
	require.NoError(t, err)
	assert.Equal(t, 25.0, acc.Horizontal)
	assert.False(t, geo.reqs[0].ConsiderIP)
	assert.Len(t, geo.reqs[0].WiFiAccessPoints, 3)
}

func TestWPSDisablesAfterRepeatedFailures(t *testing.T) {
	geo := &fakeGeolocator{results: []maps.GeolocationResult{{Location: maps.LatLng{Lat: 1, Lng: 1}, Accuracy: 40}}}
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	w := newWPS(cfg, geo, staticScan(2), nil)

	status := make(chan bool, 4)
	require.NoError(t, w.Start(provider.Callbacks{Status: func(on bool, _ pkg.Status) { status <- on }}))
	defer w.Stop()
	require.True(t, <-status)

	geo.mu.Lock()
	geo.err = errors.New("quota")
	geo.mu.Unlock()
	for i := 0; i < 3; i++ {
		w.Refresh(context.Background())
	}
	select {
	case on := <-status:
		assert.False(t, on)
	case <-time.After(time.Second):
		t.Fatal("wps never disabled")
	}
}

func TestWPSNeedsTwoAccessPoints(t *testing.T) {
	w := newWPS(DefaultConfig(), &fakeGeolocator{}, staticScan(1), nil)
	_, _, err := w.locate(context.Background())
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)

	_, _, err = w.Velocity()
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := NewGeocoder(Config{}, nil)
	assert.ErrorIs(t, err, pkg.ErrConfiguration)
	_, err = NewWPS(Config{}, nil, nil)
	assert.ErrorIs(t, err, pkg.ErrConfiguration)
}

func mapsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "nearbysearch"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "OK",
				"results": []map[string]interface{}{{
					"place_id": "p1",
					"name":     "Cafe Ajou",
					"vicinity": "Worldcup-ro 206",
					"types":    []string{"cafe", "food"},
					"geometry": map[string]interface{}{"location": map[string]float64{"lat": 37.283, "lng": 127.044}},
				}},
			})
		case strings.Contains(r.URL.Path, "geocode"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "OK",
				"results": []map[string]interface{}{{
					"formatted_address": "206 Worldcup-ro, Suwon, KR",
					"types":             []string{"street_address"},
					"geometry": map[string]interface{}{
						"location":      map[string]float64{"lat": 37.2829, "lng": 127.0436},
						"location_type": "ROOFTOP",
					},
					"address_components": []map[string]interface{}{
						{"long_name": "206", "short_name": "206", "types": []string{"street_number"}},
						{"long_name": "Worldcup-ro", "short_name": "Worldcup-ro", "types": []string{"route"}},
						{"long_name": "Suwon-si", "short_name": "Suwon-si", "types": []string{"locality", "political"}},
						{"long_name": "South Korea", "short_name": "KR", "types": []string{"country", "political"}},
					},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeocoderAgainstServer(t *testing.T) {
	srv := mapsServer(t)
	cfg := DefaultConfig()
	cfg.APIKey = "AIzaTestKey"
	cfg.BaseURL = srv.URL
	g, err := NewGeocoder(cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	pos, acc, err := g.Geocode(ctx, pkg.Address{Street: "Worldcup-ro", City: "Suwon"})
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 37.2829, pos[0].Latitude)
	assert.Equal(t, pkg.AccuracyDetailed, acc[0].Level)

	addr, _, err := g.ReverseGeocode(ctx, pos[0])
	require.NoError(t, err)
	assert.Equal(t, pkg.Address{BuildingNumber: "206", Street: "Worldcup-ro", City: "Suwon-si", CountryCode: "KR"}, addr)

	res, err := g.POIFromAddress(ctx, pkg.Address{City: "Suwon"}, 300, "cafe")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Cafe Ajou", res[0].Name)
	assert.Equal(t, "p1", res[0].ID)
	assert.Equal(t, []string{"cafe", "food"}, res[0].Types)
}

func TestAddressComponents(t *testing.T) {
	c := components(pkg.Address{City: "Suwon", CountryCode: "KR", PostalCode: "16499"})
	assert.Equal(t, "Suwon", c[maps.ComponentLocality])
	assert.Equal(t, "KR", c[maps.ComponentCountry])
	assert.Equal(t, "16499", c[maps.ComponentPostalCode])
	assert.Nil(t, components(pkg.Address{Street: "x"}))
	assert.Equal(t, "206 Worldcup-ro", streetLine(pkg.Address{BuildingNumber: "206", Street: "Worldcup-ro"}))
}

func TestModulesLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "AIzaTestKey"
	reg := provider.NewRegistry()
	reg.RegisterKind(provider.KindWPS, WPSModule(cfg))
	reg.RegisterKind(provider.KindGeocode, GeocodeModule(cfg))
	reg.RegisterKind(provider.KindPOI, GeocodeModule(cfg))
	loader := provider.NewLoader(nil, reg)

	assert.True(t, loader.IsSupported(provider.KindWPS))
	assert.True(t, loader.IsSupported(provider.KindGeocode))
	assert.True(t, loader.IsSupported(provider.KindPOI))

	none := provider.NewRegistry()
	none.RegisterKind(provider.KindGeocode, GeocodeModule(Config{}))
	assert.False(t, provider.NewLoader(nil, none).IsSupported(provider.KindGeocode))
}
