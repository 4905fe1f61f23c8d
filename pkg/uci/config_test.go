package uci

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
package locationd

config locationd 'main'
	option log_level 'debug'
	option method 'gps'
	option update_interval '5'
	option zones_file '/tmp/zones.yaml'

config provider 'gps'
	option backend 'nmea'
	option device '/dev/ttyUSB1'
	option baud '9600'

config provider 'cps'
	option backend 'celldb'
	option database '/tmp/cells.db'
	list cell '244-91-100-7'
	list cell '244-91-100-8'

config provider 'ips'
	option enabled '0'

# comment
config mqtt
	option enabled '1'
	option broker 'broker.lan'
	option max_rate '2.5'

config api
	option enabled '1'
	option port '9000'
	option auth_key "secret key"
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "gps", cfg.Method)
	assert.Equal(t, 5, cfg.UpdateInterval)
	assert.Equal(t, "/tmp/zones.yaml", cfg.ZonesFile)
	assert.Equal(t, "/var/run/locationd.pid", cfg.PIDFile)
	assert.Equal(t, []string{"cps", "gps", "ips"}, cfg.Kinds())

	gps := cfg.Providers["gps"]
	assert.Equal(t, "nmea", gps.Backend)
	assert.True(t, gps.Enabled)
	assert.Equal(t, "/dev/ttyUSB1", gps.String("device", "/dev/ttyUSB0"))
	assert.Equal(t, 9600, gps.Int("baud", 4800))
	assert.Equal(t, 4800, gps.Int("missing", 4800))

	cps := cfg.Providers["cps"]
	assert.Equal(t, []string{"244-91-100-7", "244-91-100-8"}, cps.Lists["cell"])
	assert.False(t, cfg.Providers["ips"].Enabled)
	assert.Equal(t, "ipgeo", cfg.Providers["ips"].Backend)

	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "broker.lan", cfg.MQTT.Broker)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, 2.5, cfg.MQTT.MaxRate)

	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "secret key", cfg.API.AuthKey)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"bad level":    "config locationd main\n\toption log_level loud\n",
		"bad method":   "config locationd main\n\toption method radar\n",
		"interval":     "config locationd main\n\toption update_interval 500\n",
		"not a number": "config locationd main\n\toption update_interval soon\n",
		"kind":         "config provider lidar\n",
		"backend":      "config provider gps\n\toption backend ublox\n",
		"unnamed":      "config provider\n",
		"keyword":      "section main\n",
		"api port":     "config api\n\toption enabled 1\n\toption port 0\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(text))
			assert.Error(t, err)
		})
	}
}

func TestProviderAccessors(t *testing.T) {
	p := &ProviderConfig{Options: map[string]string{
		"on": "yes", "off": "0", "lat": "60.17", "interval": "2.5", "junk": "x",
	}}
	assert.True(t, p.Bool("on", false))
	assert.False(t, p.Bool("off", true))
	assert.True(t, p.Bool("junk", true))
	assert.Equal(t, 60.17, p.Float("lat", 0))
	assert.Equal(t, 1.0, p.Float("junk", 1))
	assert.Equal(t, 2500*time.Millisecond, p.Seconds("interval", time.Second))
	assert.Equal(t, time.Second, p.Seconds("missing", time.Second))
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Equal(t, "hybrid", cfg.Method)
	assert.Equal(t, 1, cfg.UpdateInterval)

	path := filepath.Join(dir, "locationd")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gps", cfg.Method)
}

func TestUCILoad(t *testing.T) {
	u := NewUCI(nil)
	var got []string
	u.run = func(_ context.Context, args ...string) (string, error) {
		got = args
		return sample, nil
	}
	cfg, err := u.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"export", "locationd"}, got)
	assert.Equal(t, "gps", cfg.Method)
	assert.True(t, u.Available(context.Background()))

	u.run = func(context.Context, ...string) (string, error) { return "", errors.New("no uci") }
	_, err = u.Load()
	assert.Error(t, err)
	assert.False(t, u.Available(context.Background()))
}
