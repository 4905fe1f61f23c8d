package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.EventEmitted("gps", "position_changed", "position")
	c.EventEmitted("gps", "position_changed", "position")
	c.UpdateSuppressed("velocity")
	c.ZoneTransition("zone_in")
	c.ProviderStartFailed("wps", "setting_off")
	c.ProviderEnabled("gps", true)
	c.ProviderEnabled("wps", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("gps", "position_changed", "position")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.suppressed.WithLabelValues("velocity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.zoneTransitions.WithLabelValues("zone_in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.startFailures.WithLabelValues("wps", "setting_off")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.enabled.WithLabelValues("gps")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.enabled.WithLabelValues("wps")))
}

func TestMethodChangedKeepsOneActive(t *testing.T) {
	c := NewCollector()
	c.MethodChanged("gps")
	c.MethodChanged("wps")
	assert.Equal(t, 1, testutil.CollectAndCount(c.method))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.method.WithLabelValues("wps")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.EventEmitted("gps", "x", "y")
		c.UpdateSuppressed("x")
		c.ZoneTransition("zone_out")
		c.ProviderStartFailed("gps", "x")
		c.ProviderEnabled("gps", true)
		c.MethodChanged("gps")
	})
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ZoneTransition("zone_out")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `locationd_zone_transitions_total{transition="zone_out"} 1`)
	assert.Contains(t, string(body), "locationd_start_time_seconds")
}
