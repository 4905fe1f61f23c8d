package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/eventloop"
)

func TestMemoryStoreDefaults(t *testing.T) {
	s := NewMemoryStore(nil)

	v, err := s.Bool(KeyGPSEnabled)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = s.Bool(KeyAGPSEnabled)
	require.NoError(t, err)
	assert.False(t, v)

	_, err = s.Bool(Key("bogus"))
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.ErrorIs(t, s.SetBool(Key("bogus"), true), pkg.ErrParameter)
}

func TestSubscriptionUniquePerOwner(t *testing.T) {
	s := NewMemoryStore(nil)
	calls := 0
	cb := func(Key, bool) { calls++ }

	require.NoError(t, s.Subscribe(KeyGPSEnabled, "gps-1", cb))
	require.NoError(t, s.Subscribe(KeyGPSEnabled, "gps-1", cb))
	require.NoError(t, s.Subscribe(KeyGPSEnabled, "wps-1", cb))
	assert.Equal(t, 2, s.Subscribers(KeyGPSEnabled))

	require.NoError(t, s.SetBool(KeyGPSEnabled, false))
	assert.Equal(t, 2, calls)

	s.Unsubscribe(KeyGPSEnabled, "gps-1")
	s.Unsubscribe(KeyGPSEnabled, "gps-1")
	require.NoError(t, s.SetBool(KeyGPSEnabled, true))
	assert.Equal(t, 3, calls)
}

func TestNotifyOnlyOnChange(t *testing.T) {
	s := NewMemoryStore(nil)
	var got []bool
	require.NoError(t, s.Subscribe(KeySensorEnabled, "sps", func(_ Key, v bool) { got = append(got, v) }))

	require.NoError(t, s.SetBool(KeySensorEnabled, true))
	require.NoError(t, s.SetBool(KeySensorEnabled, false))
	require.NoError(t, s.SetBool(KeySensorEnabled, false))

	assert.Equal(t, []bool{false}, got)
}

func TestNotificationDroppedAfterUnsubscribe(t *testing.T) {
	var q eventloop.Queue
	s := NewMemoryStore(&q)
	calls := 0
	require.NoError(t, s.Subscribe(KeyNetworkEnabled, "wps", func(Key, bool) { calls++ }))

	require.NoError(t, s.SetBool(KeyNetworkEnabled, false))
	s.Unsubscribe(KeyNetworkEnabled, "wps")
	q.Drain()

	assert.Equal(t, 0, calls)
}

func TestSubscribeRejectsEmptyOwner(t *testing.T) {
	s := NewMemoryStore(nil)
	assert.ErrorIs(t, s.Subscribe(KeyGPSEnabled, "", func(Key, bool) {}), pkg.ErrParameter)
	assert.ErrorIs(t, s.Subscribe(KeyGPSEnabled, "x", nil), pkg.ErrParameter)
}

func TestAllOn(t *testing.T) {
	s := NewMemoryStore(nil)
	assert.True(t, AllOn(s, KeyGPSEnabled, KeyNetworkEnabled))
	require.NoError(t, s.SetBool(KeyNetworkEnabled, false))
	assert.False(t, AllOn(s, KeyGPSEnabled, KeyNetworkEnabled))
	assert.True(t, AllOn(s))
}

func TestBoltStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "settings.db")

	s, err := OpenBoltStore(path, nil, nil)
	require.NoError(t, err)

	changes := 0
	require.NoError(t, s.Subscribe(KeyGPSEnabled, "gps", func(Key, bool) { changes++ }))
	require.NoError(t, s.SetBool(KeyGPSEnabled, false))
	require.NoError(t, s.SetBool(KeyGPSEnabled, false))
	assert.Equal(t, 1, changes)
	require.NoError(t, s.Close())

	reopened, err := OpenBoltStore(path, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Bool(KeyGPSEnabled)
	require.NoError(t, err)
	assert.False(t, v)

	v, err = reopened.Bool(KeyNetworkEnabled)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("agps_enabled")
	require.NoError(t, err)
	assert.Equal(t, KeyAGPSEnabled, k)

	_, err = ParseKey("wifi")
	assert.ErrorIs(t, err, pkg.ErrParameter)
}
