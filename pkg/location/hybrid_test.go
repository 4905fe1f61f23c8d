package location

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

func newHybridFixture(t *testing.T) (*fixture, *Hybrid, *recorder) {
	t.Helper()
	f := newFixture(provider.KindGPS, provider.KindWPS, provider.KindSPS)
	h := NewHybrid(f.deps)
	rec := &recorder{}
	h.Subscribe(rec.listen)
	require.NoError(t, h.Start())
	return f, h, rec
}

func TestHybridConstructsSupportedSourcesOnly(t *testing.T) {
	f := newFixture(provider.KindGPS, provider.KindWPS)
	h := NewHybrid(f.deps)

	assert.Equal(t, []Method{MethodGPS, MethodWPS}, h.Sources())
	assert.Nil(t, h.SPS())
	assert.Equal(t, MethodHybrid, h.Method())
}

func TestHybridPriority(t *testing.T) {
	f, h, _ := newHybridFixture(t)

	f.wps.EmitStatus(true, pkg.Status2D)
	assert.Equal(t, MethodWPS, h.Method())

	f.gps.EmitStatus(true, pkg.Status3D)
	assert.Equal(t, MethodGPS, h.Method())

	f.sps.EmitStatus(true, pkg.Status3D)
	assert.Equal(t, MethodSPS, h.Method())

	// SPS wins regardless of the others
	f.wps.EmitStatus(false, pkg.StatusNoFix)
	assert.Equal(t, MethodSPS, h.Method())

	f.sps.EmitStatus(false, pkg.StatusNoFix)
	assert.Equal(t, MethodGPS, h.Method())

	f.gps.EmitStatus(false, pkg.StatusNoFix)
	assert.Equal(t, MethodHybrid, h.Method())
}

func TestHybridEnabledIsEdgeTriggeredOr(t *testing.T) {
	f, _, rec := newHybridFixture(t)

	f.gps.EmitStatus(true, pkg.Status3D)
	f.wps.EmitStatus(true, pkg.Status2D)
	assert.Equal(t, 1, rec.count(EventEnabled))

	f.gps.EmitStatus(false, pkg.StatusNoFix)
	assert.Equal(t, 0, rec.count(EventDisabled))

	f.wps.EmitStatus(false, pkg.StatusNoFix)
	assert.Equal(t, 1, rec.count(EventDisabled))

	f.wps.EmitStatus(true, pkg.Status2D)
	assert.Equal(t, 2, rec.count(EventEnabled))
}

func TestHybridForwardsOnlyAuthoritativeUpdates(t *testing.T) {
	f, h, rec := newHybridFixture(t)

	f.gps.EmitStatus(true, pkg.Status3D)
	f.wps.EmitStatus(true, pkg.Status2D)

	f.wps.EmitPosition(fix(1, 1, f.now), pkg.Accuracy{})
	assert.Equal(t, 0, rec.count(EventUpdated))

	f.gps.EmitPosition(fix(2, 2, f.now), pkg.Accuracy{Horizontal: 4})
	require.Equal(t, 1, rec.count(EventUpdated))
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, MethodGPS, last.Method)
	assert.Equal(t, 2.0, last.Position.Latitude)

	pos, acc, ok := h.LastPosition()
	require.True(t, ok)
	assert.Equal(t, 2.0, pos.Latitude)
	assert.Equal(t, 4.0, acc.Horizontal)
}

func TestHybridCrossFeedsGPSIntoSPS(t *testing.T) {
	f, h, _ := newHybridFixture(t)

	f.sps.EmitStatus(true, pkg.Status3D)
	assert.Equal(t, MethodSPS, h.Method())

	// GPS is not authoritative, SPS still receives its samples
	f.gps.EmitVelocity(pkg.Velocity{Speed: 7}, pkg.Accuracy{})
	f.gps.EmitPosition(fix(3, 4, f.now), pkg.Accuracy{Horizontal: 2})
	f.gps.EmitSatellite(pkg.Satellite{InUse: 8, InView: 11})

	require.Len(t, f.sps.Updates, 2)
	assert.Equal(t, 3.0, f.sps.Updates[0].Pos.Latitude)
	assert.Equal(t, 7.0, f.sps.Updates[0].Vel.Speed)
	assert.Equal(t, 8, f.sps.Updates[1].Sat.InUse)
	assert.Equal(t, 3.0, f.sps.Updates[1].Pos.Latitude)
}

func TestHybridDelegatesQueries(t *testing.T) {
	f, h, _ := newHybridFixture(t)

	_, _, err := h.Position()
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)

	f.wps.Pos = fix(9, 9, f.now)
	f.gps.Pos = fix(8, 8, f.now)
	f.wps.EmitStatus(true, pkg.Status2D)

	pos, _, err := h.Position()
	require.NoError(t, err)
	assert.Equal(t, 9.0, pos.Latitude)

	f.gps.EmitStatus(true, pkg.Status3D)
	pos, _, err = h.Position()
	require.NoError(t, err)
	assert.Equal(t, 8.0, pos.Latitude)
}

func TestHybridStartPartialFailure(t *testing.T) {
	f := newFixture(provider.KindGPS, provider.KindWPS, provider.KindSPS)
	f.gps.StartErr = assert.AnError
	f.sps.StartErr = assert.AnError
	h := NewHybrid(f.deps)

	require.NoError(t, h.Start())
	assert.True(t, h.Started())
	assert.True(t, f.wps.Running())
}

func TestHybridStartAllFail(t *testing.T) {
	f := newFixture(provider.KindGPS, provider.KindWPS)
	f.gps.StartErr = assert.AnError
	f.wps.StartErr = assert.AnError
	h := NewHybrid(f.deps)

	assert.ErrorIs(t, h.Start(), pkg.ErrNotAvailable)
	assert.False(t, h.Started())

	empty := NewHybrid(newFixture().deps)
	assert.ErrorIs(t, empty.Start(), pkg.ErrNotAvailable)
}

func TestHybridStopNeverStarted(t *testing.T) {
	f := newFixture(provider.KindGPS, provider.KindWPS)
	h := NewHybrid(f.deps)
	var rec recorder
	h.Subscribe(rec.listen)

	assert.NoError(t, h.Stop())
	assert.Equal(t, 0, rec.count(EventDisabled))
	assert.Equal(t, 0, f.gps.Stops)
}

func TestHybridStopEmitsDisabledOnce(t *testing.T) {
	f, h, rec := newHybridFixture(t)
	f.gps.EmitStatus(true, pkg.Status3D)
	f.sps.EmitStatus(true, pkg.Status3D)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	assert.False(t, h.Started())
	assert.Equal(t, 1, rec.count(EventDisabled))
	assert.Equal(t, MethodHybrid, h.Method())
	assert.Equal(t, 1, f.gps.Stops)
}

func TestHybridSettingOffFallsBack(t *testing.T) {
	f, h, _ := newHybridFixture(t)
	f.gps.EmitStatus(true, pkg.Status3D)
	f.sps.EmitStatus(true, pkg.Status3D)
	f.wps.EmitStatus(true, pkg.Status2D)
	assert.Equal(t, MethodSPS, h.Method())

	require.NoError(t, f.store.SetBool(settings.KeySensorEnabled, false))
	assert.Equal(t, MethodGPS, h.Method())
	assert.False(t, f.sps.Running())

	f.advance(time.Second)
	require.NoError(t, f.store.SetBool(settings.KeySensorEnabled, true))
	assert.True(t, f.sps.Running())
	// authority returns once the backend reports a fix again
	assert.Equal(t, MethodGPS, h.Method())
	f.sps.EmitStatus(true, pkg.Status3D)
	assert.Equal(t, MethodSPS, h.Method())
}
