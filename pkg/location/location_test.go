package location

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/eventloop"
	"github.com/markus-lassfolk/locationd/pkg/provider"
	"github.com/markus-lassfolk/locationd/pkg/provider/providertest"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

type fixture struct {
	gps   *providertest.Session
	wps   *providertest.Session
	sps   *providertest.Session
	cps   *providertest.Oneshot
	store *settings.MemoryStore
	now   time.Time
	deps  Deps
}

func newFixture(kinds ...provider.Kind) *fixture {
	f := &fixture{
		gps:   &providertest.Session{Device: "/dev/ttyUSB0"},
		wps:   &providertest.Session{},
		sps:   &providertest.Session{},
		cps:   &providertest.Oneshot{Pos: fix(1, 1, time.Unix(0, 0))},
		store: settings.NewMemoryStore(nil),
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	mods := map[provider.Kind]*providertest.Module{}
	for _, k := range kinds {
		switch k {
		case provider.KindGPS:
			mods[k] = &providertest.Module{Ops: f.gps}
		case provider.KindWPS:
			mods[k] = &providertest.Module{Ops: f.wps}
		case provider.KindSPS:
			mods[k] = &providertest.Module{Ops: f.sps}
		case provider.KindCPS, provider.KindIPS:
			mods[k] = &providertest.Module{Ops: f.cps}
		}
	}
	f.deps = Deps{
		Loader:     provider.NewLoader(nil, providertest.Registry(mods)),
		Settings:   f.store,
		Dispatcher: eventloop.Immediate{},
		Clock:      func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func fix(lat, lon float64, ts time.Time) pkg.Position {
	return pkg.Position{Timestamp: ts, Latitude: lat, Longitude: lon, Status: pkg.Status3D}
}

type recorder struct {
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) count(typ EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestFailedLoadIsNotAvailableForever(t *testing.T) {
	f := newFixture()
	g := NewGPS(f.deps)

	assert.ErrorIs(t, g.Start(), pkg.ErrNotAvailable)
	_, _, err := g.Position()
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)
	_, _, err = g.Velocity()
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)
	assert.ErrorIs(t, g.Stop(), pkg.ErrNotAvailable)

	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, false))
	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, true))
	assert.ErrorIs(t, g.Start(), pkg.ErrNotAvailable)
	_, err = g.NMEA()
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)

	c := NewCPS(f.deps)
	_, _, err = c.Position()
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(provider.KindGPS)
	g := NewGPS(f.deps)

	require.NoError(t, g.Start())
	require.NoError(t, g.Start())
	assert.Equal(t, 1, f.gps.Starts)
	assert.True(t, g.Started())
}

func TestStartWhilePausedIsNoop(t *testing.T) {
	f := newFixture(provider.KindGPS)
	g := NewGPS(f.deps)
	require.NoError(t, g.Start())
	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, false))

	assert.NoError(t, g.Start())
	assert.Equal(t, 1, f.gps.Starts)
	assert.True(t, g.Started())
}

func TestStatusReportedInsideStart(t *testing.T) {
	f := newFixture(provider.KindGPS)
	f.gps.OnStart = func(cb provider.Callbacks) {
		cb.Status(true, pkg.Status3D)
	}
	g := NewGPS(f.deps)
	var rec recorder
	g.Subscribe(rec.listen)

	require.NoError(t, g.Start())
	assert.True(t, g.Enabled())
	assert.Equal(t, 1, rec.count(EventEnabled))
}

func TestStartFailureAfterStatusRollsBack(t *testing.T) {
	f := newFixture(provider.KindWPS)
	w := NewWPS(f.deps)
	var rec recorder
	w.Subscribe(rec.listen)

	// first session reports enabled, then the second start fails
	f.wps.OnStart = func(cb provider.Callbacks) {
		cb.Status(true, pkg.Status2D)
	}
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())

	f.wps.StartErr = assert.AnError
	assert.Error(t, w.Start())
	assert.False(t, w.Started())
	assert.False(t, w.Enabled())

	// callbacks of the failed session are not delivered
	f.wps.EmitStatus(true, pkg.Status2D)
	assert.False(t, w.Enabled())
	assert.Equal(t, 1, rec.count(EventEnabled))
}

func TestSettingOffIsNotAllowed(t *testing.T) {
	f := newFixture(provider.KindWPS)
	require.NoError(t, f.store.SetBool(settings.KeyNetworkEnabled, false))
	w := NewWPS(f.deps)

	assert.ErrorIs(t, w.Start(), pkg.ErrNotAllowed)
	_, _, err := w.Position()
	assert.ErrorIs(t, err, pkg.ErrNotAllowed)
	assert.Equal(t, 0, f.wps.Starts)
}

func TestStopNeverStartedIsNoop(t *testing.T) {
	f := newFixture(provider.KindGPS)
	g := NewGPS(f.deps)
	var rec recorder
	g.Subscribe(rec.listen)

	assert.NoError(t, g.Stop())
	assert.Equal(t, 0, f.gps.Stops)
	assert.Empty(t, rec.events)
}

func TestBackendErrorsAreClassified(t *testing.T) {
	f := newFixture(provider.KindGPS)
	f.gps.StartErr = assert.AnError
	g := NewGPS(f.deps)

	err := g.Start()
	assert.ErrorIs(t, err, pkg.ErrUnknown)
	assert.False(t, g.Started())

	f.gps.StartErr = pkg.ErrConfiguration
	assert.ErrorIs(t, g.Start(), pkg.ErrConfiguration)
}

func TestSessionEventsAndEnableEdges(t *testing.T) {
	f := newFixture(provider.KindGPS)
	g := NewGPS(f.deps)
	var rec recorder
	g.Subscribe(rec.listen)
	require.NoError(t, g.Start())

	f.gps.EmitStatus(true, pkg.Status3D)
	f.gps.EmitStatus(true, pkg.Status3D)
	f.gps.EmitPosition(fix(10, 20, f.now), pkg.Accuracy{Level: pkg.AccuracyDetailed, Horizontal: 5})
	f.gps.EmitVelocity(pkg.Velocity{Speed: 3}, pkg.Accuracy{})
	f.gps.EmitSatellite(pkg.Satellite{InUse: 6, InView: 9})

	require.Len(t, rec.events, 4)
	assert.Equal(t, EventEnabled, rec.events[0].Type)
	assert.Equal(t, DataPosition, rec.events[1].Kind)
	assert.Equal(t, 10.0, rec.events[1].Position.Latitude)
	assert.Equal(t, DataVelocity, rec.events[2].Kind)
	assert.Equal(t, DataSatellite, rec.events[3].Kind)

	require.NoError(t, g.Stop())
	assert.Equal(t, EventDisabled, rec.events[len(rec.events)-1].Type)
}

func TestFirstFixImpliesEnabled(t *testing.T) {
	f := newFixture(provider.KindGPS)
	g := NewGPS(f.deps)
	var rec recorder
	g.Subscribe(rec.listen)
	require.NoError(t, g.Start())

	f.gps.EmitPosition(pkg.Position{Status: pkg.StatusNoFix}, pkg.Accuracy{})
	assert.False(t, g.Enabled())

	f.gps.EmitPosition(fix(1, 2, f.now), pkg.Accuracy{})
	assert.True(t, g.Enabled())
	assert.Equal(t, 1, rec.count(EventEnabled))
}

func TestQueuedEventsDiscardedAfterStop(t *testing.T) {
	f := newFixture(provider.KindGPS)
	var q eventloop.Queue
	f.deps.Dispatcher = &q
	g := NewGPS(f.deps)
	var rec recorder
	g.Subscribe(rec.listen)
	require.NoError(t, g.Start())

	f.gps.EmitPosition(fix(1, 2, f.now), pkg.Accuracy{})
	assert.Equal(t, 1, q.Len())
	require.NoError(t, g.Stop())
	q.Drain()

	assert.Equal(t, 0, rec.count(EventUpdated))
}

func TestSettingsWatcherPausesAndResumes(t *testing.T) {
	f := newFixture(provider.KindGPS)
	g := NewGPS(f.deps)
	var rec recorder
	g.Subscribe(rec.listen)

	require.NoError(t, g.Start())
	assert.Equal(t, 1, f.store.Subscribers(settings.KeyGPSEnabled))
	f.gps.EmitStatus(true, pkg.Status3D)

	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, false))
	assert.Equal(t, 1, f.gps.Stops)
	assert.False(t, f.gps.Running())
	assert.True(t, g.Started())
	assert.Equal(t, 1, rec.count(EventDisabled))

	// samples from the paused session are dropped
	f.gps.EmitPosition(fix(1, 1, f.now), pkg.Accuracy{})
	assert.Equal(t, 0, rec.count(EventUpdated))

	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, true))
	assert.Equal(t, 2, f.gps.Starts)
	assert.True(t, f.gps.Running())

	require.NoError(t, g.Stop())
	assert.Equal(t, 0, f.store.Subscribers(settings.KeyGPSEnabled))
	assert.Equal(t, 0, f.store.Subscribers(settings.KeyAGPSEnabled))

	// no longer watched
	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, false))
	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, true))
	assert.Equal(t, 2, f.gps.Starts)
}

func TestResumeWaitsForEveryRequiredSetting(t *testing.T) {
	f := newFixture(provider.KindSPS)
	s := NewSPS(f.deps)
	require.NoError(t, s.Start())

	require.NoError(t, f.store.SetBool(settings.KeySensorEnabled, false))
	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, false))
	require.NoError(t, f.store.SetBool(settings.KeySensorEnabled, true))
	assert.Equal(t, 1, f.sps.Starts)

	require.NoError(t, f.store.SetBool(settings.KeyGPSEnabled, true))
	assert.Equal(t, 2, f.sps.Starts)
}

func TestSPSRepushesCompensationOnResume(t *testing.T) {
	f := newFixture(provider.KindSPS)
	s := NewSPS(f.deps)
	require.NoError(t, s.Start())

	pos := fix(5, 6, f.now)
	require.NoError(t, s.UpdateData(pos, pkg.Velocity{Speed: 2}, pkg.Accuracy{Horizontal: 3}, pkg.Satellite{InUse: 4}))
	require.Len(t, f.sps.Updates, 1)

	require.NoError(t, f.store.SetBool(settings.KeySensorEnabled, false))
	// cached but not forwarded while paused
	require.NoError(t, s.UpdateData(fix(7, 8, f.now), pkg.Velocity{}, pkg.Accuracy{}, pkg.Satellite{}))
	require.Len(t, f.sps.Updates, 1)

	require.NoError(t, f.store.SetBool(settings.KeySensorEnabled, true))
	require.Len(t, f.sps.Updates, 2)
	assert.Equal(t, 7.0, f.sps.Updates[1].Pos.Latitude)
	assert.True(t, s.HasCompensation())
}

func TestGPSAGPSHint(t *testing.T) {
	f := newFixture(provider.KindGPS)
	require.NoError(t, f.store.SetBool(settings.KeyAGPSEnabled, true))
	g := NewGPS(f.deps)

	require.NoError(t, g.Start())
	require.NotNil(t, f.gps.AGPS)
	assert.True(t, *f.gps.AGPS)

	require.NoError(t, f.store.SetBool(settings.KeyAGPSEnabled, false))
	assert.False(t, *f.gps.AGPS)
	// the hint never pauses the session
	assert.True(t, f.gps.Running())
}

func TestGPSDeviceName(t *testing.T) {
	f := newFixture(provider.KindGPS)
	g := NewGPS(f.deps)

	name, err := g.DeviceName()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", name)

	assert.ErrorIs(t, g.SetDeviceName(""), pkg.ErrParameter)
	require.NoError(t, g.SetDeviceName("/dev/ttyACM0"))
	name, _ = g.DeviceName()
	assert.Equal(t, "/dev/ttyACM0", name)
}

func TestOneshotProviders(t *testing.T) {
	f := newFixture(provider.KindCPS, provider.KindIPS)
	c := NewCPS(f.deps)

	assert.ErrorIs(t, c.Start(), pkg.ErrNotSupported)
	assert.ErrorIs(t, c.Stop(), pkg.ErrNotSupported)
	_, _, err := c.Velocity()
	assert.ErrorIs(t, err, pkg.ErrNotSupported)

	pos, _, err := c.Position()
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Latitude)

	require.NoError(t, f.store.SetBool(settings.KeyNetworkEnabled, false))
	ips := NewIPS(f.deps)
	_, _, err = ips.Position()
	assert.ErrorIs(t, err, pkg.ErrNotAllowed)
}

func TestClampInterval(t *testing.T) {
	assert.Equal(t, MinUpdateInterval, ClampInterval(0))
	assert.Equal(t, MinUpdateInterval, ClampInterval(-3))
	assert.Equal(t, MaxUpdateInterval, ClampInterval(500))
	assert.Equal(t, 60*time.Second, ClampInterval(60))
	assert.Equal(t, 120*time.Second, ClampInterval(120))
}

func TestUpdateGatePerKind(t *testing.T) {
	g := NewUpdateGate(5 * time.Second)
	t0 := time.Unix(1000, 0)

	assert.True(t, g.Allow(DataPosition, t0))
	assert.False(t, g.Allow(DataPosition, t0.Add(4*time.Second)))
	// an independent kind is not starved
	assert.True(t, g.Allow(DataSatellite, t0.Add(4*time.Second)))
	assert.True(t, g.Allow(DataPosition, t0.Add(5*time.Second)))

	g.Reset()
	assert.True(t, g.Allow(DataPosition, t0.Add(6*time.Second)))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Hybrid")
	require.NoError(t, err)
	assert.Equal(t, MethodHybrid, m)

	_, err = ParseMethod("none")
	assert.ErrorIs(t, err, pkg.ErrParameter)
}

func TestIsSupported(t *testing.T) {
	f := newFixture(provider.KindWPS)
	assert.True(t, IsSupported(f.deps.Loader, MethodHybrid))
	assert.True(t, IsSupported(f.deps.Loader, MethodWPS))
	assert.False(t, IsSupported(f.deps.Loader, MethodGPS))
	assert.False(t, IsSupported(nil, MethodGPS))

	empty := newFixture()
	assert.False(t, IsSupported(empty.deps.Loader, MethodHybrid))
}

func TestNilDispatcherRunsCallbacksInline(t *testing.T) {
	f := newFixture(provider.KindGPS)
	f.deps.Dispatcher = nil
	assert.IsType(t, eventloop.Immediate{}, f.deps.withDefaults().Dispatcher)

	g := NewGPS(f.deps)
	require.NoError(t, g.Start())
	f.gps.EmitStatus(true, pkg.Status3D)
	assert.True(t, g.Enabled())
}
