package nmea

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

func sentence(body string) string {
	return "$" + body + "*" + Checksum(body)
}

const (
	rmc = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
	gga = "GPGGA,123520,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
	gsa = "GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"
)

func TestParseRMC(t *testing.T) {
	p := NewParser()
	upd, err := p.Feed(sentence(rmc))
	require.NoError(t, err)
	assert.True(t, upd.Position)
	assert.True(t, upd.Velocity)

	pos, _ := p.Position()
	assert.InDelta(t, 48.1173, pos.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, pos.Longitude, 1e-4)
	assert.Equal(t, time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC), pos.Timestamp)
	assert.True(t, pos.HasFix())
	assert.InDelta(t, 11.5235, p.Velocity().Speed, 1e-3)
	assert.Equal(t, 84.4, p.Velocity().Direction)
}

func TestParseRejectsBadChecksum(t *testing.T) {
	p := NewParser()
	_, err := p.Feed("$" + rmc + "*00")
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = p.Feed("garbage")
	assert.Error(t, err)
	assert.False(t, p.HasFix())
}

func TestParseGGAWithGSA(t *testing.T) {
	p := NewParser()
	_, err := p.Feed(sentence(rmc))
	require.NoError(t, err)
	_, err = p.Feed(sentence(gsa))
	require.NoError(t, err)
	upd, err := p.Feed(sentence(gga))
	require.NoError(t, err)
	assert.True(t, upd.Position)

	pos, acc := p.Position()
	assert.Equal(t, pkg.Status3D, pos.Status)
	assert.Equal(t, 545.4, pos.Altitude)
	assert.InDelta(t, 4.5, acc.Horizontal, 1e-9)
	assert.InDelta(t, 10.5, acc.Vertical, 1e-9)
	assert.InDelta(t, 545.4, p.Velocity().Climb, 1e-9)
}

func TestParseFixLoss(t *testing.T) {
	p := NewParser()
	_, _ = p.Feed(sentence(rmc))
	upd, err := p.Feed(sentence("GPRMC,123521,V,,,,,,,230394,,"))
	require.NoError(t, err)
	assert.True(t, upd.Position)
	assert.False(t, p.HasFix())
}

func TestParseGSVSequence(t *testing.T) {
	p := NewParser()
	_, _ = p.Feed(sentence(gsa))

	upd, err := p.Feed(sentence("GPGSV,2,1,05,04,15,270,40,05,40,083,46,09,12,110,,12,60,300,38"))
	require.NoError(t, err)
	assert.False(t, upd.Satellite)

	upd, err = p.Feed(sentence("GPGSV,2,2,05,30,05,020,"))
	require.NoError(t, err)
	assert.True(t, upd.Satellite)

	sat := p.Satellite()
	assert.Equal(t, 5, sat.InView)
	assert.Equal(t, 5, sat.InUse)
	require.Len(t, sat.Details, 5)
	assert.Equal(t, 4, sat.Details[0].PRN)
	assert.True(t, sat.Details[0].Used)
	assert.Equal(t, 46.0, sat.Details[1].SNR)
	assert.False(t, sat.Details[4].Used)
}

func TestParseVTG(t *testing.T) {
	p := NewParser()
	upd, err := p.Feed(sentence("GPVTG,054.7,T,034.4,M,005.5,N,010.2,K"))
	require.NoError(t, err)
	assert.True(t, upd.Velocity)
	assert.InDelta(t, 5.5*knotsToMPS, p.Velocity().Speed, 1e-9)
	assert.Equal(t, 54.7, p.Velocity().Direction)
}

type capture struct {
	status chan bool
	pos    chan pkg.Position
}

func newCapture() (*capture, provider.Callbacks) {
	c := &capture{status: make(chan bool, 8), pos: make(chan pkg.Position, 8)}
	return c, provider.Callbacks{
		Status:   func(enabled bool, _ pkg.Status) { c.status <- enabled },
		Position: func(p pkg.Position, _ pkg.Accuracy) { c.pos <- p },
	}
}

func TestReceiverStreamsFixes(t *testing.T) {
	pr, pw := io.Pipe()
	var opened string
	open := func(device string, baud int) (io.ReadCloser, error) {
		opened = fmt.Sprintf("%s@%d", device, baud)
		return pr, nil
	}
	r := NewReceiver(Config{Device: "/dev/ttyUSB1"}, open, nil)

	c, cb := newCapture()
	require.NoError(t, r.Start(cb))
	assert.Equal(t, "/dev/ttyUSB1@9600", opened)

	_, err := io.WriteString(pw, "noise\r\n"+sentence(rmc)+"\r\n")
	require.NoError(t, err)

	select {
	case on := <-c.status:
		assert.True(t, on)
	case <-time.After(time.Second):
		t.Fatal("no status callback")
	}
	select {
	case p := <-c.pos:
		assert.InDelta(t, 48.1173, p.Latitude, 1e-4)
	case <-time.After(time.Second):
		t.Fatal("no position callback")
	}

	_, err = io.WriteString(pw, sentence("GPRMC,123521,V,,,,,,,230394,,")+"\r\n")
	require.NoError(t, err)
	select {
	case on := <-c.status:
		assert.False(t, on)
	case <-time.After(time.Second):
		t.Fatal("no fix loss callback")
	}

	out, err := r.NMEA()
	require.NoError(t, err)
	assert.Contains(t, out, "GPRMC,123519")

	_, _, err = r.Position()
	assert.ErrorIs(t, err, pkg.ErrNotAvailable)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}

func TestReceiverDeviceName(t *testing.T) {
	r := NewReceiver(Config{}, func(string, int) (io.ReadCloser, error) { return nil, io.ErrUnexpectedEOF }, nil)

	assert.ErrorIs(t, r.Start(provider.Callbacks{}), pkg.ErrConfiguration)
	assert.ErrorIs(t, r.SetDeviceName(""), pkg.ErrParameter)
	require.NoError(t, r.SetDeviceName("/dev/ttyACM0"))
	name, err := r.DeviceName()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", name)

	assert.ErrorIs(t, r.Start(provider.Callbacks{}), pkg.ErrNotAvailable)
	require.NoError(t, r.SetAGPS(true))
}

func TestModuleServesGPSOps(t *testing.T) {
	reg := provider.NewRegistry()
	reg.RegisterKind(provider.KindGPS, Module(Config{Device: "/dev/null"}, nil))
	loader := provider.NewLoader(nil, reg)

	h, err := loader.Load(provider.KindGPS)
	require.NoError(t, err)
	_, ok := h.GPS()
	assert.True(t, ok)
	h.Unload()
}
