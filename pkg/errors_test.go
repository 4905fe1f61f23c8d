package pkg

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, "none", KindOf(nil))
	assert.Equal(t, "not_available", KindOf(fmt.Errorf("gps: %w", ErrNotAvailable)))
	assert.Equal(t, "parameter", KindOf(fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrParameter))))
	assert.Equal(t, "unknown", KindOf(errors.New("boom")))
	assert.False(t, IsKnown(errors.New("boom")))
	assert.True(t, IsKnown(ErrSettingOff))
}

func TestNewPositionValidatesRange(t *testing.T) {
	now := time.Now()

	p, err := NewPosition(now, 37.257, 127.055, 10, Status3D)
	assert.NoError(t, err)
	assert.True(t, p.HasFix())

	_, err = NewPosition(now, 91, 0, 0, Status3D)
	assert.ErrorIs(t, err, ErrParameter)

	_, err = NewPosition(now, 0, -181, 0, Status2D)
	assert.ErrorIs(t, err, ErrParameter)
}

func TestSatelliteCloneDoesNotAlias(t *testing.T) {
	s := Satellite{InUse: 1, InView: 2, Details: []SatelliteDetail{{PRN: 5, Used: true}}}
	c := s.Clone()
	c.Details[0].PRN = 9
	assert.Equal(t, 5, s.Details[0].PRN)
}
