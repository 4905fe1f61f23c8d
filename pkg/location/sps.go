package location

import (
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

// compensation is the last set of fusion inputs handed to SPS
type compensation struct {
	pos pkg.Position
	vel pkg.Velocity
	acc pkg.Accuracy
	sat pkg.Satellite
	set bool
}

// SPS is the sensor-fusion provider. It keeps the last compensation inputs
// so a backend restarted by the settings watcher resumes warm.
type SPS struct {
	*session
	sps  provider.SPSOps
	comp compensation
}

// NewSPS loads the sps backend
func NewSPS(deps Deps) *SPS {
	s := newSession(MethodSPS, provider.KindSPS, deps)
	p := &SPS{session: s}
	if s.handle != nil {
		p.sps, _ = s.handle.SPS()
	}
	s.onResume = p.repush
	return p
}

// UpdateData feeds satellite-derived compensation into the fusion backend.
// Inputs are cached even while the backend is paused.
func (p *SPS) UpdateData(pos pkg.Position, vel pkg.Velocity, acc pkg.Accuracy, sat pkg.Satellite) error {
	if err := p.checkAvailable(); err != nil {
		return err
	}
	if p.sps == nil {
		return fmt.Errorf("sps: %w", pkg.ErrNotAvailable)
	}
	p.comp = compensation{pos: pos, vel: vel, acc: acc, sat: sat.Clone(), set: true}
	if !p.running {
		return nil
	}
	return wrapBackendError(p.method, "update data", p.sps.UpdateData(pos, vel, acc, sat))
}

// HasCompensation reports whether inputs were ever received
func (p *SPS) HasCompensation() bool {
	return p.comp.set
}

func (p *SPS) repush() {
	if !p.comp.set || p.sps == nil {
		return
	}
	if err := p.sps.UpdateData(p.comp.pos, p.comp.vel, p.comp.acc, p.comp.sat); err != nil {
		p.logger.Warn("sps_compensation_repush_failed", "error", err)
		return
	}
	p.logger.Debug("sps_compensation_repushed", "latitude", p.comp.pos.Latitude, "longitude", p.comp.pos.Longitude)
}
