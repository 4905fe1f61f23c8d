// Package nmea is a GPS backend reading NMEA 0183 sentences from a serial
// receiver (u-blox, Quectel and other standard talkers).
package nmea

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/locationd/pkg"
)

const knotsToMPS = 0.514444

// ErrChecksum marks a sentence whose XOR checksum does not match
var ErrChecksum = errors.New("nmea checksum mismatch")

// Update flags what a sentence changed
type Update struct {
	Position  bool
	Velocity  bool
	Satellite bool
}

// Parser folds sentences into the current receiver state. It is not safe for
// concurrent use.
type Parser struct {
	date time.Time
	pos  pkg.Position
	vel  pkg.Velocity
	acc  pkg.Accuracy
	sat  pkg.Satellite

	fixQuality int
	fixMode    int
	hdop       float64
	vdop       float64
	used       map[int]bool

	gsvPending []pkg.SatelliteDetail
	gsvTotal   int
}

// NewParser creates an empty parser
func NewParser() *Parser {
	return &Parser{used: make(map[int]bool)}
}

// Position returns the last fix, accuracy estimated from the DOP values
func (p *Parser) Position() (pkg.Position, pkg.Accuracy) {
	return p.pos, p.acc
}

// Velocity returns the last motion sample
func (p *Parser) Velocity() pkg.Velocity {
	return p.vel
}

// Satellite returns a copy of the last complete constellation
func (p *Parser) Satellite() pkg.Satellite {
	return p.sat.Clone()
}

// HasFix reports whether the receiver currently reports a valid fix
func (p *Parser) HasFix() bool {
	return p.pos.HasFix()
}

// Feed parses one sentence. Unknown sentence types are ignored.
func (p *Parser) Feed(line string) (Update, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Update{}, fmt.Errorf("not a sentence: %q", line)
	}
	if !validChecksum(line) {
		return Update{}, ErrChecksum
	}
	parts := split(line)
	if len(parts[0]) < 5 {
		return Update{}, fmt.Errorf("short sentence id %q", parts[0])
	}

	switch parts[0][2:] {
	case "RMC":
		return p.parseRMC(parts), nil
	case "GGA":
		return p.parseGGA(parts), nil
	case "GSA":
		p.parseGSA(parts)
		return Update{}, nil
	case "GSV":
		return p.parseGSV(parts), nil
	case "VTG":
		return p.parseVTG(parts), nil
	}
	return Update{}, nil
}

// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
func (p *Parser) parseRMC(parts []string) Update {
	if len(parts) < 10 {
		return Update{}
	}
	if d, err := time.Parse("020106", parts[9]); err == nil {
		p.date = d
	}
	ts := p.timestamp(parts[1])

	if parts[2] != "A" {
		if p.pos.HasFix() {
			p.pos.Status = pkg.StatusNoFix
			p.pos.Timestamp = ts
			return Update{Position: true}
		}
		return Update{}
	}

	p.pos.Latitude = coord(parts[3], parts[4])
	p.pos.Longitude = coord(parts[5], parts[6])
	p.pos.Timestamp = ts
	p.pos.Status = p.status()

	p.vel.Timestamp = ts
	if spd, err := strconv.ParseFloat(parts[7], 64); err == nil {
		p.vel.Speed = spd * knotsToMPS
	}
	if hdg, err := strconv.ParseFloat(parts[8], 64); err == nil {
		p.vel.Direction = hdg
	}
	p.updateAccuracy()
	return Update{Position: true, Velocity: true}
}

// $GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
func (p *Parser) parseGGA(parts []string) Update {
	if len(parts) < 10 {
		return Update{}
	}
	if q, err := strconv.Atoi(parts[6]); err == nil {
		p.fixQuality = q
	}
	if n, err := strconv.Atoi(parts[7]); err == nil {
		p.sat.InUse = n
	}
	if h, err := strconv.ParseFloat(parts[8], 64); err == nil {
		p.hdop = h
	}
	if p.fixQuality == 0 {
		return Update{}
	}
	alt, err := strconv.ParseFloat(parts[9], 64)
	if err != nil {
		return Update{}
	}
	climbed := p.pos.Timestamp
	prevAlt := p.pos.Altitude

	p.pos.Latitude = coord(parts[2], parts[3])
	p.pos.Longitude = coord(parts[4], parts[5])
	p.pos.Altitude = alt
	p.pos.Timestamp = p.timestamp(parts[1])
	p.pos.Status = p.status()
	p.updateAccuracy()

	if dt := p.pos.Timestamp.Sub(climbed).Seconds(); !climbed.IsZero() && dt > 0 && dt < 10 {
		p.vel.Climb = (alt - prevAlt) / dt
	}
	return Update{Position: true}
}

// $GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39
func (p *Parser) parseGSA(parts []string) {
	if len(parts) < 18 {
		return
	}
	if m, err := strconv.Atoi(parts[2]); err == nil {
		p.fixMode = m
	}
	p.used = make(map[int]bool)
	for _, f := range parts[3:15] {
		if prn, err := strconv.Atoi(f); err == nil {
			p.used[prn] = true
		}
	}
	if v, err := strconv.ParseFloat(parts[17], 64); err == nil {
		p.vdop = v
	}
	if p.pos.HasFix() {
		p.pos.Status = p.status()
	}
}

// $GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74
func (p *Parser) parseGSV(parts []string) Update {
	if len(parts) < 4 {
		return Update{}
	}
	total, err1 := strconv.Atoi(parts[1])
	index, err2 := strconv.Atoi(parts[2])
	inView, err3 := strconv.Atoi(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return Update{}
	}
	if index == 1 {
		p.gsvPending = p.gsvPending[:0]
		p.gsvTotal = total
	}

	for i := 4; i+3 < len(parts); i += 4 {
		prn, err := strconv.Atoi(parts[i])
		if err != nil {
			continue
		}
		d := pkg.SatelliteDetail{PRN: prn, Used: p.used[prn]}
		d.Elevation, _ = strconv.Atoi(parts[i+1])
		d.Azimuth, _ = strconv.Atoi(parts[i+2])
		d.SNR, _ = strconv.ParseFloat(parts[i+3], 64)
		p.gsvPending = append(p.gsvPending, d)
	}

	if index != p.gsvTotal {
		return Update{}
	}
	p.sat.InView = inView
	p.sat.Details = append([]pkg.SatelliteDetail(nil), p.gsvPending...)
	p.sat.Timestamp = p.pos.Timestamp
	if len(p.used) > 0 {
		p.sat.InUse = len(p.used)
	}
	return Update{Satellite: true}
}

// $GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48
func (p *Parser) parseVTG(parts []string) Update {
	if len(parts) < 8 {
		return Update{}
	}
	hdg, err1 := strconv.ParseFloat(parts[1], 64)
	kn, err2 := strconv.ParseFloat(parts[5], 64)
	if err1 != nil || err2 != nil {
		return Update{}
	}
	p.vel.Direction = hdg
	p.vel.Speed = kn * knotsToMPS
	if !p.pos.Timestamp.IsZero() {
		p.vel.Timestamp = p.pos.Timestamp
	}
	return Update{Velocity: true}
}

func (p *Parser) status() pkg.Status {
	switch {
	case p.fixMode == 3:
		return pkg.Status3D
	case p.fixMode == 2:
		return pkg.Status2D
	case p.fixQuality > 0 && p.pos.Altitude != 0:
		return pkg.Status3D
	default:
		return pkg.Status2D
	}
}

// updateAccuracy estimates meters from DOP with a 5 m user range error
func (p *Parser) updateAccuracy() {
	p.acc.Level = pkg.AccuracyDetailed
	if p.hdop > 0 {
		p.acc.Horizontal = p.hdop * 5
	}
	if p.vdop > 0 {
		p.acc.Vertical = p.vdop * 5
	}
}

func (p *Parser) timestamp(hhmmss string) time.Time {
	if len(hhmmss) < 6 {
		return time.Time{}
	}
	h, err1 := strconv.Atoi(hhmmss[0:2])
	m, err2 := strconv.Atoi(hhmmss[2:4])
	sec, err3 := strconv.ParseFloat(hhmmss[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}
	}
	base := p.date
	if base.IsZero() {
		now := time.Now().UTC()
		base = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	whole := math.Floor(sec)
	return time.Date(base.Year(), base.Month(), base.Day(), h, m, int(whole), int((sec-whole)*1e9), time.UTC)
}

// split strips the leading $ and the checksum suffix
func split(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	return strings.Split(strings.TrimPrefix(line, "$"), ",")
}

// coord converts NMEA ddmm.mmmm to decimal degrees
func coord(raw, dir string) float64 {
	if raw == "" || dir == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	deg := math.Floor(val / 100)
	res := deg + (val-deg*100)/60
	if dir == "S" || dir == "W" {
		res = -res
	}
	return res
}

func validChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	var calc byte
	for i := 1; i < idx; i++ {
		calc ^= line[i]
	}
	want, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(want) == calc
}

// Checksum returns the two hex digits for the body of a sentence (without $
// and *). Used to build test and simulator output.
func Checksum(body string) string {
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	return fmt.Sprintf("%02X", calc)
}
