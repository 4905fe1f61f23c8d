package googlemaps

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"googlemaps.github.io/maps"
)

// Scanner lists the access points currently visible
type Scanner interface {
	Scan(ctx context.Context) ([]maps.WiFiAccessPoint, error)
}

// ScannerFunc adapts a function to Scanner
type ScannerFunc func(ctx context.Context) ([]maps.WiFiAccessPoint, error)

// Scan calls f
func (f ScannerFunc) Scan(ctx context.Context) ([]maps.WiFiAccessPoint, error) {
	return f(ctx)
}

// IWScanner runs `iw dev <iface> scan`
type IWScanner struct {
	Interface string
	MaxAPs    int
}

// Scan implements Scanner
func (s IWScanner) Scan(ctx context.Context) ([]maps.WiFiAccessPoint, error) {
	out, err := exec.CommandContext(ctx, "iw", "dev", s.Interface, "scan").Output()
	if err != nil {
		return nil, fmt.Errorf("iw scan on %s: %w", s.Interface, err)
	}
	aps := ParseIWScan(string(out))
	if s.MaxAPs > 0 && len(aps) > s.MaxAPs {
		aps = aps[:s.MaxAPs]
	}
	return aps, nil
}

// ParseIWScan extracts access points from `iw scan` output, strongest first.
// Entries without a valid BSSID are skipped.
func ParseIWScan(output string) []maps.WiFiAccessPoint {
	var aps []maps.WiFiAccessPoint
	var cur *maps.WiFiAccessPoint

	flush := func() {
		if cur != nil && cur.MACAddress != "" {
			aps = append(aps, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "BSS "):
			flush()
			cur = &maps.WiFiAccessPoint{}
			// "BSS aa:bb:cc:dd:ee:ff(on wlan0) -- associated"
			field := strings.Fields(line)[1]
			if i := strings.Index(field, "("); i >= 0 {
				field = field[:i]
			}
			if len(field) == 17 && strings.Count(field, ":") == 5 {
				cur.MACAddress = strings.ToLower(field)
			}
		case cur == nil:
		case strings.HasPrefix(line, "signal:"):
			f := strings.Fields(strings.TrimPrefix(line, "signal:"))
			if len(f) > 0 {
				if v, err := strconv.ParseFloat(f[0], 64); err == nil {
					cur.SignalStrength = v
				}
			}
		case strings.HasPrefix(line, "freq:"):
			f := strings.Fields(strings.TrimPrefix(line, "freq:"))
			if len(f) > 0 {
				if mhz, err := strconv.ParseFloat(f[0], 64); err == nil {
					cur.Channel = channelOf(int(mhz))
				}
			}
		case strings.HasPrefix(line, "DS Parameter set: channel"):
			f := strings.Fields(line)
			if ch, err := strconv.Atoi(f[len(f)-1]); err == nil {
				cur.Channel = ch
			}
		case strings.HasPrefix(line, "last seen:"):
			f := strings.Fields(strings.TrimPrefix(line, "last seen:"))
			if len(f) > 0 {
				if ms, err := strconv.ParseUint(f[0], 10, 64); err == nil {
					cur.Age = ms
				}
			}
		}
	}
	flush()

	sort.SliceStable(aps, func(i, j int) bool { return aps[i].SignalStrength > aps[j].SignalStrength })
	return aps
}

// channelOf maps a center frequency in MHz to its 802.11 channel number
func channelOf(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz <= 2472:
		return (mhz - 2407) / 5
	case mhz >= 5000 && mhz <= 5900:
		return (mhz - 5000) / 5
	case mhz >= 5955 && mhz <= 7115:
		return (mhz - 5950) / 5
	}
	return 0
}
