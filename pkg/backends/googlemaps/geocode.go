package googlemaps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

type geocoder interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

type placeSearcher interface {
	NearbySearch(ctx context.Context, r *maps.NearbySearchRequest) (maps.PlacesSearchResponse, error)
}

// Geocoder implements provider.GeocodeOps and provider.POIOps
type Geocoder struct {
	cfg    Config
	geo    geocoder
	places placeSearcher
	clock  func() time.Time
	logger *logx.Logger
}

// NewGeocoder creates a geocode and POI backend
func NewGeocoder(cfg Config, logger *logx.Logger) (*Geocoder, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logx.Discard()
	}
	return &Geocoder{cfg: cfg, geo: client, places: client, clock: time.Now, logger: logger}, nil
}

// Geocode implements provider.GeocodeOps
func (g *Geocoder) Geocode(ctx context.Context, addr pkg.Address) ([]pkg.Position, []pkg.Accuracy, error) {
	req := &maps.GeocodingRequest{
		Address:    streetLine(addr),
		Components: components(addr),
		Region:     g.cfg.Region,
		Language:   g.cfg.Language,
	}
	res, err := g.geo.Geocode(ctx, req)
	if err != nil {
		return nil, nil, classify("geocode", err)
	}
	return g.positions(res)
}

// GeocodeFreeText implements provider.GeocodeOps
func (g *Geocoder) GeocodeFreeText(ctx context.Context, text string) ([]pkg.Position, []pkg.Accuracy, error) {
	res, err := g.geo.Geocode(ctx, &maps.GeocodingRequest{Address: text, Region: g.cfg.Region, Language: g.cfg.Language})
	if err != nil {
		return nil, nil, classify("geocode", err)
	}
	return g.positions(res)
}

// ReverseGeocode implements provider.GeocodeOps
func (g *Geocoder) ReverseGeocode(ctx context.Context, pos pkg.Position) (pkg.Address, pkg.Accuracy, error) {
	res, err := g.geo.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: pos.Latitude, Lng: pos.Longitude},
		Language: g.cfg.Language,
	})
	if err != nil {
		return pkg.Address{}, pkg.Accuracy{}, classify("reverse geocode", err)
	}
	if len(res) == 0 {
		return pkg.Address{}, pkg.Accuracy{}, fmt.Errorf("no address at %.6f,%.6f: %w", pos.Latitude, pos.Longitude, pkg.ErrNotFound)
	}
	return addressOf(res[0].AddressComponents), accuracyOf(res[0]), nil
}

func (g *Geocoder) positions(res []maps.GeocodingResult) ([]pkg.Position, []pkg.Accuracy, error) {
	if len(res) == 0 {
		return nil, nil, fmt.Errorf("no geocode results: %w", pkg.ErrNotFound)
	}
	now := g.clock()
	pos := make([]pkg.Position, 0, len(res))
	acc := make([]pkg.Accuracy, 0, len(res))
	for _, r := range res {
		pos = append(pos, pkg.Position{
			Timestamp: now,
			Latitude:  r.Geometry.Location.Lat,
			Longitude: r.Geometry.Location.Lng,
			Status:    pkg.Status2D,
		})
		acc = append(acc, accuracyOf(r))
	}
	return pos, acc, nil
}

// POI implements provider.POIOps
func (g *Geocoder) POI(ctx context.Context, around pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error) {
	return g.nearby(ctx, around, radius, keyword)
}

// POIFromPosition implements provider.POIOps
func (g *Geocoder) POIFromPosition(ctx context.Context, pos pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error) {
	return g.nearby(ctx, pos, radius, keyword)
}

// POIFromAddress geocodes addr and searches around its best match
func (g *Geocoder) POIFromAddress(ctx context.Context, addr pkg.Address, radius uint, keyword string) ([]pkg.Landmark, error) {
	pos, _, err := g.Geocode(ctx, addr)
	if err != nil {
		return nil, err
	}
	return g.nearby(ctx, pos[0], radius, keyword)
}

func (g *Geocoder) nearby(ctx context.Context, around pkg.Position, radius uint, keyword string) ([]pkg.Landmark, error) {
	resp, err := g.places.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: around.Latitude, Lng: around.Longitude},
		Radius:   radius,
		Keyword:  keyword,
		Language: g.cfg.Language,
	})
	if err != nil {
		return nil, classify("nearby search", err)
	}
	out := make([]pkg.Landmark, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, pkg.Landmark{
			ID:   r.PlaceID,
			Name: r.Name,
			Position: pkg.Position{
				Timestamp: g.clock(),
				Latitude:  r.Geometry.Location.Lat,
				Longitude: r.Geometry.Location.Lng,
				Status:    pkg.Status2D,
			},
			Address: pkg.Address{Street: r.Vicinity},
			Types:   r.Types,
		})
	}
	g.logger.Debug("poi_search_done", "keyword", keyword, "radius_m", radius, "results", len(out))
	return out, nil
}

func streetLine(a pkg.Address) string {
	return strings.TrimSpace(strings.Join(nonEmpty(a.BuildingNumber, a.Street, a.District), " "))
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func components(a pkg.Address) map[maps.Component]string {
	c := map[maps.Component]string{}
	if a.City != "" {
		c[maps.ComponentLocality] = a.City
	}
	if a.State != "" {
		c[maps.ComponentAdministrativeArea] = a.State
	}
	if a.CountryCode != "" {
		c[maps.ComponentCountry] = a.CountryCode
	}
	if a.PostalCode != "" {
		c[maps.ComponentPostalCode] = a.PostalCode
	}
	if len(c) == 0 {
		return nil
	}
	return c
}

func addressOf(comps []maps.AddressComponent) pkg.Address {
	var a pkg.Address
	for _, c := range comps {
		for _, t := range c.Types {
			switch t {
			case "street_number":
				a.BuildingNumber = c.LongName
			case "route":
				a.Street = c.LongName
			case "sublocality", "sublocality_level_1":
				a.District = c.LongName
			case "locality":
				a.City = c.LongName
			case "administrative_area_level_1":
				a.State = c.LongName
			case "country":
				a.CountryCode = c.ShortName
			case "postal_code":
				a.PostalCode = c.LongName
			}
		}
	}
	return a
}

func accuracyOf(r maps.GeocodingResult) pkg.Accuracy {
	switch string(r.Geometry.LocationType) {
	case "ROOFTOP":
		return pkg.Accuracy{Level: pkg.AccuracyDetailed, Horizontal: 10}
	case "RANGE_INTERPOLATED":
		return pkg.Accuracy{Level: pkg.AccuracyStreet, Horizontal: 50}
	}
	for _, t := range r.Types {
		switch t {
		case "country":
			return pkg.Accuracy{Level: pkg.AccuracyCountry}
		case "administrative_area_level_1":
			return pkg.Accuracy{Level: pkg.AccuracyRegion}
		case "locality":
			return pkg.Accuracy{Level: pkg.AccuracyLocality}
		case "postal_code":
			return pkg.Accuracy{Level: pkg.AccuracyPostalCode}
		case "route":
			return pkg.Accuracy{Level: pkg.AccuracyStreet}
		}
	}
	return pkg.Accuracy{Level: pkg.AccuracyLocality}
}

// WPSModule returns a factory serving the wps backend
func WPSModule(cfg Config) provider.Factory {
	return func() provider.Module {
		var w *WPS
		return provider.ModuleFuncs{
			InitFunc: func(logger *logx.Logger) (interface{}, error) {
				var err error
				w, err = NewWPS(cfg, nil, logger)
				if err != nil {
					return nil, err
				}
				return w, nil
			},
			ShutdownFunc: func() error {
				if w == nil {
					return nil
				}
				return w.Stop()
			},
		}
	}
}

// GeocodeModule returns a factory serving both the geocode and poi backends
func GeocodeModule(cfg Config) provider.Factory {
	return func() provider.Module {
		return provider.ModuleFuncs{
			InitFunc: func(logger *logx.Logger) (interface{}, error) {
				g, err := NewGeocoder(cfg, logger)
				if err != nil {
					return nil, err
				}
				return g, nil
			},
		}
	}
}
