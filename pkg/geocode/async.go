package geocode

import (
	"context"
	"fmt"

	"github.com/markus-lassfolk/locationd/pkg"
)

// PositionsCallback receives a forward geocode result on the dispatcher
type PositionsCallback func(pos []pkg.Position, acc []pkg.Accuracy, err error)

// AddressCallback receives a reverse geocode result on the dispatcher
type AddressCallback func(addr pkg.Address, acc pkg.Accuracy, err error)

// LandmarksCallback receives a POI result on the dispatcher
type LandmarksCallback func(res []pkg.Landmark, err error)

var errNilCallback = fmt.Errorf("nil result callback: %w", pkg.ErrParameter)

// async runs op on its own goroutine and posts deliver back
func (s *Service) async(op func() func()) {
	go func() {
		deliver := op()
		s.dispatcher.Post(deliver)
	}()
}

// GeocodeAsync is Geocode with the result delivered to cb. Each Async
// variant rejects a nil cb with ErrParameter and otherwise returns nil; lookup
// errors reach cb.
func (s *Service) GeocodeAsync(ctx context.Context, addr pkg.Address, cb PositionsCallback) error {
	if cb == nil {
		return errNilCallback
	}
	s.async(func() func() {
		pos, acc, err := s.Geocode(ctx, addr)
		return func() { cb(pos, acc, err) }
	})
	return nil
}

// GeocodeFreeTextAsync is GeocodeFreeText with the result delivered to cb
func (s *Service) GeocodeFreeTextAsync(ctx context.Context, text string, cb PositionsCallback) error {
	if cb == nil {
		return errNilCallback
	}
	s.async(func() func() {
		pos, acc, err := s.GeocodeFreeText(ctx, text)
		return func() { cb(pos, acc, err) }
	})
	return nil
}

// ReverseGeocodeAsync is ReverseGeocode with the result delivered to cb
func (s *Service) ReverseGeocodeAsync(ctx context.Context, pos pkg.Position, cb AddressCallback) error {
	if cb == nil {
		return errNilCallback
	}
	s.async(func() func() {
		addr, acc, err := s.ReverseGeocode(ctx, pos)
		return func() { cb(addr, acc, err) }
	})
	return nil
}

// POIAsync is POI with the result delivered to cb. The position is read from
// src on the caller's goroutine before the lookup starts.
func (s *Service) POIAsync(ctx context.Context, src PositionSource, radius uint, keyword string, cb LandmarksCallback) error {
	if cb == nil {
		return errNilCallback
	}
	around, err := s.currentPosition(src, radius, keyword)
	if err != nil {
		s.dispatcher.Post(func() { cb(nil, err) })
		return nil
	}
	s.async(func() func() {
		res, err := s.poiAround(ctx, around, radius, keyword)
		return func() { cb(res, err) }
	})
	return nil
}

// POIFromAddressAsync is POIFromAddress with the result delivered to cb
func (s *Service) POIFromAddressAsync(ctx context.Context, addr pkg.Address, radius uint, keyword string, cb LandmarksCallback) error {
	if cb == nil {
		return errNilCallback
	}
	s.async(func() func() {
		res, err := s.POIFromAddress(ctx, addr, radius, keyword)
		return func() { cb(res, err) }
	})
	return nil
}

// POIFromPositionAsync is POIFromPosition with the result delivered to cb
func (s *Service) POIFromPositionAsync(ctx context.Context, pos pkg.Position, radius uint, keyword string, cb LandmarksCallback) error {
	if cb == nil {
		return errNilCallback
	}
	s.async(func() func() {
		res, err := s.POIFromPosition(ctx, pos, radius, keyword)
		return func() { cb(res, err) }
	})
	return nil
}
