package tracker

import (
	"context"
	"fmt"

	"graminbus/internal/bus"
	"graminbus/internal/registry"
)

const (
	defaultETA  = 10
	reopenSeats = 5
)

func (s *Service) current(busID string) (bus.Record, error) {
	rec, ok := s.registry.Get(busID)
	if !ok {
		return bus.Record{}, fmt.Errorf("%w: %q", registry.ErrUnknownBus, busID)
	}
	return rec, nil
}

// AdjustSeats changes the free seat count by delta, clamped to [0, MaxSeats].
// Any free seat makes the bus AVAILABLE, none makes it FULL.
func (s *Service) AdjustSeats(ctx context.Context, busID string, delta int) (bus.Record, error) {
	rec, err := s.current(busID)
	if err != nil {
		return bus.Record{}, err
	}
	seats := max(0, min(rec.MaxSeats, rec.SeatsRemaining+delta))
	capacity := bus.CapacityFull
	if seats > 0 {
		capacity = bus.CapacityAvailable
	}
	return s.UpdateBus(ctx, busID, bus.Patch{SeatsRemaining: &seats, Capacity: &capacity})
}

// SetCapacity sets the crowding level. Anything other than AVAILABLE clears
// the seats; AVAILABLE on a bus with no seats reopens a few.
func (s *Service) SetCapacity(ctx context.Context, busID string, capacity bus.Capacity) (bus.Record, error) {
	rec, err := s.current(busID)
	if err != nil {
		return bus.Record{}, err
	}
	patch := bus.Patch{Capacity: &capacity}
	switch {
	case capacity != bus.CapacityAvailable:
		patch.SeatsRemaining = bus.Ptr(0)
	case rec.SeatsRemaining == 0:
		patch.SeatsRemaining = bus.Ptr(min(reopenSeats, rec.MaxSeats))
	}
	return s.UpdateBus(ctx, busID, patch)
}

// AdjustETA moves the ETA by delta minutes, never below zero.
func (s *Service) AdjustETA(ctx context.Context, busID string, delta int) (bus.Record, error) {
	rec, err := s.current(busID)
	if err != nil {
		return bus.Record{}, err
	}
	eta := defaultETA
	if rec.EtaMins != nil {
		eta = *rec.EtaMins
	}
	eta = max(0, eta+delta)
	return s.UpdateBus(ctx, busID, bus.Patch{EtaMins: &eta})
}

func (s *Service) SetTraffic(ctx context.Context, busID string, traffic bus.Traffic) (bus.Record, error) {
	return s.UpdateBus(ctx, busID, bus.Patch{Traffic: &traffic})
}

func (s *Service) UpdateLocation(ctx context.Context, busID string, lat, lng float64) (bus.Record, error) {
	return s.UpdateBus(ctx, busID, bus.Patch{Lat: &lat, Lng: &lng})
}
