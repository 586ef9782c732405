package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"graminbus/internal/bus"
)

// PositionPublisher receives live bus positions for map consumers.
type PositionPublisher interface {
	PublishPosition(pos bus.Position) error
}

// Positions returns the current position of every bus without recording it.
func (s *Service) Positions() []bus.Position {
	buses := s.registry.List()
	s.posMu.Lock()
	defer s.posMu.Unlock()
	out := make([]bus.Position, 0, len(buses))
	for _, b := range buses {
		out = append(out, s.positionLocked(b, false))
	}
	return out
}

// positionLocked derives heading and speed from the last published position.
func (s *Service) positionLocked(b bus.Record, remember bool) bus.Position {
	pos := bus.Position{
		BusID:     b.ID,
		Route:     b.Route,
		Lat:       b.Lat,
		Lng:       b.Lng,
		Capacity:  b.Capacity,
		Traffic:   b.Traffic,
		Timestamp: b.UpdatedAt(),
	}
	if st, ok := bus.NearestStop(s.stops, b.Lat, b.Lng); ok {
		pos.NearestStop = st.Name
	}
	if prev, ok := s.lastPos[b.ID]; ok {
		pos.BearingDeg = prev.BearingDeg
		if prev.Lat != b.Lat || prev.Lng != b.Lng {
			pos.BearingDeg = bus.BearingDeg(prev.Lat, prev.Lng, b.Lat, b.Lng)
			if dt := pos.Timestamp.Sub(prev.Timestamp).Seconds(); dt > 0 {
				pos.SpeedMps = bus.DistanceMeters(prev.Lat, prev.Lng, b.Lat, b.Lng) / dt
			}
		}
	}
	if remember {
		s.lastPos[b.ID] = pos
	}
	return pos
}

// PublishPositions sends one position per bus. It is skipped while offline.
func (s *Service) PublishPositions(pub PositionPublisher) int {
	if !s.monitor.Online() {
		return 0
	}
	buses := s.registry.List()
	s.posMu.Lock()
	positions := make([]bus.Position, 0, len(buses))
	for _, b := range buses {
		positions = append(positions, s.positionLocked(b, true))
	}
	s.posMu.Unlock()

	sent := 0
	for _, p := range positions {
		if err := pub.PublishPosition(p); err != nil {
			s.log.Warn("publish position failed", zap.String("bus", p.BusID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// StartPositionPublisher launches a background loop publishing positions
// every interval. A non-positive interval disables it.
func (s *Service) StartPositionPublisher(parent context.Context, pub PositionPublisher, interval time.Duration) {
	if pub == nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.posMu.Lock()
	s.posCancel = cancel
	s.posMu.Unlock()

	s.posWG.Add(1)
	go func() {
		defer s.posWG.Done()
		s.PublishPositions(pub)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.PublishPositions(pub)
			}
		}
	}()
	s.log.Info("position publisher started", zap.Duration("interval", interval))
}

func (s *Service) StopPositionPublisher() {
	s.posMu.Lock()
	cancel := s.posCancel
	s.posCancel = nil
	s.posMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.posWG.Wait()
}
