package queue

import (
	"context"
	"time"

	"graminbus/internal/bus"
)

// Simulated stands in for a remote backend: it waits Delay and accepts
// everything. After can be replaced to control time in tests.
type Simulated struct {
	Delay time.Duration
	After func(time.Duration) <-chan time.Time
}

func NewSimulated(delay time.Duration) *Simulated {
	return &Simulated{Delay: delay, After: time.After}
}

func (s *Simulated) Deliver(ctx context.Context, _ []bus.PendingUpdate) error {
	after := s.After
	if after == nil {
		after = time.After
	}
	select {
	case <-after(s.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
