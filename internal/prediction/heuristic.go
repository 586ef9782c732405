package prediction

import (
	"context"
	"fmt"

	"graminbus/internal/bus"
)

// Heuristic estimates ETAs from conductor-reported traffic without a remote
// model. Used when no model API key is configured.
type Heuristic struct{}

func (Heuristic) Generate(_ context.Context, route string, capacity bus.Capacity, traffic bus.Traffic) (Result, error) {
	eta := 12
	switch traffic {
	case bus.TrafficHeavy:
		eta = 25
	case bus.TrafficBlock:
		eta = 45
	}
	if capacity == bus.CapacityFull || capacity == bus.CapacityOverloaded {
		eta += 5
	}
	return Result{
		Prediction:      fmt.Sprintf("%s arriving in about %d mins", route, eta),
		HindiPrediction: fmt.Sprintf("%s लगभग %d मिनट में पहुँचेगी", route, eta),
		EtaMins:         eta,
	}, nil
}
