package prediction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"graminbus/internal/bus"
	"graminbus/internal/logging"
	"graminbus/internal/metrics"
)

// Generator produces a fresh prediction, typically by calling a remote model.
type Generator interface {
	Generate(ctx context.Context, route string, capacity bus.Capacity, traffic bus.Traffic) (Result, error)
}

// Predictor answers ETA requests from the cache, the generator, or a fixed
// fallback. It never returns an error.
type Predictor struct {
	gen     Generator
	cache   *Cache
	online  func() bool
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewPredictor(gen Generator, cache *Cache, online func() bool, timeout time.Duration, log *zap.Logger, mcol *metrics.Collector) *Predictor {
	return &Predictor{
		gen:     gen,
		cache:   cache,
		online:  online,
		timeout: timeout,
		log:     logging.OrNop(log),
		metrics: mcol,
		now:     time.Now,
	}
}

func (p *Predictor) Predict(ctx context.Context, route string, capacity bus.Capacity, traffic bus.Traffic) Result {
	if r, ok := p.cache.Get(route); ok {
		p.metrics.ObservePrediction("cache")
		return r
	}
	if p.online != nil && !p.online() {
		p.metrics.ObservePrediction("offline")
		return OfflineFallback(p.now())
	}
	if p.gen == nil {
		p.metrics.ObservePrediction("fallback")
		return ErrorFallback(p.now())
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	r, err := p.gen.Generate(ctx, route, capacity, traffic)
	if err != nil {
		p.log.Warn("prediction failed", zap.String("route", route), zap.Error(err))
		p.metrics.ObservePrediction("fallback")
		return ErrorFallback(p.now())
	}
	r.Timestamp = p.now().UnixMilli()
	p.cache.Put(ctx, route, r)
	p.metrics.ObservePrediction("generator")
	return r
}
