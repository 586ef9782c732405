package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graminbus/internal/bus"
	"graminbus/internal/store"
)

type fakeGenerator struct {
	calls  int
	result Result
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ bus.Capacity, _ bus.Traffic) (Result, error) {
	f.calls++
	return f.result, f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCacheFreshness(t *testing.T) {
	ctx := context.Background()
	T := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := &clock{t: T}

	c := NewCache(store.NewMemory(), DefaultTTL, nil, nil)
	c.now = clk.now
	entry := Result{Prediction: "soon", HindiPrediction: "जल्द", EtaMins: 12, Timestamp: T.UnixMilli()}
	c.Put(ctx, "Jaipur Exp", entry)

	clk.t = T.Add(4 * time.Minute)
	got, ok := c.Get("Jaipur Exp")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	clk.t = T.Add(6 * time.Minute)
	_, ok = c.Get("Jaipur Exp")
	assert.False(t, ok, "entry older than the ttl must not be reused")

	clk.t = T.Add(5 * time.Minute)
	_, ok = c.Get("Jaipur Exp")
	assert.False(t, ok)
}

func TestCachePersistence(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	now := time.Now()

	c := NewCache(st, time.Minute, nil, nil)
	c.Put(ctx, "Kotputli Local", Result{Prediction: "x", EtaMins: 7, Timestamp: now.UnixMilli()})

	reloaded := NewCache(st, time.Minute, nil, nil)
	reloaded.Load(ctx)
	got, ok := reloaded.Get("Kotputli Local")
	require.True(t, ok)
	assert.Equal(t, 7, got.EtaMins)

	require.NoError(t, st.Put(ctx, store.KeyPredictions, []byte("{broken")))
	broken := NewCache(st, time.Minute, nil, nil)
	broken.Load(ctx)
	_, ok = broken.Get("Kotputli Local")
	assert.False(t, ok)
}

func TestPredictor(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	newPredictor := func(gen Generator, online bool) *Predictor {
		cache := NewCache(store.NewMemory(), DefaultTTL, nil, nil)
		cache.now = func() time.Time { return fixed }
		p := NewPredictor(gen, cache, func() bool { return online }, time.Second, nil, nil)
		p.now = func() time.Time { return fixed }
		return p
	}

	t.Run("generator result is cached", func(t *testing.T) {
		gen := &fakeGenerator{result: Result{Prediction: "in 9", HindiPrediction: "9 में", EtaMins: 9}}
		p := newPredictor(gen, true)

		first := p.Predict(ctx, "Jaipur Exp", bus.CapacityAvailable, bus.TrafficSmooth)
		second := p.Predict(ctx, "Jaipur Exp", bus.CapacityFull, bus.TrafficBlock)

		assert.Equal(t, 9, first.EtaMins)
		assert.Equal(t, fixed.UnixMilli(), first.Timestamp)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, gen.calls)
	})

	t.Run("offline returns deterministic fallback", func(t *testing.T) {
		gen := &fakeGenerator{}
		p := newPredictor(gen, false)

		r := p.Predict(ctx, "Jaipur Exp", bus.CapacityAvailable, bus.TrafficSmooth)
		assert.Equal(t, OfflineFallback(fixed), r)
		assert.Equal(t, 0, gen.calls)
	})

	t.Run("generator failure returns fallback and is not cached", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("quota")}
		p := newPredictor(gen, true)

		r := p.Predict(ctx, "Jaipur Exp", bus.CapacityAvailable, bus.TrafficSmooth)
		assert.Equal(t, 20, r.EtaMins)
		assert.Equal(t, "अगली बस 20 मिनट में", r.Message(bus.LangHindi))

		p.Predict(ctx, "Jaipur Exp", bus.CapacityAvailable, bus.TrafficSmooth)
		assert.Equal(t, 2, gen.calls)
	})

	t.Run("no generator", func(t *testing.T) {
		p := newPredictor(nil, true)
		assert.Equal(t, ErrorFallback(fixed), p.Predict(ctx, "R", bus.CapacityAvailable, bus.TrafficSmooth))
	})
}

func TestHeuristic(t *testing.T) {
	r, err := Heuristic{}.Generate(context.Background(), "Jaipur Exp", bus.CapacityFull, bus.TrafficBlock)
	require.NoError(t, err)
	assert.Equal(t, 50, r.EtaMins)
	assert.Contains(t, r.Message(bus.LangEnglish), "Jaipur Exp")
}

func TestParseResponse(t *testing.T) {
	r, err := parseResponse(`{"prediction":"Bus in 11 mins","hindiPrediction":"11 मिनट में","etaMins":10.6}`)
	require.NoError(t, err)
	assert.Equal(t, 11, r.EtaMins)
	assert.Equal(t, "Bus in 11 mins", r.Prediction)

	_, err = parseResponse(`not json`)
	assert.Error(t, err)
	_, err = parseResponse(`{"etaMins":3}`)
	assert.Error(t, err)
}
