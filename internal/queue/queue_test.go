package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graminbus/internal/bus"
	"graminbus/internal/metrics"
	"graminbus/internal/store"
)

// gateDeliverer blocks each delivery until release is closed and records
// what it was handed.
type gateDeliverer struct {
	release chan struct{}
	started chan struct{}
	err     error
	calls   atomic.Int32

	mu        sync.Mutex
	delivered [][]bus.PendingUpdate
}

func newGate() *gateDeliverer {
	return &gateDeliverer{release: make(chan struct{}), started: make(chan struct{}, 8)}
}

func (g *gateDeliverer) Deliver(ctx context.Context, updates []bus.PendingUpdate) error {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	g.delivered = append(g.delivered, updates)
	g.mu.Unlock()
	return g.err
}

type funcDeliverer func(ctx context.Context, updates []bus.PendingUpdate) error

func (f funcDeliverer) Deliver(ctx context.Context, updates []bus.PendingUpdate) error {
	return f(ctx, updates)
}

var okDeliverer = funcDeliverer(func(context.Context, []bus.PendingUpdate) error { return nil })

func blockPatch() bus.Patch { return bus.Patch{Traffic: bus.Ptr(bus.TrafficBlock)} }

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := New(st, okDeliverer, nil, nil)
	m.Load(ctx)

	var lengths []int
	m.OnLengthChange(func(n int) { lengths = append(lengths, n) })

	at := time.UnixMilli(1_700_000_000_000)
	u1 := m.Enqueue(ctx, "SH-01", blockPatch(), at)
	u2 := m.Enqueue(ctx, "SH-02", bus.Patch{SeatsRemaining: bus.Ptr(3)}, at.Add(time.Second))

	assert.NotEqual(t, u1.ID, u2.ID)
	assert.Equal(t, at.UnixMilli(), u1.CreatedAt)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []int{1, 2}, lengths)

	pending := m.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "SH-01", pending[0].BusID)
	assert.Equal(t, "SH-02", pending[1].BusID)

	var persisted []bus.PendingUpdate
	require.NoError(t, store.GetJSON(ctx, st, store.KeyQueue, &persisted))
	assert.Equal(t, pending, persisted)

	reloaded := New(st, okDeliverer, nil, nil)
	reloaded.Load(ctx)
	assert.Equal(t, pending, reloaded.Pending())
}

func TestLoadCorruptQueue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Put(ctx, store.KeyQueue, []byte("not json")))

	mcol := metrics.NewCollector(time.Second)
	m := New(st, okDeliverer, nil, mcol)
	m.Load(ctx)
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.Degraded())
	assert.Equal(t, 1.0, testutil.ToFloat64(mcol.PersistErrors.WithLabelValues(store.KeyQueue)))

	// A successful write afterwards still reports the lost queue.
	m.Enqueue(ctx, "SH-01", bus.Patch{Traffic: bus.Ptr(bus.TrafficHeavy)}, time.Now())
	assert.True(t, m.Degraded())
}

func TestFlushEmpty(t *testing.T) {
	m := New(store.NewMemory(), okDeliverer, nil, nil)
	var transitions []bool
	m.OnSyncState(func(b bool) { transitions = append(transitions, b) })

	res := m.Flush(context.Background())
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Empty(t, transitions)
	assert.False(t, m.Syncing())
}

func TestFlushDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	var got []bus.PendingUpdate
	m := New(st, funcDeliverer(func(_ context.Context, u []bus.PendingUpdate) error {
		got = append(got, u...)
		return nil
	}), nil, nil)

	for i := 0; i < 3; i++ {
		m.Enqueue(ctx, "SH-01", blockPatch(), time.Now())
	}
	want := m.Pending()

	var transitions []bool
	m.OnSyncState(func(b bool) { transitions = append(transitions, b) })

	res := m.Flush(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 3, res.Delivered)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, want, got)
	assert.Equal(t, []bool{true, false}, transitions)
	assert.Equal(t, 0, m.Len())

	var persisted []bus.PendingUpdate
	require.NoError(t, store.GetJSON(ctx, st, store.KeyQueue, &persisted))
	assert.Empty(t, persisted)

	second := m.Flush(ctx)
	assert.Equal(t, OutcomeEmpty, second.Outcome)
	assert.Len(t, got, 3)
	assert.Equal(t, OutcomeSucceeded, m.LastResult().Outcome)
}

func TestFlushFailureKeepsQueue(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemory(), funcDeliverer(func(context.Context, []bus.PendingUpdate) error {
		return errors.New("connection reset")
	}), nil, nil)
	m.Enqueue(ctx, "SH-01", blockPatch(), time.Now())
	m.Enqueue(ctx, "SH-02", blockPatch(), time.Now())
	before := m.Pending()

	res := m.Flush(ctx)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrDelivery)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, before, m.Pending())
	assert.False(t, m.Syncing())
}

func TestFlushRecoversDelivererPanic(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemory(), funcDeliverer(func(context.Context, []bus.PendingUpdate) error {
		panic("boom")
	}), nil, nil)
	m.Enqueue(ctx, "SH-01", blockPatch(), time.Now())

	res := m.Flush(ctx)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, m.Len())
}

func TestConcurrentFlushDeliversOnce(t *testing.T) {
	ctx := context.Background()
	gate := newGate()
	m := New(store.NewMemory(), gate, nil, nil)
	m.Enqueue(ctx, "SH-01", blockPatch(), time.Now())

	first := m.FlushAsync(ctx)
	<-gate.started
	assert.True(t, m.Syncing())

	second := m.FlushAsync(ctx)
	// Give the second call time to join the in-flight flush.
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	r1, err := first.Wait(ctx)
	require.NoError(t, err)
	r2, err := second.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, r1.Outcome)
	assert.Contains(t, []Outcome{OutcomeSucceeded, OutcomeEmpty}, r2.Outcome)
	assert.Equal(t, int32(1), gate.calls.Load())
	assert.Equal(t, 0, m.Len())
}

func TestEnqueueDuringFlushSurvives(t *testing.T) {
	ctx := context.Background()
	gate := newGate()
	m := New(store.NewMemory(), gate, nil, nil)
	m.Enqueue(ctx, "SH-01", blockPatch(), time.Now())
	m.Enqueue(ctx, "SH-01", blockPatch(), time.Now())

	task := m.FlushAsync(ctx)
	<-gate.started
	late := m.Enqueue(ctx, "SH-02", bus.Patch{SeatsRemaining: bus.Ptr(1)}, time.Now())
	close(gate.release)

	res, err := task.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, []bus.PendingUpdate{late}, m.Pending())
}

func TestFlushCancelled(t *testing.T) {
	gate := newGate()
	m := New(store.NewMemory(), gate, nil, nil)
	m.Enqueue(context.Background(), "SH-01", blockPatch(), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	task := m.FlushAsync(ctx)
	<-gate.started
	cancel()

	<-task.Done()
	res := task.Result()
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, m.Len())
}

func TestSimulated(t *testing.T) {
	fire := make(chan time.Time, 1)
	s := NewSimulated(1500 * time.Millisecond)
	var asked time.Duration
	s.After = func(d time.Duration) <-chan time.Time {
		asked = d
		return fire
	}

	fire <- time.Now()
	require.NoError(t, s.Deliver(context.Background(), nil))
	assert.Equal(t, 1500*time.Millisecond, asked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Deliver(ctx, nil), context.Canceled)
}
