package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"graminbus/internal/bus"
	"graminbus/internal/logging"
	"graminbus/internal/metrics"
	"graminbus/internal/prediction"
	"graminbus/internal/store"
)

var ErrUnknownBus = errors.New("unknown bus id")

// Registry is the in-memory canonical mapping of bus id to record. Every
// mutation goes through Apply and is written through to the store.
type Registry struct {
	store   store.Store
	seed    []bus.Record
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu    sync.Mutex
	order []string
	buses map[string]bus.Record

	degraded   atomic.Bool // last write failed
	loadFailed atomic.Bool // persisted roster was unreadable at startup
	onChange   func()
}

func New(st store.Store, seed []bus.Record, log *zap.Logger, mcol *metrics.Collector) *Registry {
	return &Registry{
		store:   st,
		seed:    seed,
		log:     logging.OrNop(log).Named("registry"),
		metrics: mcol,
		now:     time.Now,
		buses:   make(map[string]bus.Record),
	}
}

// OnChange registers a callback invoked after every successful Apply.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Initialize loads the persisted roster, falling back to the seed fleet when
// it is absent or unreadable. A seeded roster is written back. It never fails.
func (r *Registry) Initialize(ctx context.Context) map[string]bus.Record {
	buses, err := r.loadPersisted(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.loadFailed.Store(true)
			r.metrics.PersistFailed(store.KeyRoster)
			r.log.Warn("persisted roster unreadable, using seed fleet", zap.Error(err))
		}
		buses = r.seed
	}

	r.mu.Lock()
	r.order = r.order[:0]
	r.buses = make(map[string]bus.Record, len(buses))
	for _, b := range buses {
		r.order = append(r.order, b.ID)
		r.buses[b.ID] = b.Normalize()
	}
	if err != nil {
		r.persist(ctx, r.rosterLocked())
	}
	out := make(map[string]bus.Record, len(r.buses))
	for id, b := range r.buses {
		out[id] = b.Clone()
	}
	r.mu.Unlock()

	r.log.Info("roster loaded", zap.Int("buses", len(out)), zap.Bool("seeded", err != nil))
	return out
}

func (r *Registry) loadPersisted(ctx context.Context) ([]bus.Record, error) {
	var buses []bus.Record
	if err := store.GetJSON(ctx, r.store, store.KeyRoster, &buses); err != nil {
		return nil, err
	}
	if err := bus.ValidateFleet(buses); err != nil {
		return nil, err
	}
	return buses, nil
}

// Apply merges patch into the record for busID and stamps LastUpdated. The
// new timestamp is always strictly greater than the previous one. The roster
// is persisted before the lock is released so writes land in apply order.
func (r *Registry) Apply(ctx context.Context, busID string, patch bus.Patch) (bus.Record, error) {
	if err := patch.Validate(); err != nil {
		return bus.Record{}, err
	}

	r.mu.Lock()
	cur, ok := r.buses[busID]
	if !ok {
		r.mu.Unlock()
		return bus.Record{}, fmt.Errorf("%w: %q", ErrUnknownBus, busID)
	}
	next, err := patch.Merge(cur)
	if err != nil {
		r.mu.Unlock()
		return bus.Record{}, err
	}
	ts := r.now().UnixMilli()
	if ts <= cur.LastUpdated {
		ts = cur.LastUpdated + 1
	}
	next.LastUpdated = ts
	r.buses[busID] = next
	r.persist(ctx, r.rosterLocked())
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return next.Clone(), nil
}

// ApplyPrediction records a predicted ETA and message through Apply.
func (r *Registry) ApplyPrediction(ctx context.Context, busID string, res prediction.Result, lang bus.Language) (bus.Record, error) {
	return r.Apply(ctx, busID, bus.Patch{
		EtaMins:    bus.Ptr(res.EtaMins),
		Prediction: bus.Ptr(res.Message(lang)),
	})
}

func (r *Registry) rosterLocked() []bus.Record {
	out := make([]bus.Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.buses[id].Clone())
	}
	return out
}

func (r *Registry) persist(ctx context.Context, roster []bus.Record) {
	if err := store.PutJSON(ctx, r.store, store.KeyRoster, roster); err != nil {
		r.degraded.Store(true)
		r.metrics.PersistFailed(store.KeyRoster)
		r.log.Warn("persist roster failed, keeping in-memory state", zap.Error(err))
		return
	}
	r.degraded.Store(false)
}

func (r *Registry) Get(busID string) (bus.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[busID]
	return b.Clone(), ok
}

// List returns all records in roster order.
func (r *Registry) List() []bus.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

// Degraded reports whether the roster was unreadable at startup or the last
// write failed. A later successful write does not hide a failed load.
func (r *Registry) Degraded() bool { return r.loadFailed.Load() || r.degraded.Load() }
