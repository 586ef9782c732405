package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"graminbus/internal/bus"
	"graminbus/internal/logging"
	"graminbus/internal/metrics"
	"graminbus/internal/store"
)

var ErrDelivery = errors.New("delivery failed")

// Deliverer sends pending updates to the remote counterpart, in order. A nil
// error means every update was accepted.
type Deliverer interface {
	Deliver(ctx context.Context, updates []bus.PendingUpdate) error
}

type Outcome string

const (
	OutcomeEmpty     Outcome = "empty"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Result describes one flush attempt.
type Result struct {
	Outcome   Outcome   `json:"outcome"`
	Delivered int       `json:"delivered"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
	Err       error     `json:"-"`
}

// Manager owns the ordered sequence of pending updates.
type Manager struct {
	store     store.Store
	deliverer Deliverer
	log       *zap.Logger
	metrics   *metrics.Collector
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	pending  []bus.PendingUpdate
	last     Result
	onLength func(int)
	onSync   func(bool)

	group      singleflight.Group
	syncing    atomic.Bool
	degraded   atomic.Bool
	loadFailed atomic.Bool
}

func New(st store.Store, d Deliverer, log *zap.Logger, mcol *metrics.Collector) *Manager {
	return &Manager{
		store:     st,
		deliverer: d,
		log:       logging.OrNop(log).Named("queue"),
		metrics:   mcol,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// OnLengthChange registers a callback receiving the queue length after every change.
func (m *Manager) OnLengthChange(fn func(int)) {
	m.mu.Lock()
	m.onLength = fn
	m.mu.Unlock()
}

// OnSyncState registers a callback receiving syncing transitions.
func (m *Manager) OnSyncState(fn func(bool)) {
	m.mu.Lock()
	m.onSync = fn
	m.mu.Unlock()
}

// Load restores the persisted queue. Unreadable data starts an empty queue.
func (m *Manager) Load(ctx context.Context) {
	var pending []bus.PendingUpdate
	if err := store.GetJSON(ctx, m.store, store.KeyQueue, &pending); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.loadFailed.Store(true)
			m.metrics.PersistFailed(store.KeyQueue)
			m.log.Warn("persisted queue unreadable, starting empty", zap.Error(err))
		}
		pending = nil
	}
	m.mu.Lock()
	m.pending = pending
	m.mu.Unlock()
	m.metrics.SetQueueLength(len(pending))
	if len(pending) > 0 {
		m.log.Info("restored pending updates", zap.Int("count", len(pending)))
	}
}

// Enqueue appends an update to the tail and persists the full queue. It never
// fails; a persistence error only marks the queue degraded.
func (m *Manager) Enqueue(ctx context.Context, busID string, patch bus.Patch, at time.Time) bus.PendingUpdate {
	u := bus.PendingUpdate{
		ID:        m.newID(),
		BusID:     busID,
		Patch:     patch,
		CreatedAt: at.UnixMilli(),
	}

	m.mu.Lock()
	m.pending = append(m.pending, u)
	n := len(m.pending)
	m.persistLocked(ctx)
	onLength := m.onLength
	m.mu.Unlock()

	m.metrics.SetQueueLength(n)
	if onLength != nil {
		onLength(n)
	}
	m.log.Debug("queued update", zap.String("bus", busID), zap.Strings("fields", patch.Fields()), zap.Int("pending", n))
	return u
}

func (m *Manager) persistLocked(ctx context.Context) {
	pending := m.pending
	if pending == nil {
		pending = []bus.PendingUpdate{}
	}
	if err := store.PutJSON(ctx, m.store, store.KeyQueue, pending); err != nil {
		m.degraded.Store(true)
		m.metrics.PersistFailed(store.KeyQueue)
		m.log.Warn("persist queue failed", zap.Error(err))
		return
	}
	m.degraded.Store(false)
}

// Flush delivers every pending update and clears them only if all were
// delivered. Concurrent calls share the in-flight attempt.
func (m *Manager) Flush(ctx context.Context) Result {
	v, _, _ := m.group.Do("flush", func() (any, error) {
		return m.flush(ctx), nil
	})
	return v.(Result)
}

func (m *Manager) flush(ctx context.Context) Result {
	m.mu.Lock()
	snapshot := make([]bus.PendingUpdate, len(m.pending))
	copy(snapshot, m.pending)
	m.mu.Unlock()

	if len(snapshot) == 0 {
		return Result{Outcome: OutcomeEmpty, At: m.now()}
	}

	m.setSyncing(true)
	defer m.setSyncing(false)

	start := time.Now()
	m.log.Info("syncing offline updates", zap.Int("count", len(snapshot)))
	err := m.deliver(ctx, snapshot)

	m.mu.Lock()
	var res Result
	if err != nil {
		res = Result{
			Outcome:   OutcomeFailed,
			Remaining: len(m.pending),
			At:        m.now(),
			Err:       fmt.Errorf("%w: %w", ErrDelivery, err),
		}
	} else {
		// Only this flush removes entries, so the snapshot is still the head.
		rest := make([]bus.PendingUpdate, len(m.pending)-len(snapshot))
		copy(rest, m.pending[len(snapshot):])
		m.pending = rest
		m.persistLocked(ctx)
		res = Result{
			Outcome:   OutcomeSucceeded,
			Delivered: len(snapshot),
			Remaining: len(m.pending),
			At:        m.now(),
		}
	}
	m.last = res
	onLength := m.onLength
	m.mu.Unlock()

	m.metrics.ObserveFlush(string(res.Outcome), time.Since(start))
	m.metrics.SetQueueLength(res.Remaining)
	if res.Err != nil {
		m.log.Warn("sync failed, keeping queue", zap.Int("pending", res.Remaining), zap.Error(res.Err))
	} else {
		m.log.Info("sync complete", zap.Int("delivered", res.Delivered), zap.Int("pending", res.Remaining))
		if onLength != nil {
			onLength(res.Remaining)
		}
	}
	return res
}

func (m *Manager) deliver(ctx context.Context, updates []bus.PendingUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliverer panic: %v", r)
		}
	}()
	if m.deliverer == nil {
		return errors.New("no deliverer configured")
	}
	return m.deliverer.Deliver(ctx, updates)
}

func (m *Manager) setSyncing(b bool) {
	m.syncing.Store(b)
	m.metrics.SetSyncing(b)
	m.mu.Lock()
	onSync := m.onSync
	m.mu.Unlock()
	if onSync != nil {
		onSync(b)
	}
}

// FlushAsync starts a flush and returns a task that completes with its result.
func (m *Manager) FlushAsync(ctx context.Context) *Task {
	t := newTask()
	go func() {
		t.complete(m.Flush(ctx))
	}()
	return t
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Pending returns a copy of the queue in FIFO order.
func (m *Manager) Pending() []bus.PendingUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bus.PendingUpdate, len(m.pending))
	copy(out, m.pending)
	return out
}

func (m *Manager) Syncing() bool { return m.syncing.Load() }

// LastResult returns the most recent non-empty flush result.
func (m *Manager) LastResult() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Degraded reports an unreadable queue at startup or a failed last write.
func (m *Manager) Degraded() bool { return m.loadFailed.Load() || m.degraded.Load() }
