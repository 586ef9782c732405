package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"graminbus/internal/logging"
	"graminbus/internal/metrics"
)

const (
	StateOnline  = "online"
	StateOffline = "offline"

	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Monitor tracks online/offline state and triggers a flush whenever the
// device comes back online.
type Monitor struct {
	src         Source
	onReconnect func(ctx context.Context)
	log         *zap.Logger
	metrics     *metrics.Collector

	fsm    *fsm.FSM
	online atomic.Bool

	startOnce   sync.Once
	mu          sync.Mutex
	ctx         context.Context
	unsubscribe func()
	listeners   []func(bool)
}

func NewMonitor(src Source, onReconnect func(ctx context.Context), log *zap.Logger, mcol *metrics.Collector) *Monitor {
	m := &Monitor{
		src:         src,
		onReconnect: onReconnect,
		log:         logging.OrNop(log).Named("connectivity"),
		metrics:     mcol,
		ctx:         context.Background(),
	}

	initial := StateOnline
	if online, known := src.Online(); known && !online {
		initial = StateOffline
	}
	m.online.Store(initial == StateOnline)
	mcol.SetOnline(initial == StateOnline)

	events := fsm.Events{
		{Name: EventConnect, Src: []string{StateOffline}, Dst: StateOnline},
		{Name: EventDisconnect, Src: []string{StateOnline}, Dst: StateOffline},
	}
	callbacks := fsm.Callbacks{
		"enter_" + StateOnline:  m.enterOnline,
		"enter_" + StateOffline: m.enterOffline,
	}
	m.fsm = fsm.NewFSM(initial, events, callbacks)
	return m
}

// Start subscribes to the source. Only the first call has an effect; ctx is
// handed to reconnect flushes. The source is read again once subscribed, so a
// change between NewMonitor and Start is not lost.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.ctx = ctx
		m.mu.Unlock()
		unsub := m.src.Subscribe(m.signal)
		m.mu.Lock()
		m.unsubscribe = unsub
		m.mu.Unlock()
		if online, known := m.src.Online(); known {
			m.signal(online)
		}
		m.log.Info("connectivity monitor started", zap.Bool("online", m.Online()))
	})
}

// Stop detaches from the source.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// OnChange registers a listener for state transitions.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Monitor) Online() bool { return m.online.Load() }

func (m *Monitor) State() string {
	if m.Online() {
		return StateOnline
	}
	return StateOffline
}

func (m *Monitor) signal(online bool) {
	event := EventDisconnect
	if online {
		event = EventConnect
	}
	if err := m.fsm.Event(context.Background(), event); isRealError(err) {
		m.log.Error("connectivity transition failed", zap.String("event", event), zap.Error(err))
	}
}

func (m *Monitor) enterOnline(context.Context, *fsm.Event) {
	m.transitioned(true)
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if m.onReconnect != nil {
		go m.onReconnect(ctx)
	}
}

func (m *Monitor) enterOffline(context.Context, *fsm.Event) {
	m.transitioned(false)
}

func (m *Monitor) transitioned(online bool) {
	m.online.Store(online)
	m.metrics.SetOnline(online)
	m.log.Info("connectivity changed", zap.Bool("online", online))

	m.mu.Lock()
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
}

// isRealError filters the errors fsm returns for duplicate signals.
func isRealError(err error) bool {
	if err == nil {
		return false
	}
	var invalid fsm.InvalidEventError
	var noTransition fsm.NoTransitionError
	if errors.As(err, &invalid) || errors.As(err, &noTransition) {
		return false
	}
	return true
}
