package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"graminbus/internal/bus"
	"graminbus/internal/connectivity"
	"graminbus/internal/logging"
	"graminbus/internal/metrics"
	"graminbus/internal/prediction"
	"graminbus/internal/queue"
	"graminbus/internal/registry"
	"graminbus/internal/store"
	"graminbus/internal/voice"
)

var ErrOffline = errors.New("device is offline")

const DefaultSyncWindow = 800 * time.Millisecond

type Deps struct {
	Store     store.Store
	Registry  *registry.Registry
	Queue     *queue.Manager
	Monitor   *connectivity.Monitor
	Predictor *prediction.Predictor
	Speaker   voice.Speaker
	Stops     []bus.Stop
	Log       *zap.Logger
	Metrics   *metrics.Collector

	// SyncWindow is how long an online write shows as syncing.
	SyncWindow time.Duration
}

// Service is the single entry point for bus mutations and the state the UI
// observes.
type Service struct {
	store     store.Store
	registry  *registry.Registry
	queue     *queue.Manager
	monitor   *connectivity.Monitor
	predictor *prediction.Predictor
	speaker   voice.Speaker
	stops     []bus.Stop
	log       *zap.Logger
	metrics   *metrics.Collector

	syncWindow time.Duration
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	lang     bus.Language
	blips    int
	subs     map[int]chan Event
	nextSub  int
	degraded bool
	closed   bool

	posMu     sync.Mutex
	lastPos   map[string]bus.Position
	posCancel context.CancelFunc
	posWG     sync.WaitGroup
	blipWG    sync.WaitGroup
}

func New(d Deps) *Service {
	s := &Service{
		store:      d.Store,
		registry:   d.Registry,
		queue:      d.Queue,
		monitor:    d.Monitor,
		predictor:  d.Predictor,
		speaker:    d.Speaker,
		stops:      d.Stops,
		log:        logging.OrNop(d.Log).Named("tracker"),
		metrics:    d.Metrics,
		syncWindow: d.SyncWindow,
		now:        time.Now,
		after:      time.After,
		lang:       bus.LangEnglish,
		subs:       make(map[int]chan Event),
		lastPos:    make(map[string]bus.Position),
	}
	if s.syncWindow <= 0 {
		s.syncWindow = DefaultSyncWindow
	}
	if s.speaker == nil {
		s.speaker = voice.Nop{}
	}

	s.registry.OnChange(func() { s.emit(EventBusListUpdated) })
	s.queue.OnLengthChange(func(int) { s.emit(EventQueueLengthChanged) })
	s.queue.OnSyncState(func(bool) { s.emit(EventSyncStateChanged) })
	s.monitor.OnChange(func(bool) { s.emit(EventConnectivityChanged) })
	return s
}

// UpdateBus applies patch locally and then either queues it for delivery
// (offline) or shows a short sync indicator (online). Storage failures never
// fail the call.
func (s *Service) UpdateBus(ctx context.Context, busID string, patch bus.Patch) (bus.Record, error) {
	rec, err := s.registry.Apply(ctx, busID, patch)
	if err != nil {
		return bus.Record{}, err
	}

	online := s.monitor.Online()
	s.metrics.ObserveUpdate(online)
	if !online {
		u := s.queue.Enqueue(ctx, busID, patch, s.now())
		s.log.Info("offline update queued", zap.String("bus", busID), zap.String("id", u.ID), zap.Strings("fields", patch.Fields()))
	} else {
		s.blip()
	}
	return rec, nil
}

// blip marks the service as syncing for the sync window. It does nothing
// once the service is closed.
func (s *Service) blip() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.blips++
	first := s.blips == 1
	// Added under mu so Close never waits while a blip is being registered.
	s.blipWG.Add(1)
	s.mu.Unlock()
	if first {
		s.emit(EventSyncStateChanged)
	}

	done := s.after(s.syncWindow)
	go func() {
		defer s.blipWG.Done()
		<-done
		s.mu.Lock()
		s.blips--
		last := s.blips == 0
		s.mu.Unlock()
		if last {
			s.emit(EventSyncStateChanged)
		}
	}()
}

// Flush delivers the offline queue now. It fails with ErrOffline when there
// is no connectivity.
func (s *Service) Flush(ctx context.Context) (queue.Result, error) {
	if !s.monitor.Online() {
		return queue.Result{}, ErrOffline
	}
	res := s.queue.Flush(ctx)
	return res, res.Err
}

// Predict fetches an ETA prediction for the bus's route, records it on the
// bus and speaks it in lang.
func (s *Service) Predict(ctx context.Context, busID string, lang bus.Language) (prediction.Result, bus.Record, error) {
	rec, ok := s.registry.Get(busID)
	if !ok {
		return prediction.Result{}, bus.Record{}, fmt.Errorf("%w: %q", registry.ErrUnknownBus, busID)
	}
	if !lang.Valid() {
		lang = s.Language()
	}
	res := s.predictor.Predict(ctx, rec.Route, rec.Capacity, rec.Traffic)
	rec, err := s.registry.ApplyPrediction(ctx, busID, res, lang)
	if err != nil {
		return prediction.Result{}, bus.Record{}, err
	}
	s.speaker.Speak(res.Message(lang), lang.Locale())
	return res, rec, nil
}

// Announce speaks the arrival line for a bus and returns the text.
func (s *Service) Announce(busID string, lang bus.Language) (string, error) {
	rec, ok := s.registry.Get(busID)
	if !ok {
		return "", fmt.Errorf("%w: %q", registry.ErrUnknownBus, busID)
	}
	if !lang.Valid() {
		lang = s.Language()
	}
	text := AnnouncementText(rec, lang)
	s.speaker.Speak(text, lang.Locale())
	return text, nil
}

// AnnouncementText builds the spoken arrival line for rec.
func AnnouncementText(rec bus.Record, lang bus.Language) string {
	eta := 10
	if rec.EtaMins != nil && *rec.EtaMins > 0 {
		eta = *rec.EtaMins
	}
	return fmt.Sprintf("%s. %s is arriving in %d minutes with %d seats available.",
		AppName(lang), rec.Route, eta, rec.SeatsRemaining)
}

func AppName(lang bus.Language) string {
	if lang == bus.LangHindi {
		return "शाहपुरा ग्रामीण बस"
	}
	return "GraminBus Shahpura"
}

func (s *Service) Language() bus.Language {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// LoadLanguage restores the persisted language preference, defaulting to English.
func (s *Service) LoadLanguage(ctx context.Context) bus.Language {
	var lang bus.Language
	if err := store.GetJSON(ctx, s.store, store.KeyLanguage, &lang); err != nil || !lang.Valid() {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("persisted language unreadable", zap.Error(err))
		}
		lang = bus.LangEnglish
	}
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
	return lang
}

func (s *Service) SetLanguage(ctx context.Context, lang bus.Language) error {
	if !lang.Valid() {
		return fmt.Errorf("unsupported language %q", lang)
	}
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()

	if err := store.PutJSON(ctx, s.store, store.KeyLanguage, lang); err != nil {
		s.metrics.PersistFailed(store.KeyLanguage)
		s.log.Warn("persist language failed", zap.Error(err))
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.degraded = false
		s.mu.Unlock()
	}
	s.emit(EventLanguageChanged)
	return nil
}

func (s *Service) Buses() []bus.Record { return s.registry.List() }

func (s *Service) Bus(busID string) (bus.Record, bool) { return s.registry.Get(busID) }

func (s *Service) Stops() []bus.Stop {
	out := make([]bus.Stop, len(s.stops))
	copy(out, s.stops)
	return out
}

func (s *Service) Pending() []bus.PendingUpdate { return s.queue.Pending() }

// Close stops background work started by the service. Updates applied after
// Close still reach the registry and queue but no longer open a sync window.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopPositionPublisher()
	s.blipWG.Wait()

	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
}
