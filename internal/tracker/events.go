package tracker

import (
	"time"

	"graminbus/internal/bus"
	"graminbus/internal/queue"
)

type EventKind string

const (
	EventBusListUpdated      EventKind = "bus-list-updated"
	EventQueueLengthChanged  EventKind = "queue-length-changed"
	EventConnectivityChanged EventKind = "connectivity-changed"
	EventSyncStateChanged    EventKind = "sync-state-changed"
	EventLanguageChanged     EventKind = "language-changed"
)

// Event carries a full snapshot so subscribers never need to query back.
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot Snapshot  `json:"snapshot"`
}

type FlushStatus struct {
	Outcome   queue.Outcome `json:"outcome"`
	Delivered int           `json:"delivered"`
	Remaining int           `json:"remaining"`
	At        time.Time     `json:"at"`
	Error     string        `json:"error,omitempty"`
}

// Status is the observable state of the sync core.
type Status struct {
	Online    bool         `json:"online"`
	Syncing   bool         `json:"syncing"`
	Pending   int          `json:"pendingUpdates"`
	LastFlush *FlushStatus `json:"lastFlush,omitempty"`
	Degraded  bool         `json:"degraded"`
	Language  bus.Language `json:"language"`
}

type Snapshot struct {
	Status
	Buses []bus.Record `json:"buses"`
}

func (s *Service) Status() Status {
	s.mu.Lock()
	blipping := s.blips > 0
	lang := s.lang
	degraded := s.degraded
	s.mu.Unlock()

	st := Status{
		Online:   s.monitor.Online(),
		Syncing:  blipping || s.queue.Syncing(),
		Pending:  s.queue.Len(),
		Degraded: degraded || s.registry.Degraded() || s.queue.Degraded(),
		Language: lang,
	}
	if last := s.queue.LastResult(); last.Outcome != "" {
		fs := &FlushStatus{
			Outcome:   last.Outcome,
			Delivered: last.Delivered,
			Remaining: last.Remaining,
			At:        last.At,
		}
		if last.Err != nil {
			fs.Error = last.Err.Error()
		}
		st.LastFlush = fs
	}
	return st
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{Status: s.Status(), Buses: s.registry.List()}
}

// Subscribe returns a channel of events. Events are dropped for a subscriber
// whose buffer is full. The returned func unsubscribes and closes the channel.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once bool
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if once {
			return
		}
		once = true
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Service) emit(kind EventKind) {
	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()
	if n == 0 {
		return
	}

	ev := Event{Kind: kind, Snapshot: s.Snapshot()}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
