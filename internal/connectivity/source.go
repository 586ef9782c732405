package connectivity

import "sync"

// Source reports reachability changes. Online returns the current value and
// false in known when the source cannot tell.
type Source interface {
	Online() (online bool, known bool)
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// ManualSource is toggled explicitly, from the HTTP API or tests.
type ManualSource struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	next   int
}

func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, subs: make(map[int]func(bool))}
}

func (s *ManualSource) Online() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online, true
}

// Set records the new value and notifies subscribers, even when unchanged.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

func (s *ManualSource) Subscribe(fn func(bool)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
