package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	started   []string
	cancelled []string
	begin     chan struct{}
}

func (r *recorder) run(ctx context.Context, text, locale string) error {
	r.mu.Lock()
	r.started = append(r.started, text+"|"+locale)
	r.mu.Unlock()
	r.begin <- struct{}{}
	<-ctx.Done()
	r.mu.Lock()
	r.cancelled = append(r.cancelled, text)
	r.mu.Unlock()
	return ctx.Err()
}

func TestSpeakCancelsPrevious(t *testing.T) {
	rec := &recorder{begin: make(chan struct{}, 4)}
	s := newSpeaker(rec.run, nil)

	s.Speak("first", "en-US")
	<-rec.begin
	s.Speak("second", "hi-IN")
	<-rec.begin

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.cancelled) == 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, []string{"first|en-US", "second|hi-IN"}, rec.started)
	assert.Equal(t, []string{"first"}, rec.cancelled)
	rec.mu.Unlock()

	s.Stop()
	assert.Equal(t, []string{"first", "second"}, rec.cancelled)
}

// slowExit keeps "speaking" for a moment after cancellation, like a TTS
// process that takes time to die.
type slowExit struct {
	active   atomic.Int32
	overlaps atomic.Int32
	mu       sync.Mutex
	spoken   []string
}

func (r *slowExit) run(ctx context.Context, text, _ string) error {
	if r.active.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	defer r.active.Add(-1)
	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	return ctx.Err()
}

func (r *slowExit) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

func TestSpeakWaitsForPreviousToExit(t *testing.T) {
	rec := &slowExit{}
	s := newSpeaker(rec.run, nil)

	s.Speak("first", "en-US")
	require.Eventually(t, func() bool { return len(rec.started()) == 1 }, time.Second, time.Millisecond)

	s.Speak("second", "en-US")
	s.Speak("third", "en-US")
	require.Eventually(t, func() bool { return len(rec.started()) == 2 }, time.Second, time.Millisecond)

	s.Stop()
	assert.Zero(t, rec.overlaps.Load())
	// "second" was superseded before the first command exited.
	assert.Equal(t, []string{"first", "third"}, rec.started())
}

func TestSpeakIgnoresBlank(t *testing.T) {
	rec := &recorder{begin: make(chan struct{}, 1)}
	s := newSpeaker(rec.run, nil)
	s.Speak("   ", "en-US")
	s.Stop()
	assert.Empty(t, rec.started)
}

func TestVoiceFor(t *testing.T) {
	assert.Equal(t, "hi", voiceFor("hi-IN"))
	assert.Equal(t, "en-us", voiceFor("en-US"))
	assert.Equal(t, "en-us", voiceFor(""))
}
