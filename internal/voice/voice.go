package voice

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"graminbus/internal/logging"
)

// Speaker reads text aloud. Speak returns immediately; a new utterance
// cancels the one in progress.
type Speaker interface {
	Speak(text, locale string)
}

type Nop struct{}

func (Nop) Speak(string, string) {}

// RunFunc executes one utterance and blocks until it finishes or ctx is done.
type RunFunc func(ctx context.Context, text, locale string) error

// CommandSpeaker speaks through an external TTS command such as espeak-ng.
type CommandSpeaker struct {
	run RunFunc
	log *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	last   chan struct{} // closed when the latest utterance has exited
	wg     sync.WaitGroup
}

const DefaultCommand = "espeak-ng"

// NewCommandSpeaker runs command with "-v <voice> <text>" per utterance.
func NewCommandSpeaker(command string, log *zap.Logger) *CommandSpeaker {
	if command == "" {
		command = DefaultCommand
	}
	fields := strings.Fields(command)
	run := func(ctx context.Context, text, locale string) error {
		args := append(append([]string{}, fields[1:]...), "-v", voiceFor(locale), text)
		return exec.CommandContext(ctx, fields[0], args...).Run()
	}
	return newSpeaker(run, log)
}

func newSpeaker(run RunFunc, log *zap.Logger) *CommandSpeaker {
	return &CommandSpeaker{run: run, log: logging.OrNop(log).Named("voice")}
}

func (s *CommandSpeaker) Speak(text, locale string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	prev := s.last
	s.last = done
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(done)
		defer cancel()
		// The previous command must have exited before this one starts.
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.run(ctx, text, locale); err != nil && ctx.Err() == nil {
			s.log.Warn("speech failed", zap.String("locale", locale), zap.Error(err))
		}
	}()
}

// Stop cancels any utterance in progress and waits for it to end.
func (s *CommandSpeaker) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// voiceFor maps a BCP 47 locale to an espeak-ng voice name.
func voiceFor(locale string) string {
	switch strings.ToLower(locale) {
	case "hi-in", "hi":
		return "hi"
	default:
		return "en-us"
	}
}
