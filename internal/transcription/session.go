package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/qlip/internal/transcript"
)

// DeltaPolicy controls what happens when a finalized delta arrives before the previous one is consumed.
type DeltaPolicy string

const (
	// PolicyQueue keeps unconsumed deltas in arrival order.
	PolicyQueue DeltaPolicy = "queue"
	// PolicyLastWriteWins overwrites an unconsumed delta with the newer one.
	PolicyLastWriteWins DeltaPolicy = "last_write_wins"
)

// ParseDeltaPolicy validates a configured policy name. Empty selects PolicyQueue.
func ParseDeltaPolicy(raw string) (DeltaPolicy, error) {
	switch DeltaPolicy(strings.TrimSpace(raw)) {
	case "", PolicyQueue:
		return PolicyQueue, nil
	case PolicyLastWriteWins:
		return PolicyLastWriteWins, nil
	default:
		return "", fmt.Errorf("unknown delta policy %q", raw)
	}
}

// Status is a point-in-time copy of the transcription state.
//
// Active is true while an engine instance is held, from StartListening until the
// engine stops, including the window before it reports started. Listening is
// only true once the engine has reported started.
//
// NewTranscript is the oldest unconsumed delta and NewTranscriptSeq its sequence number.
// Sequence numbers only grow, so a consumer can skip deltas it already applied.
type Status struct {
	Active           bool
	Listening        bool
	Transcript       string
	Interim          string
	NewTranscript    string
	NewTranscriptSeq uint64
	Pending          int
	Err              string
}

// Options tunes session behavior.
type Options struct {
	Policy DeltaPolicy
	Logger *slog.Logger
}

type delta struct {
	seq  uint64
	text string
}

// Session owns at most one engine instance at a time.
type Session struct {
	factory Factory
	policy  DeltaPolicy
	logger  *slog.Logger

	op sync.Mutex

	mu         sync.Mutex
	listening  bool
	transcript string
	interim    string
	deltas     []delta
	seq        uint64
	errMsg     string
	engine     Engine
	pumpDone   chan struct{}

	changes chan struct{}
}

// New constructs an idle transcription session.
func New(factory Factory, opts Options) *Session {
	if opts.Policy == "" {
		opts.Policy = PolicyQueue
	}
	return &Session{
		factory: factory,
		policy:  opts.Policy,
		logger:  opts.Logger,
		changes: make(chan struct{}, 1),
	}
}

// Supported reports whether the host has a usable recognition engine.
func (s *Session) Supported() bool {
	return s.factory != nil && s.factory.Supported()
}

// AvailabilityChanged signals watchers that Supported may report a new value.
func (s *Session) AvailabilityChanged() {
	s.notify()
}

// Changes delivers a coalesced signal whenever Status may have changed.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Status returns the current transcription snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Active:     s.engine != nil,
		Listening:  s.listening,
		Transcript: s.transcript,
		Interim:    s.interim,
		Pending:    len(s.deltas),
		Err:        s.errMsg,
	}
	if len(s.deltas) > 0 {
		status.NewTranscript = s.deltas[0].text
		status.NewTranscriptSeq = s.deltas[0].seq
	}
	return status
}

// StartListening creates an engine and starts it. It is a no-op while an engine is active.
func (s *Session) StartListening(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.engine != nil {
		s.mu.Unlock()
		return nil
	}
	s.errMsg = ""
	s.mu.Unlock()
	s.notify()

	if !s.Supported() {
		return s.fail(fmt.Errorf("%w: %w", ErrEngine, ErrUnsupported))
	}

	engine, err := s.factory.NewEngine()
	if err != nil {
		return s.fail(fmt.Errorf("%w: create engine: %v", ErrEngine, err))
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.engine = engine
	s.pumpDone = done
	s.mu.Unlock()
	go s.pump(engine, done)

	if err := engine.Start(ctx); err != nil {
		s.mu.Lock()
		s.engine = nil
		s.pumpDone = nil
		s.mu.Unlock()
		_ = engine.Stop()
		<-done
		return s.fail(fmt.Errorf("%w: start engine: %v", ErrEngine, err))
	}

	if s.logger != nil {
		s.logger.Info("transcription started", "policy", string(s.policy))
	}
	return nil
}

// StopListening stops the active engine and waits for its events to drain.
func (s *Session) StopListening() error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	engine := s.engine
	done := s.pumpDone
	s.engine = nil
	s.pumpDone = nil
	s.mu.Unlock()

	if engine == nil {
		return nil
	}

	stopErr := engine.Stop()
	<-done

	s.mu.Lock()
	s.listening = false
	s.interim = ""
	s.mu.Unlock()
	s.notify()

	if stopErr != nil {
		return s.fail(fmt.Errorf("%w: stop engine: %v", ErrEngine, stopErr))
	}
	if s.logger != nil {
		s.logger.Info("transcription stopped")
	}
	return nil
}

// ResetTranscript clears the accumulated, interim and pending text.
func (s *Session) ResetTranscript() {
	s.mu.Lock()
	s.transcript = ""
	s.interim = ""
	s.deltas = nil
	s.mu.Unlock()
	s.notify()
}

// ClearNewTranscriptSeq marks the pending delta consumed only if it is still the one
// numbered seq. It reports whether a delta was removed. A delta replaced or reset
// since the caller read it stays pending.
func (s *Session) ClearNewTranscriptSeq(seq uint64) bool {
	s.mu.Lock()
	if len(s.deltas) == 0 || s.deltas[0].seq != seq {
		s.mu.Unlock()
		return false
	}
	s.deltas = s.deltas[1:]
	if len(s.deltas) == 0 {
		s.deltas = nil
	}
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Session) pump(engine Engine, done chan<- struct{}) {
	defer close(done)
	for event := range engine.Events() {
		s.apply(event)
	}

	s.mu.Lock()
	if s.engine == engine {
		s.engine = nil
		s.pumpDone = nil
	}
	s.listening = false
	s.mu.Unlock()
	s.notify()
}

func (s *Session) apply(event Event) {
	s.mu.Lock()
	switch event.Kind {
	case EventStarted:
		s.listening = true
	case EventInterim:
		s.interim = event.Text
	case EventFinal:
		s.interim = ""
		text := strings.TrimSpace(event.Text)
		if text == "" {
			break
		}
		s.transcript = transcript.Merge(s.transcript, text)
		s.seq++
		next := delta{seq: s.seq, text: text}
		if s.policy == PolicyLastWriteWins {
			s.deltas = []delta{next}
		} else {
			s.deltas = append(s.deltas, next)
		}
	case EventStopped:
		s.listening = false
		s.interim = ""
	case EventError:
		err := event.Err()
		s.errMsg = err.Error()
		if s.logger != nil {
			s.logger.Error("transcription engine error", "code", event.Code, "error", err.Error())
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.errMsg = err.Error()
	s.listening = false
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Error("transcription failed", "error", err.Error())
	}
	s.notify()
	return err
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
