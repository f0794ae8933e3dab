// Package recording owns one capture device at a time and turns its chunks into an audio artifact.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/qlip/internal/fsm"
	"github.com/rbright/qlip/internal/handle"
	"github.com/rbright/qlip/internal/media"
)

// ErrAlreadyRecording indicates Start was called while a device is already held.
var ErrAlreadyRecording = errors.New("recording already in progress")

// Status is a point-in-time copy of the session state.
type Status struct {
	State    fsm.State
	Artifact *media.Artifact
	Playback handle.Handle
	Elapsed  int
	Err      string
}

// Options tunes session behavior. Zero values fall back to defaults.
type Options struct {
	Constraints media.Constraints
	Tick        time.Duration
	Logger      *slog.Logger
}

// Session is the audio recording lifecycle: start, stop, clear.
type Session struct {
	provider    media.DeviceProvider
	registry    *handle.Registry
	constraints media.Constraints
	tick        time.Duration
	logger      *slog.Logger

	// op serializes Start/Stop/Clear so a device is never acquired twice.
	op sync.Mutex

	mu       sync.Mutex
	state    fsm.State
	chunks   [][]byte
	artifact *media.Artifact
	playback handle.Handle
	elapsed  int
	errMsg   string

	device      media.Device
	recorder    media.Recorder
	collectDone chan struct{}
	tickStop    chan struct{}
	tickDone    chan struct{}

	changes chan struct{}
}

// New constructs an idle recording session.
func New(provider media.DeviceProvider, registry *handle.Registry, opts Options) *Session {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Constraints == (media.Constraints{}) {
		opts.Constraints = media.DefaultConstraints()
	}
	if registry == nil {
		registry = handle.NewRegistry()
	}
	return &Session{
		provider:    provider,
		registry:    registry,
		constraints: opts.Constraints,
		tick:        opts.Tick,
		logger:      opts.Logger,
		state:       fsm.StateIdle,
		changes:     make(chan struct{}, 1),
	}
}

// Changes delivers a coalesced signal whenever Status may have changed.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Status returns the current session snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:    s.state,
		Playback: s.playback,
		Elapsed:  s.elapsed,
		Err:      s.errMsg,
	}
	if s.artifact != nil {
		artifact := s.artifact.Clone()
		status.Artifact = &artifact
	}
	return status
}

// Start acquires a capture device and begins accumulating chunks.
func (s *Session) Start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state == fsm.StateRecording {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	previous := s.playback
	s.playback = ""
	s.artifact = nil
	s.chunks = nil
	s.errMsg = ""
	s.mu.Unlock()
	s.registry.Revoke(previous)
	s.notify()

	device, err := s.provider.Acquire(ctx, s.constraints)
	if err != nil {
		return s.fail("Microphone access error", err)
	}
	recorder, err := device.Record(ctx)
	if err != nil {
		if releaseErr := device.Release(); releaseErr != nil {
			s.logWarn("release device after recorder failure", releaseErr)
		}
		return s.fail("Microphone access error", err)
	}

	collectDone := make(chan struct{})
	tickStop := make(chan struct{})
	tickDone := make(chan struct{})

	s.mu.Lock()
	next, err := fsm.Transition(s.state, fsm.EventStart)
	if err != nil {
		s.mu.Unlock()
		_ = recorder.Stop()
		_ = device.Release()
		return s.fail("Recording error", err)
	}
	s.state = next
	s.elapsed = 0
	s.device = device
	s.recorder = recorder
	s.collectDone = collectDone
	s.tickStop = tickStop
	s.tickDone = tickDone
	s.mu.Unlock()

	go s.collect(recorder.Chunks(), collectDone)
	go s.runTicker(tickStop, tickDone)

	if s.logger != nil {
		s.logger.Info("recording started", "device", device.ID())
	}
	s.notify()
	return nil
}

// Stop finalizes the active recording. It is a no-op unless recording.
func (s *Session) Stop() error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.stopLocked()
}

// Clear stops any active recording, then discards the artifact and its playback handle.
func (s *Session) Clear() error {
	s.op.Lock()
	defer s.op.Unlock()

	stopErr := s.stopLocked()

	s.mu.Lock()
	playback := s.playback
	s.playback = ""
	s.artifact = nil
	s.chunks = nil
	s.elapsed = 0
	s.errMsg = ""
	if next, err := fsm.Transition(s.state, fsm.EventClear); err == nil {
		s.state = next
	}
	s.mu.Unlock()

	s.registry.Revoke(playback)
	s.notify()
	return stopErr
}

// stopLocked requires s.op to be held.
func (s *Session) stopLocked() error {
	s.mu.Lock()
	if s.state != fsm.StateRecording {
		s.mu.Unlock()
		return nil
	}
	device := s.device
	recorder := s.recorder
	collectDone := s.collectDone
	tickStop := s.tickStop
	tickDone := s.tickDone
	s.mu.Unlock()

	stopErr := recorder.Stop()
	<-collectDone
	close(tickStop)
	<-tickDone

	s.mu.Lock()
	chunks := s.chunks
	s.chunks = nil
	s.device = nil
	s.recorder = nil
	s.mu.Unlock()

	artifact, finalizeErr := recorder.Finalize(chunks)
	if releaseErr := device.Release(); releaseErr != nil {
		s.logWarn("release device", releaseErr)
	}
	if stopErr != nil {
		s.logWarn("stop recorder", stopErr)
	}
	if finalizeErr != nil {
		return s.fail("Recording error", fmt.Errorf("finalize recording: %w", finalizeErr))
	}

	playback := s.registry.Create(artifact)

	s.mu.Lock()
	next, err := fsm.Transition(s.state, fsm.EventStop)
	if err != nil {
		s.mu.Unlock()
		s.registry.Revoke(playback)
		return s.fail("Recording error", err)
	}
	s.state = next
	s.artifact = &artifact
	s.playback = playback
	elapsed := s.elapsed
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("recording stopped", "bytes", artifact.Size(), "elapsed_s", elapsed)
	}
	s.notify()
	return nil
}

// collect appends recorder fragments until the chunk channel closes.
func (s *Session) collect(chunks <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		buf := make([]byte, len(chunk))
		copy(buf, chunk)

		s.mu.Lock()
		s.chunks = append(s.chunks, buf)
		s.mu.Unlock()
	}
}

// runTicker advances the elapsed-seconds counter once per tick.
func (s *Session) runTicker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.elapsed++
			s.mu.Unlock()
			s.notify()
		}
	}
}

// fail records err as the session error and moves to the failed state.
func (s *Session) fail(prefix string, err error) error {
	s.mu.Lock()
	next, _ := fsm.Transition(s.state, fsm.EventFail)
	s.state = next
	s.artifact = nil
	s.chunks = nil
	s.errMsg = fmt.Sprintf("%s: %v", prefix, err)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Error("recording failed", "error", err.Error())
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

func (s *Session) logWarn(message string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(message, "error", err.Error())
}
