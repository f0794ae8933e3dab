// Package voice coordinates the recording and transcription sessions under the capability verdict.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/qlip/internal/capability"
	"github.com/rbright/qlip/internal/recording"
	"github.com/rbright/qlip/internal/transcription"
)

// DefaultTranscriptionDelay separates recording acquisition from engine start in combined mode.
const DefaultTranscriptionDelay = 500 * time.Millisecond

var (
	// ErrConcurrentModeUnsupported rejects combined operation on hosts that cannot share capture.
	ErrConcurrentModeUnsupported = errors.New("device does not support simultaneous recording and transcription")
	// ErrCapabilityPending rejects gated operations until the capability probe resolves.
	ErrCapabilityPending = errors.New("capability check in progress")
)

// Mode is derived from the live session states.
type Mode string

const (
	ModeIdle             Mode = "idle"
	ModeRecordingOnly    Mode = "recording_only"
	ModeTranscribingOnly Mode = "transcribing_only"
	ModeCombined         Mode = "combined"
)

// Recorder is the audio recording session consumed by the coordinator.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Clear() error
	Status() recording.Status
	Changes() <-chan struct{}
}

// Transcriber is the transcription session consumed by the coordinator.
type Transcriber interface {
	StartListening(ctx context.Context) error
	StopListening() error
	ResetTranscript()
	ClearNewTranscriptSeq(seq uint64) bool
	Status() transcription.Status
	Changes() <-chan struct{}
	Supported() bool
}

// Prober resolves the capability verdict.
type Prober interface {
	Probe(ctx context.Context) capability.State
	State() capability.State
	Abort()
}

// Snapshot is everything the presentation layer renders.
type Snapshot struct {
	Capability    capability.State
	Checking      bool
	Mode          Mode
	Active        bool
	StartPending  bool
	Recording     recording.Status
	Transcription transcription.Status
	Error         string
}

// Options tunes the coordinator.
type Options struct {
	TranscriptionDelay time.Duration
	Logger             *slog.Logger
}

// Coordinator is the public operation set over both sessions.
type Coordinator struct {
	recorder    Recorder
	transcriber Transcriber
	prober      Prober
	delay       time.Duration
	logger      *slog.Logger

	// op serializes operations and the delayed transcription start.
	op sync.Mutex
	// pub orders broadcasts so a subscriber never receives an older snapshot last.
	pub sync.Mutex

	mu         sync.Mutex
	base       context.Context
	gateErr    string
	pending    *time.Timer
	pendingGen uint64
	subs       map[int]chan Snapshot
	nextSub    int
	lastErr    string
}

// New constructs a coordinator. Run must be called to resolve the capability verdict.
func New(recorder Recorder, transcriber Transcriber, prober Prober, opts Options) *Coordinator {
	if opts.TranscriptionDelay <= 0 {
		opts.TranscriptionDelay = DefaultTranscriptionDelay
	}
	return &Coordinator{
		recorder:    recorder,
		transcriber: transcriber,
		prober:      prober,
		delay:       opts.TranscriptionDelay,
		logger:      opts.Logger,
		base:        context.Background(),
		subs:        make(map[int]chan Snapshot),
	}
}

// Run probes capability, then rebroadcasts session changes until ctx is done.
// On return both sessions are stopped and any in-flight probe is aborted.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()

	var probes sync.WaitGroup
	probe := func() {
		probes.Add(1)
		go func() {
			defer probes.Done()
			c.prober.Probe(ctx)
			c.publish()
		}()
	}

	supported := c.transcriber.Supported()
	probe()
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			probes.Wait()
			return nil
		case <-c.recorder.Changes():
			c.publish()
		case <-c.transcriber.Changes():
			if now := c.transcriber.Supported(); now != supported {
				supported = now
				probe()
			}
			c.publish()
		}
	}
}

func (c *Coordinator) teardown() {
	c.prober.Abort()

	c.op.Lock()
	defer c.op.Unlock()

	c.cancelPending()
	if err := c.recorder.Stop(); err != nil {
		c.warn("stop recording on shutdown", err)
	}
	if err := c.transcriber.StopListening(); err != nil {
		c.warn("stop transcription on shutdown", err)
	}
	c.publish()
}

// Snapshot returns the current derived state.
func (c *Coordinator) Snapshot() Snapshot {
	rec := c.recorder.Status()
	tr := c.transcriber.Status()
	state := c.prober.State()

	c.mu.Lock()
	gate := c.gateErr
	pending := c.pending != nil
	c.mu.Unlock()

	recordingActive := rec.State.Active()
	transcribing := tr.Listening || tr.Active
	return Snapshot{
		Capability:    state,
		Checking:      isPending(state),
		Mode:          modeOf(recordingActive, transcribing),
		Active:        recordingActive || transcribing,
		StartPending:  pending,
		Recording:     rec,
		Transcription: tr,
		Error:         joinErrors(gate, rec.Err, tr.Err),
	}
}

// Subscribe returns a channel receiving the latest snapshot after every change.
// Slow subscribers only ever see the most recent snapshot.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// StartRecording resets the transcript and starts recording alone.
func (c *Coordinator) StartRecording(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	defer c.publish()

	c.setGate(nil)
	if err := c.gateIndividual(c.transcribing()); err != nil {
		return c.setGate(err)
	}

	c.transcriber.ResetTranscript()
	return c.recorder.Start(ctx)
}

// StopRecording stops the recording session.
func (c *Coordinator) StopRecording() error {
	c.op.Lock()
	defer c.op.Unlock()
	defer c.publish()

	c.setGate(nil)
	return c.recorder.Stop()
}

// StartTranscription resets the transcript and starts transcription alone.
func (c *Coordinator) StartTranscription(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	defer c.publish()

	c.setGate(nil)
	if err := c.gateIndividual(c.recorder.Status().State.Active()); err != nil {
		return c.setGate(err)
	}

	c.transcriber.ResetTranscript()
	return c.transcriber.StartListening(ctx)
}

// StopTranscription cancels a delayed start and stops the transcription session.
func (c *Coordinator) StopTranscription() error {
	c.op.Lock()
	defer c.op.Unlock()
	defer c.publish()

	c.setGate(nil)
	c.cancelPending()
	return c.transcriber.StopListening()
}

// StartBoth starts recording, then transcription after the configured delay.
func (c *Coordinator) StartBoth(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	defer c.publish()

	c.setGate(nil)
	switch state := c.prober.State(); {
	case isPending(state):
		return c.setGate(ErrCapabilityPending)
	case state != capability.StateConcurrentSupported:
		return c.setGate(ErrConcurrentModeUnsupported)
	}

	c.transcriber.ResetTranscript()
	if err := c.recorder.Start(ctx); err != nil && !errors.Is(err, recording.ErrAlreadyRecording) {
		return err
	}
	c.schedule()
	return nil
}

// StopBoth cancels a delayed start and stops both sessions. Calling it again is harmless.
func (c *Coordinator) StopBoth() error {
	c.op.Lock()
	defer c.op.Unlock()
	defer c.publish()

	c.setGate(nil)
	c.cancelPending()
	recErr := c.recorder.Stop()
	trErr := c.transcriber.StopListening()
	return errors.Join(recErr, trErr)
}

// ClearAll clears the recording, resets the transcript and drops the gate error.
// The audio store is left to the caller.
func (c *Coordinator) ClearAll() error {
	c.op.Lock()
	defer c.op.Unlock()
	defer c.publish()

	c.setGate(nil)
	c.cancelPending()
	err := c.recorder.Clear()
	c.transcriber.ResetTranscript()
	return err
}

// ClearNewTranscriptSeq marks the pending transcript delta numbered seq consumed.
// It reports false when that delta is no longer pending.
func (c *Coordinator) ClearNewTranscriptSeq(seq uint64) bool {
	if !c.transcriber.ClearNewTranscriptSeq(seq) {
		return false
	}
	c.publish()
	return true
}

func (c *Coordinator) gateIndividual(otherActive bool) error {
	state := c.prober.State()
	if isPending(state) {
		return ErrCapabilityPending
	}
	if state == capability.StateSequentialOnly && otherActive {
		return ErrConcurrentModeUnsupported
	}
	return nil
}

func (c *Coordinator) transcribing() bool {
	c.mu.Lock()
	pending := c.pending != nil
	c.mu.Unlock()
	status := c.transcriber.Status()
	return pending || status.Active || status.Listening
}

// schedule requires c.op to be held.
func (c *Coordinator) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		c.pending.Stop()
	}
	c.pendingGen++
	gen := c.pendingGen
	c.pending = time.AfterFunc(c.delay, func() { c.startDelayed(gen) })
}

func (c *Coordinator) startDelayed(gen uint64) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.pending == nil || c.pendingGen != gen {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	ctx := c.base
	c.mu.Unlock()

	if err := c.transcriber.StartListening(ctx); err != nil {
		c.warn("delayed transcription start", err)
	}
	c.publish()
}

// cancelPending requires c.op to be held.
func (c *Coordinator) cancelPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	c.pending.Stop()
	c.pending = nil
	c.pendingGen++
}

// setGate records err as the gate error (nil clears it) and returns it.
func (c *Coordinator) setGate(err error) error {
	c.mu.Lock()
	if err == nil {
		c.gateErr = ""
	} else {
		c.gateErr = err.Error()
	}
	c.mu.Unlock()
	return err
}

func (c *Coordinator) publish() {
	c.pub.Lock()
	defer c.pub.Unlock()

	snapshot := c.Snapshot()

	c.mu.Lock()
	changed := snapshot.Error != c.lastErr
	c.lastErr = snapshot.Error
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
	c.mu.Unlock()

	if changed && snapshot.Error != "" && c.logger != nil {
		c.logger.Warn("voice input error", "error", snapshot.Error, "mode", string(snapshot.Mode))
	}
}

func (c *Coordinator) warn(message string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(message, "error", err.Error())
}

func isPending(state capability.State) bool {
	return state == capability.StateUnknown || state == capability.StateChecking || state == ""
}

func modeOf(recordingActive bool, listening bool) Mode {
	switch {
	case recordingActive && listening:
		return ModeCombined
	case recordingActive:
		return ModeRecordingOnly
	case listening:
		return ModeTranscribingOnly
	default:
		return ModeIdle
	}
}

func joinErrors(messages ...string) string {
	parts := make([]string, 0, len(messages))
	for _, message := range messages {
		if strings.TrimSpace(message) != "" {
			parts = append(parts, message)
		}
	}
	return strings.Join(parts, "; ")
}
