package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeltaConsumeThenNextDelta(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{})

	require.NoError(t, session.StartListening(context.Background()))
	waitFor(t, session, func(s Status) bool { return s.Listening })

	engine := factory.last()
	engine.emit(Event{Kind: EventFinal, Text: "hello"})
	waitFor(t, session, func(s Status) bool { return s.NewTranscript == "hello" })

	require.True(t, session.ClearNewTranscriptSeq(session.Status().NewTranscriptSeq))
	status := session.Status()
	require.Empty(t, status.NewTranscript)
	require.Zero(t, status.Pending)
	require.Equal(t, "hello", status.Transcript)

	require.False(t, session.ClearNewTranscriptSeq(0))
	require.Equal(t, status, session.Status())

	engine.emit(Event{Kind: EventFinal, Text: "world"})
	waitFor(t, session, func(s Status) bool { return s.NewTranscript != "" })

	status = session.Status()
	require.Equal(t, "world", status.NewTranscript)
	require.Equal(t, "hello world", status.Transcript)
	require.NoError(t, session.StopListening())
}

func TestQueuePolicyKeepsDeltasInOrder(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{Policy: PolicyQueue})

	require.NoError(t, session.StartListening(context.Background()))
	engine := factory.last()
	engine.emit(Event{Kind: EventFinal, Text: "one"})
	engine.emit(Event{Kind: EventFinal, Text: "two"})
	waitFor(t, session, func(s Status) bool { return s.Pending == 2 })

	first := session.Status()
	require.Equal(t, "one", first.NewTranscript)

	require.True(t, session.ClearNewTranscriptSeq(first.NewTranscriptSeq))
	second := session.Status()
	require.Equal(t, "two", second.NewTranscript)
	require.Greater(t, second.NewTranscriptSeq, first.NewTranscriptSeq)

	require.True(t, session.ClearNewTranscriptSeq(second.NewTranscriptSeq))
	require.Empty(t, session.Status().NewTranscript)
	require.NoError(t, session.StopListening())
}

func TestLastWriteWinsPolicyOverwritesUnconsumedDelta(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{Policy: PolicyLastWriteWins})

	require.NoError(t, session.StartListening(context.Background()))
	engine := factory.last()
	engine.emit(Event{Kind: EventFinal, Text: "one"})
	engine.emit(Event{Kind: EventFinal, Text: "two"})
	waitFor(t, session, func(s Status) bool { return s.NewTranscript == "two" })

	status := session.Status()
	require.Equal(t, 1, status.Pending)
	require.Equal(t, "one two", status.Transcript)
	require.NoError(t, session.StopListening())
}

func TestInterimReplacedAndClearedOnFinal(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{})

	require.NoError(t, session.StartListening(context.Background()))
	engine := factory.last()
	engine.emit(Event{Kind: EventInterim, Text: "hel"})
	engine.emit(Event{Kind: EventInterim, Text: "hello"})
	waitFor(t, session, func(s Status) bool { return s.Interim == "hello" })

	engine.emit(Event{Kind: EventFinal, Text: "hello"})
	waitFor(t, session, func(s Status) bool { return s.Pending == 1 })
	require.Empty(t, session.Status().Interim)
	require.NoError(t, session.StopListening())
}

func TestResetTranscriptClearsText(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{})

	require.NoError(t, session.StartListening(context.Background()))
	factory.last().emit(Event{Kind: EventFinal, Text: "hello"})
	waitFor(t, session, func(s Status) bool { return s.Pending == 1 })

	session.ResetTranscript()
	status := session.Status()
	require.Empty(t, status.Transcript)
	require.Empty(t, status.Interim)
	require.Empty(t, status.NewTranscript)
	require.True(t, status.Listening)
	require.NoError(t, session.StopListening())
}

func TestClearNewTranscriptSeqKeepsDeltaAfterReset(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{})

	require.NoError(t, session.StartListening(context.Background()))
	factory.last().emit(Event{Kind: EventFinal, Text: "hello"})
	waitFor(t, session, func(s Status) bool { return s.NewTranscript == "hello" })
	stale := session.Status().NewTranscriptSeq

	session.ResetTranscript()
	factory.last().emit(Event{Kind: EventFinal, Text: "world"})
	waitFor(t, session, func(s Status) bool { return s.NewTranscript == "world" })

	require.False(t, session.ClearNewTranscriptSeq(stale))
	status := session.Status()
	require.Equal(t, "world", status.NewTranscript)
	require.Greater(t, status.NewTranscriptSeq, stale)

	require.True(t, session.ClearNewTranscriptSeq(status.NewTranscriptSeq))
	require.Empty(t, session.Status().NewTranscript)
	require.NoError(t, session.StopListening())
}

func TestStatusActiveBeforeEngineReportsStarted(t *testing.T) {
	factory := &fakeFactory{supported: true, silent: true}
	session := New(factory, Options{})

	require.NoError(t, session.StartListening(context.Background()))
	status := session.Status()
	require.True(t, status.Active)
	require.False(t, status.Listening)

	factory.last().emit(Event{Kind: EventStarted})
	waitFor(t, session, func(s Status) bool { return s.Listening })

	require.NoError(t, session.StopListening())
	status = session.Status()
	require.False(t, status.Active)
	require.False(t, status.Listening)
}

func TestEngineErrorRecordedAndClearedOnRestart(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{})

	require.NoError(t, session.StartListening(context.Background()))
	factory.last().emit(Event{Kind: EventError, Code: "network", Message: "offline"})
	waitFor(t, session, func(s Status) bool { return s.Err != "" })
	require.Contains(t, session.Status().Err, "offline")

	require.NoError(t, session.StopListening())
	require.NoError(t, session.StartListening(context.Background()))
	require.Empty(t, session.Status().Err)
	require.NoError(t, session.StopListening())
}

func TestStartListeningUnsupported(t *testing.T) {
	session := New(&fakeFactory{supported: false}, Options{})

	err := session.StartListening(context.Background())
	require.ErrorIs(t, err, ErrEngine)
	require.ErrorIs(t, err, ErrUnsupported)
	require.NotEmpty(t, session.Status().Err)
}

func TestStartFailureStopsEngine(t *testing.T) {
	factory := &fakeFactory{supported: true, startErr: errors.New("busy")}
	session := New(factory, Options{})

	err := session.StartListening(context.Background())
	require.ErrorIs(t, err, ErrEngine)
	require.True(t, factory.last().stopped())
	require.False(t, session.Status().Listening)
}

func TestStopListeningIsIdempotent(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{})

	require.NoError(t, session.StopListening())
	require.NoError(t, session.StartListening(context.Background()))
	require.NoError(t, session.StopListening())
	require.NoError(t, session.StopListening())
	require.False(t, session.Status().Listening)
	require.True(t, factory.last().stopped())
}

func TestStartListeningWhileActiveKeepsEngine(t *testing.T) {
	factory := &fakeFactory{supported: true}
	session := New(factory, Options{})

	require.NoError(t, session.StartListening(context.Background()))
	require.NoError(t, session.StartListening(context.Background()))
	require.Equal(t, 1, factory.count())
	require.NoError(t, session.StopListening())
}

func TestEventErrWrapsContention(t *testing.T) {
	err := Event{Kind: EventError, Code: CodeAudioCapture}.Err()
	require.ErrorIs(t, err, ErrEngine)
	require.ErrorIs(t, err, ErrAudioContention)

	require.NoError(t, Event{Kind: EventFinal, Text: "x"}.Err())
}

func TestParseDeltaPolicy(t *testing.T) {
	policy, err := ParseDeltaPolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyQueue, policy)

	policy, err = ParseDeltaPolicy("last_write_wins")
	require.NoError(t, err)
	require.Equal(t, PolicyLastWriteWins, policy)

	_, err = ParseDeltaPolicy("stack")
	require.Error(t, err)
}

func waitFor(t *testing.T, session *Session, cond func(Status) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(session.Status())
	}, time.Second, time.Millisecond)
}

type fakeFactory struct {
	mu        sync.Mutex
	supported bool
	startErr  error
	silent    bool
	engines   []*fakeEngine
}

func (f *fakeFactory) Supported() bool { return f.supported }

func (f *fakeFactory) NewEngine() (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	engine := &fakeEngine{events: make(chan Event, 16), startErr: f.startErr, silent: f.silent}
	f.engines = append(f.engines, engine)
	return engine, nil
}

func (f *fakeFactory) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[len(f.engines)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

type fakeEngine struct {
	events   chan Event
	startErr error
	silent   bool
	once     sync.Once
	mu       sync.Mutex
	closed   bool
}

func (e *fakeEngine) Start(context.Context) error {
	if e.startErr != nil {
		return e.startErr
	}
	if !e.silent {
		e.events <- Event{Kind: EventStarted}
	}
	return nil
}

func (e *fakeEngine) Stop() error {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.events)
	})
	return nil
}

func (e *fakeEngine) Events() <-chan Event { return e.events }

func (e *fakeEngine) emit(event Event) { e.events <- event }

func (e *fakeEngine) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
