package capability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rbright/qlip/internal/media"
	"github.com/rbright/qlip/internal/transcription"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		Settle:   time.Millisecond,
		Observe:  20 * time.Millisecond,
		Platform: "linux",
	}
}

func TestProbeConcurrentSupported(t *testing.T) {
	devices := &fakeDevices{}
	engines := &fakeEngines{supported: true}
	probe := New(devices, engines, fastOptions())

	require.Equal(t, StateUnknown, probe.State())
	require.Equal(t, StateConcurrentSupported, probe.Probe(context.Background()))
	require.Equal(t, StateConcurrentSupported, probe.State())
	require.False(t, probe.Checking())

	devices.requireAllReleased(t)
	require.True(t, engines.allStopped())
}

func TestProbeUnsupportedSkipsTrial(t *testing.T) {
	devices := &fakeDevices{}
	probe := New(devices, &fakeEngines{supported: false}, fastOptions())

	require.Equal(t, StateSequentialOnly, probe.Probe(context.Background()))
	require.Zero(t, devices.acquireCount())
}

func TestProbeAudioContentionIsSequential(t *testing.T) {
	devices := &fakeDevices{}
	engines := &fakeEngines{
		supported: true,
		script: []transcription.Event{
			{Kind: transcription.EventStarted},
			{Kind: transcription.EventError, Code: transcription.CodeAudioCapture},
		},
	}
	probe := New(devices, engines, fastOptions())

	require.Equal(t, StateSequentialOnly, probe.Probe(context.Background()))
	devices.requireAllReleased(t)
	require.True(t, engines.allStopped())
}

func TestProbeNoStartSignalIsSequential(t *testing.T) {
	devices := &fakeDevices{}
	engines := &fakeEngines{supported: true, script: []transcription.Event{}}
	probe := New(devices, engines, fastOptions())

	require.Equal(t, StateSequentialOnly, probe.Probe(context.Background()))
	devices.requireAllReleased(t)
}

func TestProbeAcquireFailureIsSequential(t *testing.T) {
	devices := &fakeDevices{acquireErr: media.ErrPermissionDenied}
	probe := New(devices, &fakeEngines{supported: true}, fastOptions())

	require.Equal(t, StateSequentialOnly, probe.Probe(context.Background()))
}

func TestProbePlatformHeuristicDowngrades(t *testing.T) {
	devices := &fakeDevices{}
	opts := fastOptions()
	opts.Platform = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)"
	probe := New(devices, &fakeEngines{supported: true}, opts)

	require.Equal(t, StateSequentialOnly, probe.Probe(context.Background()))
	require.Zero(t, devices.acquireCount())
}

func TestProbeIsCachedUntilBaselineChanges(t *testing.T) {
	devices := &fakeDevices{}
	engines := &fakeEngines{supported: false}
	probe := New(devices, engines, fastOptions())

	require.Equal(t, StateSequentialOnly, probe.Probe(context.Background()))
	require.Equal(t, StateSequentialOnly, probe.Probe(context.Background()))

	engines.setSupported(true)
	require.Equal(t, StateConcurrentSupported, probe.Probe(context.Background()))
	require.Equal(t, StateConcurrentSupported, probe.Probe(context.Background()))
	require.Equal(t, 1, devices.acquireCount())
}

func TestProbeConcurrentCallersShareOneTrial(t *testing.T) {
	devices := &fakeDevices{}
	probe := New(devices, &fakeEngines{supported: true}, fastOptions())

	var wg sync.WaitGroup
	results := make([]State, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = probe.Probe(context.Background())
		}(i)
	}
	wg.Wait()

	for _, state := range results {
		require.Equal(t, StateConcurrentSupported, state)
	}
	require.Equal(t, 1, devices.acquireCount())
}

func TestProbeAbortReleasesTrialDevice(t *testing.T) {
	devices := &fakeDevices{}
	opts := fastOptions()
	opts.Settle = time.Hour
	probe := New(devices, &fakeEngines{supported: true}, opts)

	result := make(chan State, 1)
	go func() { result <- probe.Probe(context.Background()) }()

	require.Eventually(t, func() bool {
		return devices.acquireCount() == 1 && probe.Checking()
	}, time.Second, time.Millisecond)

	probe.Abort()

	select {
	case state := <-result:
		require.Equal(t, StateSequentialOnly, state)
	case <-time.After(time.Second):
		t.Fatal("probe did not return after abort")
	}
	devices.requireAllReleased(t)
}

func TestMatchPlatform(t *testing.T) {
	tests := []struct {
		platform string
		want     bool
	}{
		{platform: "linux", want: false},
		{platform: "darwin", want: false},
		{platform: "android", want: true},
		{platform: "ios", want: true},
		{platform: "Opera Mini/8.0", want: true},
	}

	for _, tc := range tests {
		_, ok := matchPlatform(tc.platform, DefaultSequentialPlatforms)
		require.Equal(t, tc.want, ok, tc.platform)
	}
}

type fakeDevices struct {
	mu         sync.Mutex
	acquireErr error
	devices    []*fakeDevice
}

func (f *fakeDevices) Acquire(context.Context, media.Constraints) (media.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	device := &fakeDevice{}
	f.devices = append(f.devices, device)
	return device, nil
}

func (f *fakeDevices) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

func (f *fakeDevices) requireAllReleased(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, device := range f.devices {
		require.True(t, device.isReleased())
		if device.recorder != nil {
			require.True(t, device.recorder.isStopped())
		}
	}
}

type fakeDevice struct {
	mu       sync.Mutex
	released bool
	recorder *fakeRecorder
}

func (d *fakeDevice) ID() string { return "trial" }

func (d *fakeDevice) Record(context.Context) (media.Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recorder = &fakeRecorder{chunks: make(chan []byte)}
	return d.recorder, nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	return nil
}

func (d *fakeDevice) isReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

type fakeRecorder struct {
	chunks  chan []byte
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func (r *fakeRecorder) Chunks() <-chan []byte { return r.chunks }

func (r *fakeRecorder) Stop() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.chunks)
	})
	return nil
}

func (r *fakeRecorder) Finalize(chunks [][]byte) (media.Artifact, error) {
	return media.Artifact{}, nil
}

func (r *fakeRecorder) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

type fakeEngines struct {
	mu        sync.Mutex
	supported bool
	// script replaces the default started signal when non-nil.
	script  []transcription.Event
	engines []*fakeEngine
}

func (f *fakeEngines) Supported() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supported
}

func (f *fakeEngines) setSupported(supported bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supported = supported
}

func (f *fakeEngines) NewEngine() (transcription.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.script
	if script == nil {
		script = []transcription.Event{{Kind: transcription.EventStarted}}
	}
	engine := &fakeEngine{events: make(chan transcription.Event, 8), script: script}
	f.engines = append(f.engines, engine)
	return engine, nil
}

func (f *fakeEngines) allStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, engine := range f.engines {
		if !engine.isStopped() {
			return false
		}
	}
	return true
}

type fakeEngine struct {
	events  chan transcription.Event
	script  []transcription.Event
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func (e *fakeEngine) Start(context.Context) error {
	for _, event := range e.script {
		e.events <- event
	}
	return nil
}

func (e *fakeEngine) Stop() error {
	e.once.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		close(e.events)
	})
	return nil
}

func (e *fakeEngine) Events() <-chan transcription.Event { return e.events }

func (e *fakeEngine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}
