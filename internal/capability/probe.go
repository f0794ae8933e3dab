// Package capability decides whether recording and transcription can share the host at once.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rbright/qlip/internal/media"
	"github.com/rbright/qlip/internal/transcription"
)

// State is the capability verdict.
type State string

const (
	StateUnknown             State = "unknown"
	StateChecking            State = "checking"
	StateConcurrentSupported State = "concurrent_supported"
	StateSequentialOnly      State = "sequential_only"
)

const (
	DefaultSettle  = 300 * time.Millisecond
	DefaultObserve = 500 * time.Millisecond
)

// DefaultSequentialPlatforms lists platform classes that multiplex capture poorly.
var DefaultSequentialPlatforms = []string{
	"Android",
	"webOS",
	"iPhone",
	"iPad",
	"iPod",
	"BlackBerry",
	"IEMobile",
	"Opera Mini",
	"iOS",
}

// Options tunes the trial.
type Options struct {
	Settle              time.Duration
	Observe             time.Duration
	Platform            string
	SequentialPlatforms []string
	Constraints         media.Constraints
	Logger              *slog.Logger
}

// Probe runs the concurrent-capture trial once and caches the verdict.
type Probe struct {
	devices media.DeviceProvider
	engines transcription.Factory
	opts    Options

	mu       sync.Mutex
	state    State
	resolved bool
	baseline bool
	running  chan struct{}
	cancel   context.CancelFunc
}

// New constructs an unresolved probe.
func New(devices media.DeviceProvider, engines transcription.Factory, opts Options) *Probe {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Observe <= 0 {
		opts.Observe = DefaultObserve
	}
	if strings.TrimSpace(opts.Platform) == "" {
		opts.Platform = runtime.GOOS
	}
	if opts.SequentialPlatforms == nil {
		opts.SequentialPlatforms = DefaultSequentialPlatforms
	}
	if opts.Constraints == (media.Constraints{}) {
		opts.Constraints = media.DefaultConstraints()
	}
	return &Probe{
		devices: devices,
		engines: engines,
		opts:    opts,
		state:   StateUnknown,
	}
}

// State returns the current verdict without probing.
func (p *Probe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Checking reports whether a trial is in flight.
func (p *Probe) Checking() bool {
	return p.State() == StateChecking
}

// Abort cancels an in-flight trial. The trial still releases its resources and resolves sequential_only.
func (p *Probe) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Probe resolves the verdict. Later calls return the cached verdict unless the
// baseline recognition support flag changed; concurrent callers share one trial.
func (p *Probe) Probe(ctx context.Context) State {
	for {
		supported := p.engines != nil && p.engines.Supported()

		p.mu.Lock()
		if p.resolved && supported == p.baseline {
			state := p.state
			p.mu.Unlock()
			return state
		}
		if p.running != nil {
			wait := p.running
			p.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return p.State()
			}
		}

		trialCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		p.running = done
		p.cancel = cancel
		p.resolved = false
		p.state = StateChecking
		p.mu.Unlock()

		verdict, reason := p.run(trialCtx, supported)
		cancel()

		p.mu.Lock()
		p.state = verdict
		p.baseline = supported
		p.resolved = true
		p.running = nil
		p.cancel = nil
		close(done)
		p.mu.Unlock()

		if p.opts.Logger != nil {
			p.opts.Logger.Info("capability probe resolved",
				"state", string(verdict),
				"reason", reason,
				"platform", p.opts.Platform,
			)
		}
		return verdict
	}
}

func (p *Probe) run(ctx context.Context, supported bool) (State, string) {
	if !supported {
		return StateSequentialOnly, "speech recognition unsupported"
	}
	if pattern, ok := matchPlatform(p.opts.Platform, p.opts.SequentialPlatforms); ok {
		return StateSequentialOnly, "platform matches " + pattern
	}

	started, err := p.trial(ctx)
	switch {
	case err != nil:
		return StateSequentialOnly, err.Error()
	case !started:
		return StateSequentialOnly, "recognition did not start while capturing"
	default:
		return StateConcurrentSupported, "recognition started while capturing"
	}
}

// trial holds a capture device while starting a recognition engine.
func (p *Probe) trial(ctx context.Context) (bool, error) {
	device, err := p.devices.Acquire(ctx, p.opts.Constraints)
	if err != nil {
		return false, fmt.Errorf("acquire trial device: %w", err)
	}
	defer func() {
		if releaseErr := device.Release(); releaseErr != nil {
			p.warn("release trial device", releaseErr)
		}
	}()

	recorder, err := device.Record(ctx)
	if err != nil {
		return false, fmt.Errorf("start trial recorder: %w", err)
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range recorder.Chunks() {
		}
	}()
	defer func() {
		if stopErr := recorder.Stop(); stopErr != nil {
			p.warn("stop trial recorder", stopErr)
		}
		<-drained
	}()

	if err := sleep(ctx, p.opts.Settle); err != nil {
		return false, fmt.Errorf("trial aborted: %w", err)
	}

	engine, err := p.engines.NewEngine()
	if err != nil {
		return false, fmt.Errorf("create trial engine: %w", err)
	}
	defer func() {
		if stopErr := engine.Stop(); stopErr != nil {
			p.warn("stop trial engine", stopErr)
		}
		for range engine.Events() {
		}
	}()

	if err := engine.Start(ctx); err != nil {
		return false, fmt.Errorf("start trial engine: %w", err)
	}

	return observe(ctx, engine.Events(), p.opts.Observe)
}

// observe watches engine events for the bounded window.
func observe(ctx context.Context, events <-chan transcription.Event, window time.Duration) (bool, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	started := false
	for {
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("trial aborted: %w", ctx.Err())
		case <-timer.C:
			return started, nil
		case event, ok := <-events:
			if !ok {
				return started, nil
			}
			switch event.Kind {
			case transcription.EventStarted:
				started = true
			case transcription.EventError:
				if err := event.Err(); errors.Is(err, transcription.ErrAudioContention) {
					return false, err
				}
			}
		}
	}
}

func matchPlatform(platform string, patterns []string) (string, bool) {
	lowered := strings.ToLower(platform)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(pattern)) {
			return pattern, true
		}
	}
	return "", false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Probe) warn(message string, err error) {
	if p.opts.Logger == nil {
		return
	}
	p.opts.Logger.Warn(message, "error", err.Error())
}
