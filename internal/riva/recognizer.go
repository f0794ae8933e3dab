// Package riva streams microphone audio to an NVIDIA Riva ASR endpoint as a
// transcription engine.
package riva

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rbright/qlip/internal/config"
	"github.com/rbright/qlip/internal/engine"
	"github.com/rbright/qlip/internal/media"
	"github.com/rbright/qlip/internal/transcription"
)

const (
	defaultDialTimeout  = 3 * time.Second
	defaultDrainTimeout = 3 * time.Second
	defaultPhraseBoost  = 10

	// codeNetwork is reported when the engine stream fails.
	codeNetwork = "network"

	eventBuffer = 32
)

var errRestart = errors.New("recognizer cannot be restarted")

// Config describes one recognition stream.
type Config struct {
	Endpoint             string
	DialTimeout          time.Duration
	DrainTimeout         time.Duration
	LanguageCode         string
	Model                string
	AutomaticPunctuation bool
	Phrases              []string
	PhraseBoost          float32
	Capture              media.Constraints
}

// FromConfig maps the engine and audio sections onto a stream config.
func FromConfig(cfg config.Config) Config {
	return Config{
		Endpoint:             cfg.Engine.GRPC,
		DialTimeout:          time.Duration(cfg.Engine.DialTimeoutMS) * time.Millisecond,
		LanguageCode:         cfg.Engine.LanguageCode,
		Model:                cfg.Engine.Model,
		AutomaticPunctuation: cfg.Engine.AutomaticPunctuation,
		Phrases:              cfg.Engine.Phrases,
		Capture: media.Constraints{
			Input:            cfg.Audio.Input,
			Fallback:         cfg.Audio.Fallback,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			SampleRate:       cfg.Engine.SampleRate,
			Channels:         1,
		},
	}
}

func (c Config) withDefaults() Config {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.LanguageCode = strings.TrimSpace(c.LanguageCode)
	c.Model = strings.TrimSpace(c.Model)
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.LanguageCode == "" {
		c.LanguageCode = "en-US"
	}
	if c.PhraseBoost <= 0 {
		c.PhraseBoost = defaultPhraseBoost
	}
	if c.Capture.SampleRate <= 0 {
		c.Capture.SampleRate = 16000
	}
	if c.Capture.Channels <= 0 {
		c.Capture.Channels = 1
	}

	phrases := make([]string, 0, len(c.Phrases))
	for _, phrase := range c.Phrases {
		if phrase = cleanSegment(phrase); phrase != "" {
			phrases = append(phrases, phrase)
		}
	}
	c.Phrases = phrases
	return c
}

// NewOpener returns an engine.Opener creating one Recognizer per call.
func NewOpener(cfg Config, devices media.DeviceProvider, logger *slog.Logger) engine.Opener {
	return func() (transcription.Engine, error) {
		return New(cfg, devices, logger)
	}
}

// Recognizer captures its own microphone stream and sends it to one
// StreamingRecognize call. A Recognizer runs once.
type Recognizer struct {
	cfg     Config
	schema  *schema
	devices media.DeviceProvider
	logger  *slog.Logger
	events  chan transcription.Event

	mu       sync.Mutex
	started  bool
	stopping bool
	active   *stream

	closeOnce sync.Once
}

var _ transcription.Engine = (*Recognizer)(nil)

// New builds a recognizer that acquires devices from devices on Start.
func New(cfg Config, devices media.DeviceProvider, logger *slog.Logger) (*Recognizer, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		return nil, errors.New("riva recognizer needs a device provider")
	}
	return &Recognizer{
		cfg:     cfg.withDefaults(),
		schema:  schema,
		devices: devices,
		logger:  logger,
		events:  make(chan transcription.Event, eventBuffer),
	}, nil
}

// Events delivers started, then interim and final hypotheses, then stopped.
func (r *Recognizer) Events() <-chan transcription.Event {
	return r.events
}

// Start acquires the microphone, opens the stream and sends its config.
// It returns once the engine accepted the config.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.stopping {
		r.mu.Unlock()
		return errRestart
	}
	r.started = true
	r.mu.Unlock()

	s, code, err := r.open(ctx)
	if err != nil {
		r.emit(transcription.Event{Kind: transcription.EventError, Code: code, Message: err.Error()})
		r.closeEvents()
		return err
	}

	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		s.teardown()
		r.closeEvents()
		return errors.New("recognizer stopped while starting")
	}
	r.active = s
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("recognition stream open",
			"endpoint", r.cfg.Endpoint,
			"device", s.device.ID(),
			"language", r.cfg.LanguageCode,
			"sample_rate", r.cfg.Capture.SampleRate,
		)
	}

	r.emit(transcription.Event{Kind: transcription.EventStarted})
	go r.send(s)
	go r.receive(s)
	return nil
}

// Stop ends audio capture and half-closes the stream so the engine can flush
// its last hypotheses. It does not wait; Events closes once the engine
// finishes or the drain timeout cancels the stream.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	started, s := r.started, r.active
	r.mu.Unlock()

	switch {
	case !started:
		r.closeEvents()
		return nil
	case s == nil:
		// Start is still opening; it sees stopping and tears down.
		return nil
	}

	err := s.stopRecorder()
	go func() {
		timer := time.NewTimer(r.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.cancel()
		}
	}()
	return err
}

func (r *Recognizer) open(ctx context.Context) (*stream, string, error) {
	device, err := r.devices.Acquire(ctx, r.cfg.Capture)
	if err != nil {
		return nil, transcription.CodeAudioCapture, fmt.Errorf("acquire microphone: %w", err)
	}
	recorder, err := device.Record(ctx)
	if err != nil {
		_ = device.Release()
		return nil, transcription.CodeAudioCapture, fmt.Errorf("start microphone: %w", err)
	}

	s := &stream{device: device, recorder: recorder, done: make(chan struct{})}
	fail := func(err error) (*stream, string, error) {
		s.teardown()
		return nil, codeNetwork, err
	}

	s.conn, err = engine.Dial(ctx, r.cfg.Endpoint, r.cfg.DialTimeout)
	if err != nil {
		return fail(err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.call, err = callWithTimeout(ctx, r.cfg.DialTimeout, func() (grpc.ClientStream, error) {
		return s.conn.NewStream(streamCtx, streamingRecognizeDesc, streamingRecognizeMethod)
	})
	if err != nil {
		return fail(fmt.Errorf("open streaming recognizer: %w", err))
	}

	if err := runWithTimeout(ctx, r.cfg.DialTimeout, func() error {
		return s.call.SendMsg(r.schema.configRequest(r.cfg))
	}); err != nil {
		return fail(fmt.Errorf("send initial streaming config: %w", err))
	}
	return s, "", nil
}

// send forwards captured chunks until the recorder stops, then half-closes.
func (r *Recognizer) send(s *stream) {
	failed := false
	for chunk := range s.recorder.Chunks() {
		if failed || len(chunk) == 0 {
			continue
		}
		// A send error surfaces from RecvMsg with the stream status.
		if err := s.call.SendMsg(r.schema.audioRequest(chunk)); err != nil {
			failed = true
		}
	}
	_ = s.call.CloseSend()
}

func (r *Recognizer) receive(s *stream) {
	var segments segmenter
	for {
		resp := r.schema.newResponse()
		err := s.call.RecvMsg(resp)
		if err == nil {
			for _, res := range r.schema.results(resp) {
				for _, event := range segments.push(res) {
					r.emit(event)
				}
			}
			continue
		}

		for _, event := range segments.flush() {
			r.emit(event)
		}
		if !errors.Is(err, io.EOF) && !r.cancelledByStop(err) {
			if r.logger != nil {
				r.logger.Warn("recognition stream failed", "endpoint", r.cfg.Endpoint, "error", err.Error())
			}
			r.emit(transcription.Event{Kind: transcription.EventError, Code: codeNetwork, Message: err.Error()})
		}
		break
	}

	r.emit(transcription.Event{Kind: transcription.EventStopped})
	s.teardown()
	r.closeEvents()
}

func (r *Recognizer) cancelledByStop(err error) bool {
	if status.Code(err) != codes.Canceled {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *Recognizer) emit(event transcription.Event) {
	r.events <- event
}

func (r *Recognizer) closeEvents() {
	r.closeOnce.Do(func() { close(r.events) })
}

// stream is the resources held by one running recognition.
type stream struct {
	device   media.Device
	recorder media.Recorder
	conn     *grpc.ClientConn
	call     grpc.ClientStream
	cancel   context.CancelFunc
	done     chan struct{}

	stopOnce     sync.Once
	stopErr      error
	teardownOnce sync.Once
}

func (s *stream) stopRecorder() error {
	s.stopOnce.Do(func() { s.stopErr = s.recorder.Stop() })
	return s.stopErr
}

func (s *stream) teardown() {
	s.teardownOnce.Do(func() {
		_ = s.stopRecorder()
		_ = s.device.Release()
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
		close(s.done)
	})
}
