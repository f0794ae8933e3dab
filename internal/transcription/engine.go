// Package transcription keeps the consumer-facing state of one speech recognition engine.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EventKind identifies one recognition engine signal.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventInterim EventKind = "interim"
	EventFinal   EventKind = "final"
	EventStopped EventKind = "stopped"
	EventError   EventKind = "error"
)

// CodeAudioCapture is the error code engines report when the capture device is contended.
const CodeAudioCapture = "audio-capture"

var (
	// ErrEngine wraps every failure reported by or about a recognition engine.
	ErrEngine = errors.New("transcription engine error")
	// ErrAudioContention marks an engine error caused by another owner of the capture device.
	ErrAudioContention = errors.New("audio capture contention")
	// ErrUnsupported indicates no recognition engine is available on this host.
	ErrUnsupported = errors.New("speech recognition is not supported")
)

// Event is one signal from an engine. Text is set for interim and final events.
type Event struct {
	Kind    EventKind
	Text    string
	Code    string
	Message string
}

// Err converts an error event into an error wrapping ErrEngine. It returns nil for other kinds.
func (e Event) Err() error {
	if e.Kind != EventError {
		return nil
	}
	detail := strings.TrimSpace(e.Message)
	if detail == "" {
		detail = e.Code
	}
	if e.Code == CodeAudioCapture {
		return fmt.Errorf("%w: %w: %s", ErrEngine, ErrAudioContention, detail)
	}
	return fmt.Errorf("%w: %s", ErrEngine, detail)
}

// Engine is one recognition engine instance.
//
// Events delivers signals in order: started before any interim/final, stopped last.
// The channel is closed once Stop returns or the engine ends on its own.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan Event
}

// Factory creates engine instances. Supported is the host's baseline recognition support flag.
type Factory interface {
	NewEngine() (Engine, error)
	Supported() bool
}
