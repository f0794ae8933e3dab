// Package media defines the capture-device and recorder contracts shared by recording and probing.
package media

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied indicates the host refused access to the capture device.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable indicates no usable capture device could be acquired.
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

// Constraints are the quality parameters requested when acquiring a device.
type Constraints struct {
	Input            string
	Fallback         string
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int
}

// DefaultConstraints returns the fixed capture parameters used by recording sessions.
func DefaultConstraints() Constraints {
	return Constraints{
		Input:            "default",
		Fallback:         "default",
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       44100,
		Channels:         1,
	}
}

// Artifact is one finalized, immutable audio recording.
type Artifact struct {
	Data     []byte
	MIMEType string
}

// Size returns the artifact payload length in bytes.
func (a Artifact) Size() int {
	return len(a.Data)
}

// Clone returns a deep copy so callers never share the backing array.
func (a Artifact) Clone() Artifact {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return Artifact{Data: data, MIMEType: a.MIMEType}
}

// DeviceProvider acquires exclusive capture devices.
type DeviceProvider interface {
	Acquire(ctx context.Context, constraints Constraints) (Device, error)
}

// Device is one acquired capture handle. Release must be safe to call more than once.
type Device interface {
	ID() string
	Record(ctx context.Context) (Recorder, error)
	Release() error
}

// Recorder emits binary fragments while active and finalizes them into an artifact.
//
// Chunks is closed once Stop returns.
type Recorder interface {
	Chunks() <-chan []byte
	Stop() error
	Finalize(chunks [][]byte) (Artifact, error)
}
