package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/rbright/qlip/internal/media"
)

// Provider acquires Pulse input sources as media devices.
type Provider struct {
	logger *slog.Logger
	list   func(context.Context) ([]Device, error)
	start  func(context.Context, Device, Format) (media.Recorder, error)
}

var _ media.DeviceProvider = (*Provider)(nil)

// NewProvider returns a provider backed by the local Pulse server.
func NewProvider(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
		list:   ListDevices,
		start: func(ctx context.Context, device Device, format Format) (media.Recorder, error) {
			return StartCapture(ctx, device, format)
		},
	}
}

// Acquire resolves constraints.Input/Fallback to a live, unmuted source.
func (p *Provider) Acquire(ctx context.Context, constraints media.Constraints) (media.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices, err := p.list(ctx)
	if err != nil {
		return nil, pulseError(err)
	}
	selection, err := selectDeviceFromList(devices, constraints.Input, constraints.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}
	if selection.Warning != "" && p.logger != nil {
		p.logger.Warn("audio input fallback", "warning", selection.Warning)
	}
	if p.logger != nil && (!constraints.EchoCancellation || !constraints.NoiseSuppression) {
		p.logger.Debug("capture processing disabled",
			"echo_cancellation", constraints.EchoCancellation,
			"noise_suppression", constraints.NoiseSuppression,
		)
	}

	return &device{
		provider: p,
		info:     selection.Device,
		format:   Format{SampleRate: constraints.SampleRate, Channels: constraints.Channels},
	}, nil
}

type device struct {
	provider *Provider
	info     Device
	format   Format

	mu       sync.Mutex
	active   media.Recorder
	released bool
}

func (d *device) ID() string {
	return d.info.ID
}

// Record starts a capture stream. One device runs at most one stream at a time.
func (d *device) Record(ctx context.Context) (media.Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, fmt.Errorf("%w: device %q released", media.ErrDeviceUnavailable, d.info.ID)
	}
	if d.active != nil {
		return nil, errors.New("device is already recording")
	}

	recorder, err := d.provider.start(ctx, d.info, d.format)
	if err != nil {
		return nil, pulseError(err)
	}
	d.active = recorder
	return recorder, nil
}

// Release stops any active stream. Later calls are no-ops.
func (d *device) Release() error {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return nil
	}
	d.released = true
	active := d.active
	d.active = nil
	d.mu.Unlock()

	if active != nil {
		return active.Stop()
	}
	return nil
}

// pulseError classifies a Pulse server failure as a media error.
func pulseError(err error) error {
	if errors.Is(err, os.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "access denied") {
		return fmt.Errorf("%w: %v", media.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
}
