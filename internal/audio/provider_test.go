package audio

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/qlip/internal/media"
)

func testProvider(devices []Device, listErr error) (*Provider, *[]Format) {
	started := &[]Format{}
	p := &Provider{
		list: func(context.Context) ([]Device, error) { return devices, listErr },
		start: func(_ context.Context, dev Device, format Format) (media.Recorder, error) {
			*started = append(*started, format)
			return newCapture(dev, format), nil
		},
	}
	return p, started
}

func TestProviderAcquireSelectsFallback(t *testing.T) {
	p, _ := testProvider([]Device{
		{ID: "usb-mic", Description: "USB Mic", Available: true, Muted: true, Default: true},
		{ID: "headset", Description: "Headset", Available: true},
	}, nil)

	dev, err := p.Acquire(context.Background(), media.Constraints{Input: "usb", Fallback: "headset", SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	require.Equal(t, "headset", dev.ID())
}

func TestProviderAcquireWrapsDeviceUnavailable(t *testing.T) {
	p, _ := testProvider(nil, errors.New("connect pulse server: refused"))
	_, err := p.Acquire(context.Background(), media.DefaultConstraints())
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
	require.ErrorContains(t, err, "refused")

	p, _ = testProvider([]Device{}, nil)
	_, err = p.Acquire(context.Background(), media.DefaultConstraints())
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
	require.ErrorContains(t, err, "no audio input devices")
}

func TestProviderAcquireMapsAccessDenied(t *testing.T) {
	p, _ := testProvider(nil, errors.New("connect pulse server: pulseaudio: access denied"))
	_, err := p.Acquire(context.Background(), media.DefaultConstraints())
	require.ErrorIs(t, err, media.ErrPermissionDenied)
	require.NotErrorIs(t, err, media.ErrDeviceUnavailable)

	p, _ = testProvider(nil, &os.PathError{Op: "dial", Path: "/run/user/1000/pulse/native", Err: syscall.EACCES})
	_, err = p.Acquire(context.Background(), media.DefaultConstraints())
	require.ErrorIs(t, err, media.ErrPermissionDenied)
}

func TestDeviceRecordMapsStartFailure(t *testing.T) {
	p, _ := testProvider([]Device{{ID: "mic", Available: true, Default: true}}, nil)
	p.start = func(context.Context, Device, Format) (media.Recorder, error) {
		return nil, errors.New("create pulse record stream: Access denied")
	}

	dev, err := p.Acquire(context.Background(), media.DefaultConstraints())
	require.NoError(t, err)
	_, err = dev.Record(context.Background())
	require.ErrorIs(t, err, media.ErrPermissionDenied)
	require.NoError(t, dev.Release())
}

func TestProviderAcquireHonorsCancelledContext(t *testing.T) {
	p, _ := testProvider([]Device{{ID: "mic", Available: true, Default: true}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx, media.DefaultConstraints())
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeviceRecordAndRelease(t *testing.T) {
	p, started := testProvider([]Device{{ID: "mic", Available: true, Default: true}}, nil)

	dev, err := p.Acquire(context.Background(), media.DefaultConstraints())
	require.NoError(t, err)

	rec, err := dev.Record(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Format{{SampleRate: 44100, Channels: 1}}, *started)

	_, err = dev.Record(context.Background())
	require.ErrorContains(t, err, "already recording")

	require.NoError(t, dev.Release())
	_, open := <-rec.Chunks()
	require.False(t, open)
	require.NoError(t, dev.Release())

	_, err = dev.Record(context.Background())
	require.ErrorIs(t, err, media.ErrDeviceUnavailable)
}
