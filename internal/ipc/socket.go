package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning reports a responsive daemon already owning the socket.
var ErrAlreadyRunning = errors.New("qlip daemon already running")

// SocketName is the socket file created under XDG_RUNTIME_DIR.
const SocketName = "qlip.sock"

// RuntimeSocketPath resolves the daemon socket path.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// AcquireOptions tunes socket takeover.
type AcquireOptions struct {
	// ProbeTimeout bounds the status request sent to an existing socket owner.
	ProbeTimeout time.Duration
	// Retries bounds stale-socket cleanups beyond the first.
	Retries int
	// OnStale is called after a stale socket file is removed.
	OnStale func(path string)
}

// Acquire listens on path with owner-only permissions.
//
// When the path is taken, the owner is probed: a live daemon yields ErrAlreadyRunning,
// an unreachable one has its socket removed before the next attempt. An inconclusive
// probe leaves the file in place.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 200 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		if attempt > opts.Retries {
			return nil, fmt.Errorf("acquire socket %s: still in use after %d retries", path, opts.Retries)
		}

		if err := clearStale(ctx, path, opts.ProbeTimeout); err != nil {
			return nil, err
		}
		if opts.OnStale != nil {
			opts.OnStale(path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
}

func clearStale(ctx context.Context, path string, timeout time.Duration) error {
	alive, err := Probe(ctx, path, timeout)
	switch {
	case alive:
		return ErrAlreadyRunning
	case err != nil:
		return fmt.Errorf("probe existing socket %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}
