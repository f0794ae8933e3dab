package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/qlip/internal/transcription"
)

// DefaultRecheck is how often Monitor re-runs the health check.
const DefaultRecheck = 15 * time.Second

// Opener creates one streaming recognizer bound to a healthy engine.
type Opener func() (transcription.Engine, error)

// Remote is a transcription.Factory whose availability follows the engine's
// gRPC health status.
type Remote struct {
	cfg    Config
	open   Opener
	logger *slog.Logger

	available atomic.Bool
	mu        sync.Mutex
	lastErr   error
}

// NewRemote builds a factory for cfg. With a nil open the factory never
// reports support, whatever the health check says.
func NewRemote(cfg Config, open Opener, logger *slog.Logger) *Remote {
	return &Remote{cfg: cfg, open: open, logger: logger}
}

// Supported reports whether engines can be opened: a recognizer is wired and
// the last health check passed.
func (r *Remote) Supported() bool {
	return r.open != nil && r.available.Load()
}

// NewEngine opens a recognizer when the engine is healthy.
func (r *Remote) NewEngine() (transcription.Engine, error) {
	if r.open == nil {
		return nil, fmt.Errorf("%w: no streaming recognizer for %s", transcription.ErrUnsupported, r.cfg.Endpoint)
	}
	if !r.available.Load() {
		return nil, transcription.ErrUnsupported
	}
	return r.open()
}

// LastError returns the most recent health check failure, if any.
func (r *Remote) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Refresh runs one health check and reports whether the health verdict changed.
func (r *Remote) Refresh(ctx context.Context) bool {
	err := Check(ctx, r.cfg)

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	now := err == nil
	changed := r.available.Swap(now) != now
	if changed && r.logger != nil {
		if err != nil {
			r.logger.Warn("recognition engine unavailable", "endpoint", r.cfg.Endpoint, "error", err.Error())
		} else {
			r.logger.Info("recognition engine available", "endpoint", r.cfg.Endpoint)
		}
	}
	return changed
}

// Monitor re-checks health every interval until ctx ends, calling onChange
// whenever availability flips.
func (r *Remote) Monitor(ctx context.Context, interval time.Duration, onChange func()) error {
	if interval <= 0 {
		interval = DefaultRecheck
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r.Refresh(ctx) && onChange != nil {
				onChange()
			}
		}
	}
}
