// Package indicator surfaces voice activity as desktop notifications and audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/qlip/internal/config"
)

// Desktop is the freedesktop-notification activity indicator.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
}

// NewDesktop creates an indicator from config.
func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	return &Desktop{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// Show announces the active capture mode and emits the start cue.
func (d *Desktop) Show(ctx context.Context, mode string) {
	d.playCue(ctx, cueStart)
	if !d.cfg.Enable {
		return
	}
	text := d.messages.forMode(mode)
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, 0, text, urgencyNormal)
	})
}

// ShowError displays an error notification with a bounded timeout.
func (d *Desktop) ShowError(ctx context.Context, text string) {
	d.playCue(ctx, cueError)
	if !d.cfg.Enable {
		return
	}
	if strings.TrimSpace(text) == "" {
		text = d.messages.errorText
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, timeout, text, urgencyCritical)
	})
}

// Hide dismisses the activity notification and emits the stop cue.
func (d *Desktop) Hide(ctx context.Context) {
	d.playCue(ctx, cueStop)
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, d.dismiss)
}

// CueSaved emits the cue played once a recording is persisted.
func (d *Desktop) CueSaved(ctx context.Context) {
	d.playCue(ctx, cueSaved)
}

// notify sends a replaceable desktop notification and stores its ID.
func (d *Desktop) notify(ctx context.Context, timeoutMS int, text string, level urgency) error {
	d.mu.Lock()
	replaceID := d.notificationID
	d.mu.Unlock()

	appName := strings.TrimSpace(d.cfg.DesktopAppName)
	if appName == "" {
		appName = "qlip"
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS, level)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

func (d *Desktop) dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (d *Desktop) playCue(ctx context.Context, kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	cueCtx := context.WithoutCancel(ctx)
	go func() {
		d.soundMu.Lock()
		defer d.soundMu.Unlock()
		if err := emitCue(cueCtx, kind); err != nil {
			d.log("indicator audio cue failed", err)
		}
	}()
}

func (d *Desktop) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
