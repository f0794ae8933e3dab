// Package memo applies coordinator output to the user's text and audio state.
package memo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rbright/qlip/internal/fsm"
	"github.com/rbright/qlip/internal/handle"
	"github.com/rbright/qlip/internal/media"
	"github.com/rbright/qlip/internal/recording"
	"github.com/rbright/qlip/internal/transcript"
	"github.com/rbright/qlip/internal/voice"
)

// TextState is the persisted memo text.
type TextState interface {
	Text() string
	SetText(text string)
}

// AudioStore holds the single current recording.
type AudioStore interface {
	Save(ctx context.Context, artifact media.Artifact) error
	Clear(ctx context.Context) error
}

// Coordinator is the subset of voice.Coordinator the consumer drives.
type Coordinator interface {
	Snapshot() voice.Snapshot
	Subscribe() (<-chan voice.Snapshot, func())
	ClearNewTranscriptSeq(seq uint64) bool
	ClearAll() error
}

// ActivityIndicator renders capture activity to the user.
type ActivityIndicator interface {
	Show(ctx context.Context, mode string)
	Hide(ctx context.Context)
	ShowError(ctx context.Context, text string)
	CueSaved(ctx context.Context)
}

// Stats summarizes the memo contents.
type Stats struct {
	Chars     int
	Bytes     int
	LastSaved time.Time
}

// Options tunes the consumer.
type Options struct {
	Transcript transcript.Options
	Indicator  ActivityIndicator
	Logger     *slog.Logger
	Now        func() time.Time
}

// Consumer merges transcript deltas into text and persists finished recordings.
type Consumer struct {
	coord     Coordinator
	text      TextState
	store     AudioStore
	indicator ActivityIndicator
	merge     transcript.Options
	logger    *slog.Logger
	now       func() time.Time

	// handling serializes snapshot processing.
	handling sync.Mutex

	mu         sync.Mutex
	appliedSeq uint64
	persisted  handle.Handle
	lastSaved  time.Time
	active     bool
	mode       voice.Mode
	lastErr    string
}

// New wires a consumer. Indicator may be nil.
func New(coord Coordinator, text TextState, store AudioStore, opts Options) *Consumer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Consumer{
		coord:     coord,
		text:      text,
		store:     store,
		indicator: opts.Indicator,
		merge:     opts.Transcript,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Run handles snapshots until ctx is done or the subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	updates, cancel := c.coord.Subscribe()
	defer cancel()

	c.Handle(ctx, c.coord.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			c.Handle(ctx, snap)
		}
	}
}

// Handle reacts to one coordinator snapshot.
func (c *Consumer) Handle(ctx context.Context, snap voice.Snapshot) {
	c.handling.Lock()
	defer c.handling.Unlock()

	c.applyDelta(snap.Transcription.NewTranscript, snap.Transcription.NewTranscriptSeq)
	c.persist(ctx, snap.Recording)
	c.indicate(ctx, snap)
}

// ClearAll clears the coordinator, the memo text and the stored recording.
func (c *Consumer) ClearAll(ctx context.Context) error {
	c.handling.Lock()
	defer c.handling.Unlock()

	coordErr := c.coord.ClearAll()
	c.text.SetText("")
	storeErr := c.store.Clear(ctx)
	if storeErr == nil {
		c.mu.Lock()
		c.lastSaved = time.Time{}
		c.mu.Unlock()
	}
	return errors.Join(coordErr, storeErr)
}

// Consume returns the memo text and empties it.
func (c *Consumer) Consume() string {
	c.handling.Lock()
	defer c.handling.Unlock()

	text := c.text.Text()
	c.text.SetText("")
	return text
}

// Stats reports the current text size and the last successful save time.
func (c *Consumer) Stats() Stats {
	text := c.text.Text()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Chars:     utf8.RuneCountInString(text),
		Bytes:     len(text),
		LastSaved: c.lastSaved,
	}
}

func (c *Consumer) applyDelta(delta string, seq uint64) {
	c.mu.Lock()
	if seq == 0 || seq <= c.appliedSeq {
		c.mu.Unlock()
		return
	}
	c.appliedSeq = seq
	c.mu.Unlock()

	if delta != "" {
		c.text.SetText(transcript.Apply(c.text.Text(), delta, c.merge))
	}
	c.coord.ClearNewTranscriptSeq(seq)
}

func (c *Consumer) persist(ctx context.Context, rec recording.Status) {
	if rec.State != fsm.StateStopped || rec.Artifact == nil || rec.Playback == "" {
		return
	}

	c.mu.Lock()
	if rec.Playback == c.persisted {
		c.mu.Unlock()
		return
	}
	c.persisted = rec.Playback
	c.mu.Unlock()

	if err := c.store.Save(ctx, *rec.Artifact); err != nil {
		if c.logger != nil {
			c.logger.Error("persist recording failed", "bytes", rec.Artifact.Size(), "error", err.Error())
		}
		return
	}

	c.mu.Lock()
	c.lastSaved = c.now()
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("recording persisted", "bytes", rec.Artifact.Size(), "mime", rec.Artifact.MIMEType)
	}
	if c.indicator != nil {
		c.indicator.CueSaved(ctx)
	}
}

func (c *Consumer) indicate(ctx context.Context, snap voice.Snapshot) {
	c.mu.Lock()
	wasActive, prevMode, prevErr := c.active, c.mode, c.lastErr
	c.active, c.mode, c.lastErr = snap.Active, snap.Mode, snap.Error
	c.mu.Unlock()

	if c.indicator == nil {
		return
	}

	switch {
	case snap.Active && (!wasActive || snap.Mode != prevMode):
		c.indicator.Show(ctx, string(snap.Mode))
	case !snap.Active && wasActive:
		c.indicator.Hide(ctx)
	}

	if snap.Error != "" && snap.Error != prevErr {
		c.indicator.ShowError(ctx, snap.Error)
	}
}
