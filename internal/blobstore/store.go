// Package blobstore persists the single current audio artifact and publishes a playback handle for it.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbright/qlip/internal/handle"
	"github.com/rbright/qlip/internal/media"
)

// SlotKey is the fixed slot holding the current artifact.
const SlotKey = "currentAudio"

// ErrStorage wraps every backend failure.
var ErrStorage = errors.New("audio storage error")

// Backend is a durable keyed binary store.
type Backend interface {
	Get(ctx context.Context, key string) (media.Artifact, bool, error)
	Put(ctx context.Context, key string, artifact media.Artifact) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options tunes the store.
type Options struct {
	Key    string
	Logger *slog.Logger
}

// Store owns the published playback handle for the stored artifact.
type Store struct {
	backend  Backend
	registry *handle.Registry
	key      string
	logger   *slog.Logger

	// op orders backend calls so handles are published in persist order.
	op sync.Mutex

	mu       sync.Mutex
	inflight int
	current  handle.Handle
	errMsg   string

	changes chan struct{}
}

// New wraps backend. The registry is shared with recording sessions.
func New(backend Backend, registry *handle.Registry, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = SlotKey
	}
	if registry == nil {
		registry = handle.NewRegistry()
	}
	return &Store{
		backend:  backend,
		registry: registry,
		key:      opts.Key,
		logger:   opts.Logger,
		changes:  make(chan struct{}, 1),
	}
}

// Load fetches the slot and publishes a handle when an artifact is stored.
func (s *Store) Load(ctx context.Context) error {
	s.begin()
	defer s.end()

	s.op.Lock()
	defer s.op.Unlock()

	artifact, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return s.fail("load", err)
	}
	if !ok {
		return nil
	}
	s.publish(artifact)
	return nil
}

// Save overwrites the slot, then replaces the published handle.
func (s *Store) Save(ctx context.Context, artifact media.Artifact) error {
	s.begin()
	defer s.end()

	s.op.Lock()
	defer s.op.Unlock()

	if err := s.backend.Put(ctx, s.key, artifact); err != nil {
		return s.fail("save", err)
	}
	s.publish(artifact)
	if s.logger != nil {
		s.logger.Info("audio saved", "bytes", artifact.Size(), "mime", artifact.MIMEType)
	}
	return nil
}

// Clear deletes the slot and revokes the published handle.
func (s *Store) Clear(ctx context.Context) error {
	s.begin()
	defer s.end()

	s.op.Lock()
	defer s.op.Unlock()

	if err := s.backend.Delete(ctx, s.key); err != nil {
		return s.fail("clear", err)
	}

	s.mu.Lock()
	previous := s.current
	s.current = ""
	s.mu.Unlock()
	s.registry.Revoke(previous)
	return nil
}

// Loading reports whether any store operation is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Current returns the published handle, or "" when the slot is empty.
func (s *Store) Current() handle.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns the last storage failure message.
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Changes delivers a coalesced signal whenever the store surface may have changed.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Close releases the published handle and the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	previous := s.current
	s.current = ""
	s.mu.Unlock()
	s.registry.Revoke(previous)
	return s.backend.Close()
}

func (s *Store) publish(artifact media.Artifact) {
	s.mu.Lock()
	previous := s.current
	s.current = ""
	s.mu.Unlock()
	s.registry.Revoke(previous)

	next := s.registry.Create(artifact)
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}

func (s *Store) begin() {
	s.mu.Lock()
	s.inflight++
	s.errMsg = ""
	s.mu.Unlock()
	s.notify()
}

func (s *Store) end() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	s.notify()
}

func (s *Store) fail(op string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
	s.mu.Lock()
	s.errMsg = wrapped.Error()
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Error("audio storage failed", "op", op, "error", err.Error())
	}
	return wrapped
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
