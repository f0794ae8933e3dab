// Package handle issues revocable playback handles for in-memory audio artifacts.
package handle

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rbright/qlip/internal/media"
)

const scheme = "blob:qlip/"

// ErrRevoked indicates the handle was never issued or has been revoked.
var ErrRevoked = errors.New("playback handle revoked")

// Handle identifies one published artifact. The zero value means "no handle".
type Handle string

// Registry owns the artifacts referenced by live handles.
type Registry struct {
	mu    sync.Mutex
	blobs map[Handle]media.Artifact
}

// NewRegistry constructs an empty handle registry.
func NewRegistry() *Registry {
	return &Registry{blobs: make(map[Handle]media.Artifact)}
}

// Create publishes a copy of artifact and returns its handle.
func (r *Registry) Create(artifact media.Artifact) Handle {
	h := Handle(scheme + uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[h] = artifact.Clone()
	return h
}

// Revoke releases h. Revoking an empty or unknown handle is a no-op.
func (r *Registry) Revoke(h Handle) {
	if h == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, h)
}

// Resolve returns the artifact referenced by h.
func (r *Registry) Resolve(h Handle) (media.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	artifact, ok := r.blobs[h]
	if !ok {
		return media.Artifact{}, ErrRevoked
	}
	return artifact.Clone(), nil
}

// Open returns a reader over the artifact referenced by h for playback.
func (r *Registry) Open(h Handle) (io.ReadSeeker, error) {
	artifact, err := r.Resolve(h)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(artifact.Data), nil
}

// Live reports how many handles are currently published.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}
