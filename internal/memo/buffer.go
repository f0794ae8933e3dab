package memo

import "sync"

// Buffer is an in-memory TextState.
type Buffer struct {
	mu   sync.Mutex
	text string
}

// NewBuffer returns a buffer holding initial.
func NewBuffer(initial string) *Buffer {
	return &Buffer{text: initial}
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}
