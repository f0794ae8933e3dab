// Package transcript merges finalized recognition deltas into a text buffer.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options controls delta normalization.
type Options struct {
	CapitalizeSentences bool
}

// Merge appends delta to existing with exactly one separating space.
// Whitespace inside delta is collapsed; an empty delta leaves existing unchanged.
func Merge(existing string, delta string) string {
	normalized := strings.Join(strings.Fields(delta), " ")
	if normalized == "" {
		return existing
	}
	if existing == "" {
		return normalized
	}

	last, _ := utf8.DecodeLastRuneInString(existing)
	if unicode.IsSpace(last) {
		return existing + normalized
	}
	return existing + " " + normalized
}

// Apply merges delta into existing and applies configured normalization to the delta.
func Apply(existing string, delta string, opts Options) string {
	if opts.CapitalizeSentences {
		delta = capitalizeDelta(existing, delta)
	}
	return Merge(existing, delta)
}
