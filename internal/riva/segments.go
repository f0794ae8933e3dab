package riva

import (
	"strings"

	"github.com/rbright/qlip/internal/transcription"
)

// stableInterim is the stability at which an interim survives being replaced
// by a divergent hypothesis.
const stableInterim = 0.9

// segmenter turns streaming hypotheses into ordered interim and final events.
type segmenter struct {
	interim   string
	stability float32
}

func (s *segmenter) push(r result) []transcription.Event {
	text := cleanSegment(r.text)
	if text == "" {
		return nil
	}
	if r.final {
		s.interim, s.stability = "", 0
		return []transcription.Event{{Kind: transcription.EventFinal, Text: text}}
	}

	var events []transcription.Event
	if s.interim != "" && s.stability >= stableInterim && !isInterimContinuation(s.interim, text) {
		events = append(events, transcription.Event{Kind: transcription.EventFinal, Text: s.interim})
	}
	s.interim, s.stability = text, r.stability
	return append(events, transcription.Event{Kind: transcription.EventInterim, Text: text})
}

// flush commits the trailing interim once the stream has ended.
func (s *segmenter) flush() []transcription.Event {
	if s.interim == "" {
		return nil
	}
	text := s.interim
	s.interim, s.stability = "", 0
	return []transcription.Event{{Kind: transcription.EventFinal, Text: text}}
}

// isInterimContinuation decides whether an interim update revises the prior
// hypothesis rather than starting new speech.
func isInterimContinuation(previous string, current string) bool {
	previous = cleanSegment(previous)
	current = cleanSegment(current)
	if previous == "" || current == "" || previous == current {
		return true
	}
	if strings.HasPrefix(current, previous) || strings.HasPrefix(previous, current) {
		return true
	}
	if strings.HasSuffix(current, previous) || strings.HasSuffix(previous, current) {
		return true
	}

	prevWords := strings.Fields(previous)
	currWords := strings.Fields(current)
	shorter := min(len(prevWords), len(currWords))
	return commonPrefixWords(prevWords, currWords)*2 >= shorter
}

func commonPrefixWords(left []string, right []string) int {
	limit := min(len(left), len(right))
	count := 0
	for count < limit && left[count] == right[count] {
		count++
	}
	return count
}

// cleanSegment normalizes transcript whitespace.
func cleanSegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
