package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

var pronounIPattern = regexp.MustCompile(`\bi('(?:m|d|ll|ve|re|s))?\b`)

// capitalizeDelta upper-cases sentence starts in delta, treating the end of
// existing as the preceding context.
func capitalizeDelta(existing string, delta string) string {
	delta = strings.Join(strings.Fields(delta), " ")
	if delta == "" {
		return delta
	}

	runes := []rune(delta)
	atBoundary := endsSentence(existing)

	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			if atBoundary {
				runes[i] = unicode.ToUpper(r)
			}
			atBoundary = false
		case unicode.IsDigit(r):
			atBoundary = false
		case r == '.' || r == '!' || r == '?':
			atBoundary = true
		}
	}

	return pronounIPattern.ReplaceAllStringFunc(string(runes), func(match string) string {
		return "I" + match[1:]
	})
}

func endsSentence(text string) bool {
	trimmed := strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == ')'
	})
	if trimmed == "" {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}
