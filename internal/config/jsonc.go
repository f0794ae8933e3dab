package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// normalizeJSONC blanks comments and trailing commas with spaces.
// Newlines are kept, so decoder offsets map back to source line and column.
func normalizeJSONC(content string) (string, error) {
	out := []byte(content)
	inString := false
	escaped := false
	pendingComma := -1

	for i := 0; i < len(out); i++ {
		ch := out[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			pendingComma = -1
		case ch == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
				i++
			}
			i--
		case ch == '/' && i+1 < len(out) && out[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return "", errors.New("unterminated block comment in JSONC")
			}
			stop := i + 2 + end + 2
			for j := i; j < stop; j++ {
				if !isJSONWhitespace(out[j]) {
					out[j] = ' '
				}
			}
			i = stop - 1
		case ch == ',':
			pendingComma = i
		case ch == '}' || ch == ']':
			if pendingComma >= 0 {
				out[pendingComma] = ' '
			}
			pendingComma = -1
		case isJSONWhitespace(ch):
		default:
			pendingComma = -1
		}
	}

	return string(out), nil
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

// offsetToLineCol converts a decoder byte offset into a 1-based line and column.
func offsetToLineCol(content string, offset int64) (int, int) {
	limit := min(max(int(offset), 1), len(content))

	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
