package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	recording string
	dictating string
	combined  string
	errorText string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			recording: "Recording…",
			dictating: "Dictating…",
			combined:  "Recording and dictating…",
			errorText: "Voice input error",
		}
	}
}

// forMode maps a coordinator mode name to notification text.
func (m messages) forMode(mode string) string {
	switch mode {
	case "transcribing_only":
		return m.dictating
	case "combined":
		return m.combined
	default:
		return m.recording
	}
}
