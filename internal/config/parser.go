package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type jsoncConfig struct {
	Audio         *jsoncAudio         `json:"audio"`
	Engine        *jsoncEngine        `json:"engine"`
	Probe         *jsoncProbe         `json:"probe"`
	Coordinator   *jsoncCoordinator   `json:"coordinator"`
	Transcription *jsoncTranscription `json:"transcription"`
	Store         *jsoncStore         `json:"store"`
	Transcript    *jsoncTranscript    `json:"transcript"`
	Indicator     *jsoncIndicator     `json:"indicator"`
}

type jsoncAudio struct {
	Input            *string `json:"input"`
	Fallback         *string `json:"fallback"`
	EchoCancellation *bool   `json:"echo_cancellation"`
	NoiseSuppression *bool   `json:"noise_suppression"`
	SampleRate       *int    `json:"sample_rate"`
}

type jsoncEngine struct {
	GRPC                 *string          `json:"grpc"`
	HealthService        *string          `json:"health_service"`
	DialTimeoutMS        *int             `json:"dial_timeout_ms"`
	LanguageCode         *string          `json:"language_code"`
	Model                *string          `json:"model"`
	AutomaticPunctuation *bool            `json:"automatic_punctuation"`
	SampleRate           *int             `json:"sample_rate"`
	Phrases              *jsoncStringList `json:"phrases"`
}

type jsoncProbe struct {
	SettleMS            *int             `json:"settle_ms"`
	ObserveMS           *int             `json:"observe_ms"`
	PlatformHint        *string          `json:"platform_hint"`
	SequentialPlatforms *jsoncStringList `json:"sequential_platforms"`
}

type jsoncCoordinator struct {
	TranscriptionDelayMS *int `json:"transcription_delay_ms"`
}

type jsoncTranscription struct {
	DeltaPolicy *string `json:"delta_policy"`
}

type jsoncStore struct {
	Path *string `json:"path"`
}

type jsoncTranscript struct {
	CapitalizeSentences *bool `json:"capitalize_sentences"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

// jsoncStringList accepts either a string array or one comma-delimited string.
type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return errors.New("expected string array or comma-delimited string")
	}
	*l = strings.Split(single, ",")
	return nil
}

// Parse reads JSONC configuration content over base.
func Parse(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Config{}, nil, errors.New("config must be a JSONC object")
	}

	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings := payload.applyTo(&cfg)

	validated, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validated...), nil
}

func (payload jsoncConfig) applyTo(cfg *Config) []Warning {
	var warnings []Warning

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setValue(&cfg.Audio.EchoCancellation, a.EchoCancellation)
		setValue(&cfg.Audio.NoiseSuppression, a.NoiseSuppression)
		setValue(&cfg.Audio.SampleRate, a.SampleRate)
	}

	if e := payload.Engine; e != nil {
		setString(&cfg.Engine.GRPC, e.GRPC)
		setString(&cfg.Engine.HealthService, e.HealthService)
		setValue(&cfg.Engine.DialTimeoutMS, e.DialTimeoutMS)
		setString(&cfg.Engine.LanguageCode, e.LanguageCode)
		setString(&cfg.Engine.Model, e.Model)
		setValue(&cfg.Engine.AutomaticPunctuation, e.AutomaticPunctuation)
		setValue(&cfg.Engine.SampleRate, e.SampleRate)
		if e.Phrases != nil {
			cfg.Engine.Phrases = nil
			for _, phrase := range *e.Phrases {
				if phrase = strings.TrimSpace(phrase); phrase != "" {
					cfg.Engine.Phrases = append(cfg.Engine.Phrases, phrase)
				}
			}
		}
	}

	if p := payload.Probe; p != nil {
		setValue(&cfg.Probe.SettleMS, p.SettleMS)
		setValue(&cfg.Probe.ObserveMS, p.ObserveMS)
		setString(&cfg.Probe.PlatformHint, p.PlatformHint)
		if p.SequentialPlatforms != nil {
			cfg.Probe.SequentialPlatforms = make([]string, 0, len(*p.SequentialPlatforms))
			for _, name := range *p.SequentialPlatforms {
				name = strings.TrimSpace(name)
				if name == "" {
					warnings = append(warnings, Warning{Message: "probe.sequential_platforms contains an empty entry; ignoring it"})
					continue
				}
				cfg.Probe.SequentialPlatforms = append(cfg.Probe.SequentialPlatforms, name)
			}
		}
	}

	if c := payload.Coordinator; c != nil {
		setValue(&cfg.Coordinator.TranscriptionDelayMS, c.TranscriptionDelayMS)
	}
	if t := payload.Transcription; t != nil {
		setString(&cfg.Transcription.DeltaPolicy, t.DeltaPolicy)
	}
	if s := payload.Store; s != nil {
		setString(&cfg.Store.Path, s.Path)
	}
	if t := payload.Transcript; t != nil {
		setValue(&cfg.Transcript.CapitalizeSentences, t.CapitalizeSentences)
	}

	if i := payload.Indicator; i != nil {
		setValue(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setValue(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setValue(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	return warnings
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func wrapJSONDecodeError(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}
