package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	var warnings []Warning

	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty")
	}
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 192000")
	}
	if !cfg.Audio.EchoCancellation || !cfg.Audio.NoiseSuppression {
		warnings = append(warnings, Warning{Message: "audio echo cancellation or noise suppression is disabled; recordings may pick up feedback"})
	}

	if strings.TrimSpace(cfg.Engine.GRPC) == "" {
		warnings = append(warnings, Warning{Message: "engine.grpc is empty; transcription is unavailable"})
	} else {
		if cfg.Engine.DialTimeoutMS <= 0 {
			return nil, fmt.Errorf("engine.dial_timeout_ms must be > 0")
		}
		if strings.TrimSpace(cfg.Engine.LanguageCode) == "" {
			return nil, fmt.Errorf("engine.language_code must not be empty")
		}
		if cfg.Engine.SampleRate < 8000 || cfg.Engine.SampleRate > 48000 {
			return nil, fmt.Errorf("engine.sample_rate must be between 8000 and 48000")
		}
	}

	if cfg.Probe.SettleMS <= 0 {
		return nil, fmt.Errorf("probe.settle_ms must be > 0")
	}
	if cfg.Probe.ObserveMS <= 0 {
		return nil, fmt.Errorf("probe.observe_ms must be > 0")
	}

	if cfg.Coordinator.TranscriptionDelayMS < 0 {
		return nil, fmt.Errorf("coordinator.transcription_delay_ms must be >= 0")
	}
	if cfg.Coordinator.TranscriptionDelayMS == 0 {
		warnings = append(warnings, Warning{Message: "coordinator.transcription_delay_ms=0 uses the built-in delay"})
	}

	switch strings.TrimSpace(cfg.Transcription.DeltaPolicy) {
	case "", "queue":
	case "last_write_wins":
		warnings = append(warnings, Warning{Message: "transcription.delta_policy=last_write_wins drops deltas that arrive before the previous one is applied"})
	default:
		return nil, fmt.Errorf("transcription.delta_policy must be one of: queue, last_write_wins")
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	return warnings, nil
}
