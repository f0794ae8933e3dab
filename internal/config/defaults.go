package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Input:            "default",
			Fallback:         "default",
			EchoCancellation: true,
			NoiseSuppression: true,
			SampleRate:       44100,
		},
		Engine: EngineConfig{
			GRPC:                 "127.0.0.1:50051",
			HealthService:        "",
			DialTimeoutMS:        1000,
			LanguageCode:         "en-US",
			AutomaticPunctuation: true,
			SampleRate:           16000,
		},
		Probe: ProbeConfig{
			SettleMS:  300,
			ObserveMS: 500,
		},
		Coordinator: CoordinatorConfig{
			TranscriptionDelayMS: 500,
		},
		Transcription: TranscriptionConfig{
			DeltaPolicy: "queue",
		},
		Transcript: TranscriptConfig{
			CapitalizeSentences: true,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			DesktopAppName: "qlip",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
	}
}
