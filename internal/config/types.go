// Package config resolves, parses, validates, and defaults qlip configuration.
package config

// Config is the fully materialized runtime configuration used by qlip.
type Config struct {
	Audio         AudioConfig
	Engine        EngineConfig
	Probe         ProbeConfig
	Coordinator   CoordinatorConfig
	Transcription TranscriptionConfig
	Store         StoreConfig
	Transcript    TranscriptConfig
	Indicator     IndicatorConfig
}

// AudioConfig controls input-source selection and capture quality.
type AudioConfig struct {
	Input            string
	Fallback         string
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
}

// EngineConfig locates the recognition engine and tunes its streaming requests.
type EngineConfig struct {
	GRPC                 string
	HealthService        string
	DialTimeoutMS        int
	LanguageCode         string
	Model                string
	AutomaticPunctuation bool
	SampleRate           int
	Phrases              []string
}

// ProbeConfig tunes the concurrent-capture capability trial.
type ProbeConfig struct {
	SettleMS            int
	ObserveMS           int
	PlatformHint        string
	SequentialPlatforms []string
}

// CoordinatorConfig tunes combined-mode sequencing.
type CoordinatorConfig struct {
	TranscriptionDelayMS int
}

// TranscriptionConfig controls pending-delta handling.
type TranscriptionConfig struct {
	DeltaPolicy string
}

// StoreConfig locates the audio slot database. Empty Path selects the XDG data default.
type StoreConfig struct {
	Path string
}

// TranscriptConfig controls delta normalization.
type TranscriptConfig struct {
	CapitalizeSentences bool
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
