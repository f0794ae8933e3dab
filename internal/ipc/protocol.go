package ipc

// Commands understood by the daemon.
const (
	CommandStatus      = "status"
	CommandRecord      = "record"
	CommandStopRecord  = "stop-record"
	CommandDictate     = "dictate"
	CommandStopDictate = "stop-dictate"
	CommandBoth        = "both"
	CommandStop        = "stop"
	CommandClear       = "clear"
	CommandConsume     = "consume"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool    `json:"ok"`
	State   string  `json:"state,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// Status is the wire form of a coordinator snapshot plus memo statistics.
type Status struct {
	Capability    string              `json:"capability"`
	Checking      bool                `json:"checking"`
	Mode          string              `json:"mode"`
	Active        bool                `json:"active"`
	StartPending  bool                `json:"start_pending,omitempty"`
	Recording     RecordingStatus     `json:"recording"`
	Transcription TranscriptionStatus `json:"transcription"`
	Memo          MemoStatus          `json:"memo"`
	Error         string              `json:"error,omitempty"`
}

type RecordingStatus struct {
	State          string `json:"state"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Bytes          int    `json:"bytes,omitempty"`
	MIMEType       string `json:"mime_type,omitempty"`
	Playback       string `json:"playback,omitempty"`
	Error          string `json:"error,omitempty"`
}

type TranscriptionStatus struct {
	Listening bool   `json:"listening"`
	Starting  bool   `json:"starting,omitempty"`
	Interim   string `json:"interim,omitempty"`
	Pending   int    `json:"pending,omitempty"`
	Engine    string `json:"engine,omitempty"`
	Error     string `json:"error,omitempty"`
}

type MemoStatus struct {
	Chars     int    `json:"chars"`
	Bytes     int    `json:"bytes"`
	LastSaved string `json:"last_saved,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	Loading   bool   `json:"loading,omitempty"`
	Error     string `json:"error,omitempty"`
}
