package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/rbright/qlip/internal/handle"
	"github.com/rbright/qlip/internal/ipc"
	"github.com/rbright/qlip/internal/memo"
	"github.com/rbright/qlip/internal/voice"
)

type storeView interface {
	Current() handle.Handle
	Loading() bool
	Err() string
}

func statusFrom(snap voice.Snapshot, stats memo.Stats, store storeView, engineErr error) ipc.Status {
	status := ipc.Status{
		Capability:   string(snap.Capability),
		Checking:     snap.Checking,
		Mode:         string(snap.Mode),
		Active:       snap.Active,
		StartPending: snap.StartPending,
		Recording: ipc.RecordingStatus{
			State:          string(snap.Recording.State),
			ElapsedSeconds: snap.Recording.Elapsed,
			Playback:       string(snap.Recording.Playback),
			Error:          snap.Recording.Err,
		},
		Transcription: ipc.TranscriptionStatus{
			Listening: snap.Transcription.Listening,
			Starting:  snap.Transcription.Active && !snap.Transcription.Listening,
			Interim:   snap.Transcription.Interim,
			Pending:   snap.Transcription.Pending,
			Error:     snap.Transcription.Err,
		},
		Memo: ipc.MemoStatus{
			Chars:    stats.Chars,
			Bytes:    stats.Bytes,
			AudioURL: string(store.Current()),
			Loading:  store.Loading(),
			Error:    store.Err(),
		},
		Error: snap.Error,
	}
	if artifact := snap.Recording.Artifact; artifact != nil {
		status.Recording.Bytes = artifact.Size()
		status.Recording.MIMEType = artifact.MIMEType
	}
	if engineErr != nil {
		status.Transcription.Engine = engineErr.Error()
	}
	if !stats.LastSaved.IsZero() {
		status.Memo.LastSaved = stats.LastSaved.Format(time.RFC3339)
	}
	return status
}

// formatStatus renders a status response as aligned key/value lines.
func formatStatus(resp ipc.Response) string {
	if resp.Status == nil {
		state := resp.State
		if state == "" {
			state = "idle"
		}
		return state + "\n"
	}
	s := resp.Status

	capability := s.Capability
	if s.Checking {
		capability += " (checking)"
	}
	mode := s.Mode
	if s.StartPending {
		mode += " (transcription starting)"
	}
	recording := s.Recording.State
	if s.Recording.ElapsedSeconds > 0 {
		recording += fmt.Sprintf(" %s", formatElapsed(s.Recording.ElapsedSeconds))
	}
	if s.Recording.Bytes > 0 {
		recording += fmt.Sprintf(" %d bytes", s.Recording.Bytes)
	}
	listening := "no"
	switch {
	case s.Transcription.Listening:
		listening = "yes"
	case s.Transcription.Starting:
		listening = "starting"
	}
	memoLine := fmt.Sprintf("%d chars, %d bytes", s.Memo.Chars, s.Memo.Bytes)
	if s.Memo.LastSaved != "" {
		memoLine += ", saved " + s.Memo.LastSaved
	}

	var b strings.Builder
	fmt.Fprintf(&b, "capability:  %s\n", capability)
	fmt.Fprintf(&b, "mode:        %s\n", mode)
	fmt.Fprintf(&b, "recording:   %s\n", recording)
	fmt.Fprintf(&b, "listening:   %s\n", listening)
	if s.Transcription.Interim != "" {
		fmt.Fprintf(&b, "interim:     %s\n", s.Transcription.Interim)
	}
	if s.Transcription.Engine != "" {
		fmt.Fprintf(&b, "engine:      unavailable (%s)\n", s.Transcription.Engine)
	}
	fmt.Fprintf(&b, "memo:        %s\n", memoLine)
	if s.Error != "" {
		fmt.Fprintf(&b, "error:       %s\n", s.Error)
	}
	if s.Memo.Error != "" {
		fmt.Fprintf(&b, "store error: %s\n", s.Memo.Error)
	}
	return b.String()
}

// formatElapsed renders seconds as m:ss.
func formatElapsed(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
