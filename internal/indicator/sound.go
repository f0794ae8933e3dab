package indicator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueSaved
	cueError
)

const (
	cueRate   = 16000
	cueGap    = 22 * time.Millisecond
	cueVolume = 0.18
	cueFade   = 5 * time.Millisecond
)

// note is one tone of a cue.
type note struct {
	hz  float64
	dur time.Duration
}

// cueScores rises for starts and saves, falls for stops and errors.
var cueScores = map[cueKind][]note{
	cueStart: {{880, 70 * time.Millisecond}, {1175, 70 * time.Millisecond}},
	cueStop:  {{620, 120 * time.Millisecond}},
	cueSaved: {{740, 65 * time.Millisecond}, {988, 90 * time.Millisecond}},
	cueError: {{480, 75 * time.Millisecond}, {360, 90 * time.Millisecond}},
}

var renderedCues = sync.OnceValue(func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cueScores))
	for kind, score := range cueScores {
		out[kind] = renderScore(score, cueVolume)
	}
	return out
})

func cuePCM(kind cueKind) []int16 {
	return renderedCues()[kind]
}

func emitCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("emit cue: %w", err)
	}
	pcm := cuePCM(kind)
	if len(pcm) == 0 {
		return nil
	}
	return playPCM(pcm)
}

// pcmSource feeds a fixed sample slice to a pulse playback stream.
type pcmSource struct {
	samples []int16
	pos     int
}

func (s *pcmSource) read(buf []int16) (int, error) {
	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	if s.pos >= len(s.samples) {
		return n, pulse.EndOfData
	}
	return n, nil
}

func playPCM(pcm []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("qlip"),
		pulse.ClientApplicationIconName(notificationIcon),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	src := &pcmSource{samples: pcm}
	stream, err := client.NewPlayback(
		pulse.Int16Reader(src.read),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("qlip cue"),
	)
	if err != nil {
		return fmt.Errorf("open cue playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	return nil
}

// renderScore concatenates notes separated by cueGap of silence.
func renderScore(score []note, volume float64) []int16 {
	var pcm []int16
	for i, n := range score {
		if i > 0 {
			pcm = append(pcm, make([]int16, sampleCount(cueGap))...)
		}
		pcm = append(pcm, renderNote(n, volume)...)
	}
	return pcm
}

// renderNote renders a sine with raised-cosine fades so the edges start and end at zero.
func renderNote(n note, volume float64) []int16 {
	total := sampleCount(n.dur)
	if total <= 0 || n.hz <= 0 || volume <= 0 {
		return nil
	}
	fade := min(sampleCount(cueFade), total/2)

	pcm := make([]int16, total)
	step := 2 * math.Pi * n.hz / cueRate
	for i := range pcm {
		gain := volume
		if edge := min(i, total-1-i); edge < fade {
			gain *= 0.5 - 0.5*math.Cos(math.Pi*float64(edge)/float64(fade))
		}
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * gain * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueRate))
}
