package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/qlip/internal/media"
)

// chunkDuration is the span of audio carried by each emitted chunk.
const chunkDuration = 20 * time.Millisecond

// Format describes the s16le PCM layout a capture produces.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) chunkSize() int {
	size := f.SampleRate * f.Channels * 2 * int(chunkDuration/time.Millisecond) / 1000
	if size <= 0 {
		return 640
	}
	return size
}

// Capture streams fixed-size PCM chunks from one Pulse source and implements media.Recorder.
type Capture struct {
	device Device
	format Format

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

var _ media.Recorder = (*Capture)(nil)

// StartCapture opens a mono or multi-channel s16 record stream on selected.
func StartCapture(ctx context.Context, selected Device, format Format) (*Capture, error) {
	if format.SampleRate <= 0 {
		format.SampleRate = 44100
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	client, err := connect()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := newCapture(selected, format)
	capture.client = client

	channels := pulse.RecordMono
	if format.Channels > 1 {
		channels = pulse.RecordStereo
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		channels,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(format.chunkSize())),
		pulse.RecordMediaName("qlip recording"),
	)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = capture.Stop()
		case <-capture.stopCh:
		}
	}()

	return capture, nil
}

func newCapture(device Device, format Format) *Capture {
	return &Capture{
		device: device,
		format: format,
		chunks: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Chunks returns the PCM stream as fixed-size byte slices.
func (c *Capture) Chunks() <-chan []byte {
	return c.chunks
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream, flushes residual PCM, and closes Chunks exactly once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	residual := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(residual) > 0 {
		select {
		case c.chunks <- residual:
		default:
		}
	}

	close(c.chunks)
	return nil
}

// Close is a convenience alias for Stop.
func (c *Capture) Close() {
	_ = c.Stop()
}

// Finalize joins the collected chunks into a WAV artifact.
func (c *Capture) Finalize(chunks [][]byte) (media.Artifact, error) {
	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	pcm := make([]byte, 0, size)
	for _, chunk := range chunks {
		pcm = append(pcm, chunk...)
	}

	data, err := EncodeWAV(pcm, c.format)
	if err != nil {
		return media.Artifact{}, err
	}
	return media.Artifact{Data: data, MIMEType: WAVMIMEType}, nil
}

// onPCM receives raw Pulse frames and emits chunk-sized slices to c.chunks.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add shares the mutex with stopped so Stop's Wait never races it.
	c.inflight.Add(1)

	size := c.format.chunkSize()
	c.pending = append(c.pending, buffer...)

	var ready [][]byte
	for len(c.pending) >= size {
		chunk := make([]byte, size)
		copy(chunk, c.pending[:size])
		c.pending = c.pending[size:]
		ready = append(ready, chunk)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))

	for _, chunk := range ready {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.chunks <- chunk:
		}
	}

	return len(buffer), nil
}
