package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/qlip/internal/audio"
	"github.com/rbright/qlip/internal/blobstore"
	"github.com/rbright/qlip/internal/capability"
	"github.com/rbright/qlip/internal/config"
	"github.com/rbright/qlip/internal/engine"
	"github.com/rbright/qlip/internal/handle"
	"github.com/rbright/qlip/internal/indicator"
	"github.com/rbright/qlip/internal/ipc"
	"github.com/rbright/qlip/internal/media"
	"github.com/rbright/qlip/internal/memo"
	"github.com/rbright/qlip/internal/recording"
	"github.com/rbright/qlip/internal/riva"
	"github.com/rbright/qlip/internal/transcript"
	"github.com/rbright/qlip/internal/transcription"
	"github.com/rbright/qlip/internal/voice"
)

// shutdownSaveTimeout bounds persisting a recording stopped by daemon shutdown.
const shutdownSaveTimeout = 3 * time.Second

// daemon owns the long-lived voice input components.
type daemon struct {
	coord    *voice.Coordinator
	consumer *memo.Consumer
	store    *blobstore.Store
	engines  *engine.Remote
	tr       *transcription.Session
	ind      memo.ActivityIndicator
	logger   *slog.Logger
}

// components lets tests swap hardware-facing pieces.
type components struct {
	devices media.DeviceProvider
	engines *engine.Remote
	backend blobstore.Backend
	ind     memo.ActivityIndicator
}

func (r Runner) commandDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
		OnStale: func(path string) {
			logger.Warn("removed stale daemon socket", "path", path)
		},
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	storePath, err := config.ResolveStorePath(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	backend, err := blobstore.OpenSQLite(ctx, storePath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	devices := audio.NewProvider(logger)
	d, err := newDaemon(cfg, logger, components{
		devices: devices,
		engines: engine.NewRemote(engine.FromConfig(cfg.Engine), riva.NewOpener(riva.FromConfig(cfg), devices, logger), logger),
		backend: backend,
		ind:     indicator.NewDesktop(cfg.Indicator, logger),
	})
	if err != nil {
		_ = backend.Close()
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = d.store.Close() }()

	logger.Info("daemon listening", "socket", socketPath, "store", storePath)
	if err := d.run(ctx, func(ctx context.Context) error {
		return ipc.Serve(ctx, listener, d)
	}); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newDaemon(cfg config.Config, logger *slog.Logger, parts components) (*daemon, error) {
	policy, err := transcription.ParseDeltaPolicy(cfg.Transcription.DeltaPolicy)
	if err != nil {
		return nil, err
	}

	constraints := media.Constraints{
		Input:            cfg.Audio.Input,
		Fallback:         cfg.Audio.Fallback,
		EchoCancellation: cfg.Audio.EchoCancellation,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         1,
	}

	registry := handle.NewRegistry()
	rec := recording.New(parts.devices, registry, recording.Options{Constraints: constraints, Logger: logger})
	tr := transcription.New(parts.engines, transcription.Options{Policy: policy, Logger: logger})
	prober := capability.New(parts.devices, parts.engines, capability.Options{
		Settle:              time.Duration(cfg.Probe.SettleMS) * time.Millisecond,
		Observe:             time.Duration(cfg.Probe.ObserveMS) * time.Millisecond,
		Platform:            cfg.Probe.PlatformHint,
		SequentialPlatforms: cfg.Probe.SequentialPlatforms,
		Constraints:         constraints,
		Logger:              logger,
	})
	coord := voice.New(rec, tr, prober, voice.Options{
		TranscriptionDelay: time.Duration(cfg.Coordinator.TranscriptionDelayMS) * time.Millisecond,
		Logger:             logger,
	})

	store := blobstore.New(parts.backend, registry, blobstore.Options{Logger: logger})
	consumer := memo.New(coord, memo.NewBuffer(""), store, memo.Options{
		Transcript: transcript.Options{CapitalizeSentences: cfg.Transcript.CapitalizeSentences},
		Indicator:  parts.ind,
		Logger:     logger,
	})

	return &daemon{
		coord:    coord,
		consumer: consumer,
		store:    store,
		engines:  parts.engines,
		tr:       tr,
		ind:      parts.ind,
		logger:   logger,
	}, nil
}

// run loads the stored recording, then supervises the coordinator, the consumer,
// the engine health monitor and serve until ctx ends or one of them fails.
func (d *daemon) run(ctx context.Context, serve func(context.Context) error) error {
	if err := d.store.Load(ctx); err != nil {
		d.logger.Warn("load stored recording failed", "error", err.Error())
	}
	d.engines.Refresh(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.coord.Run(gctx) })
	g.Go(func() error { return d.consumer.Run(gctx) })
	g.Go(func() error { return d.engines.Monitor(gctx, engine.DefaultRecheck, d.tr.AvailabilityChanged) })
	g.Go(func() error { return d.watchStore(gctx) })
	g.Go(func() error { return serve(gctx) })
	err := g.Wait()

	// The coordinator stopped both sessions during teardown; keep that recording.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownSaveTimeout)
	defer cancel()
	d.consumer.Handle(saveCtx, d.coord.Snapshot())

	return err
}

// watchStore shows each new storage failure on the activity indicator.
func (d *daemon) watchStore(ctx context.Context) error {
	var shown string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.store.Changes():
		}

		message := d.store.Err()
		if message == shown {
			continue
		}
		shown = message
		if message != "" && d.ind != nil {
			d.ind.ShowError(ctx, message)
		}
	}
}

// Handle executes one IPC command against the coordinator.
func (d *daemon) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var (
		err     error
		message string
	)

	switch req.Command {
	case ipc.CommandStatus:
	case ipc.CommandRecord:
		err = d.coord.StartRecording(ctx)
	case ipc.CommandStopRecord:
		err = d.coord.StopRecording()
	case ipc.CommandDictate:
		err = d.coord.StartTranscription(ctx)
	case ipc.CommandStopDictate:
		err = d.coord.StopTranscription()
	case ipc.CommandBoth:
		err = d.coord.StartBoth(ctx)
	case ipc.CommandStop:
		err = d.coord.StopBoth()
	case ipc.CommandClear:
		err = d.consumer.ClearAll(ctx)
	case ipc.CommandConsume:
		message = d.consumer.Consume()
	default:
		return ipc.Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}

	status := statusFrom(d.coord.Snapshot(), d.consumer.Stats(), d.store, d.engines.LastError())

	resp := ipc.Response{OK: err == nil, State: status.Mode, Message: message, Status: &status}
	if err != nil {
		resp.Error = err.Error()
		d.logger.Warn("command failed", "command", req.Command, "error", resp.Error)
	}
	return resp
}
