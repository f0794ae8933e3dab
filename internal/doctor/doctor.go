// Package doctor runs runtime readiness diagnostics for config, audio, the engine and storage.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/qlip/internal/audio"
	"github.com/rbright/qlip/internal/blobstore"
	"github.com/rbright/qlip/internal/config"
	"github.com/rbright/qlip/internal/engine"
	"github.com/rbright/qlip/internal/ipc"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	}}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir is set", "XDG_RUNTIME_DIR is empty; the daemon socket cannot be created"))

	checks = append(checks, checkDaemon(ctx))

	if cfg.Config.Indicator.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkEngine(ctx, cfg.Config))
	checks = append(checks, checkStore(ctx, cfg.Config))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkDaemon reports whether a daemon currently owns the socket. Either answer passes.
func checkDaemon(ctx context.Context) Check {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "daemon", Pass: false, Message: err.Error()}
	}
	alive, err := ipc.Probe(ctx, socketPath, 250*time.Millisecond)
	switch {
	case err != nil:
		return Check{Name: "daemon", Pass: false, Message: err.Error()}
	case alive:
		return Check{Name: "daemon", Pass: true, Message: fmt.Sprintf("running at %s", socketPath)}
	default:
		return Check{Name: "daemon", Pass: true, Message: "not running"}
	}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkEngine runs the gRPC health check against the recognition engine.
func checkEngine(ctx context.Context, cfg config.Config) Check {
	target := engine.FromConfig(cfg.Engine)
	if strings.TrimSpace(target.Endpoint) == "" {
		return Check{Name: "engine.health", Pass: false, Message: "engine.grpc is empty"}
	}
	if err := engine.Check(ctx, target); err != nil {
		return Check{Name: "engine.health", Pass: false, Message: err.Error()}
	}
	return Check{Name: "engine.health", Pass: true, Message: fmt.Sprintf("serving at %s", target.Endpoint)}
}

// checkStore opens the audio database and runs its migration.
func checkStore(ctx context.Context, cfg config.Config) Check {
	path, err := config.ResolveStorePath(cfg.Store.Path)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	backend, err := blobstore.OpenSQLite(ctx, path)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	defer backend.Close()

	_, found, err := backend.Get(ctx, blobstore.SlotKey)
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	state := "empty"
	if found {
		state = "holds a recording"
	}
	return Check{Name: "store", Pass: true, Message: fmt.Sprintf("%s (%s)", path, state)}
}
