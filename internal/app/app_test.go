package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/qlip/internal/audio"
	"github.com/rbright/qlip/internal/ipc"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "qlip")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerStatusWhenDaemonNotRunning(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "not running\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerRecordFailsWhenDaemonNotRunning(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "qlip daemon is not running")
}

func TestRunnerForwardsCommandsToDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 16)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandConsume:
			return ipc.Response{OK: true, State: "idle", Message: "hello world"}
		case ipc.CommandBoth:
			return ipc.Response{Error: "device does not support simultaneous recording and transcription"}
		default:
			return ipc.Response{OK: true, State: "recording_only"}
		}
	})
	defer shutdown()

	cases := []struct {
		command  string
		exit     int
		stdout   string
		stderrIn string
	}{
		{command: "record", stdout: "recording_only\n"},
		{command: "stop-record", stdout: "recording_only\n"},
		{command: "consume", stdout: "hello world\n"},
		{command: "both", exit: 1, stderrIn: "simultaneous"},
	}

	for _, tc := range cases {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, tc.command})
		require.Equal(t, tc.exit, exitCode, tc.command)
		require.Equal(t, tc.stdout, stdout.String(), tc.command)
		if tc.stderrIn != "" {
			require.Contains(t, stderr.String(), tc.stderrIn)
		} else {
			require.Empty(t, stderr.String(), tc.command)
		}
		require.Equal(t, tc.command, <-commands)
	}
}

func TestRunnerStatusPrintsTextAndJSON(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, _ ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "combined", Status: &ipc.Status{
			Capability: "concurrent_supported",
			Mode:       "combined",
			Active:     true,
			Recording:  ipc.RecordingStatus{State: "recording", ElapsedSeconds: 75},
			Transcription: ipc.TranscriptionStatus{
				Listening: true,
				Interim:   "half a sen",
				Engine:    "engine is not serving",
			},
			Memo: ipc.MemoStatus{Chars: 4, Bytes: 4},
		}}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"}))
	text := stdout.String()
	require.Contains(t, text, "capability:  concurrent_supported")
	require.Contains(t, text, "recording:   recording 1:15")
	require.Contains(t, text, "listening:   yes")
	require.Contains(t, text, "interim:     half a sen")
	require.Contains(t, text, "engine:      unavailable (engine is not serving)")
	require.Contains(t, text, "memo:        4 chars, 4 bytes")

	stdout.Reset()
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "--json", "status"}))
	var decoded ipc.Status
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &decoded))
	require.Equal(t, "combined", decoded.Mode)
	require.True(t, decoded.Active)
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), ipc.SocketName)

	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		if req.Command == ipc.CommandStatus {
			return ipc.Response{OK: true, State: "idle"}
		}
		return ipc.Response{Error: "unsupported"}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "idle", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, "bogus")
	require.True(t, handled)
	require.EqualError(t, err, "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), ipc.SocketName)
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), ipc.SocketName)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.ErrorContains(t, err, "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] audio.device")
	require.Contains(t, stdout.String(), "[OK] store")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestWriteDevices(t *testing.T) {
	devices := []audio.Device{
		{ID: "alsa_input.usb", Description: "USB Mic", State: "idle", Available: true, Default: true},
		{ID: "alsa_input.pci", Description: "Built-in", State: "suspended", Muted: true},
	}

	var text bytes.Buffer
	require.NoError(t, writeDevices(&text, devices, false))
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "DESCRIPTION")
	require.True(t, strings.HasPrefix(lines[1], "*"))
	require.Contains(t, lines[1], "alsa_input.usb")
	require.Contains(t, lines[2], "suspended")
	require.Contains(t, lines[2], "Built-in")

	var raw bytes.Buffer
	require.NoError(t, writeDevices(&raw, devices, true))
	var decoded []audio.Device
	require.NoError(t, json.Unmarshal(raw.Bytes(), &decoded))
	require.Equal(t, devices, decoded)
}

func TestRunnerDaemonRefusesSecondInstance(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, ipc.SocketName), func(_ context.Context, _ ipc.Request) ipc.Response {
		return ipc.Response{OK: true}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "daemon"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), ipc.ErrAlreadyRunning.Error())
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte("{}\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
