package doctor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rbright/qlip/internal/blobstore"
	"github.com/rbright/qlip/internal/config"
	"github.com/rbright/qlip/internal/ipc"
	"github.com/rbright/qlip/internal/media"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.HasPrefix(v, "/run") },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckBinary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "busctl"), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir)

	check := checkBinary("busctl", "desktop notifications")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "desktop notifications")

	check = checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckDaemon(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	check := checkDaemon(context.Background())
	require.True(t, check.Pass)
	require.Equal(t, "not running", check.Message)

	listener, err := net.Listen("unix", filepath.Join(runtimeDir, ipc.SocketName))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(func(context.Context, ipc.Request) ipc.Response {
			return ipc.Response{OK: true}
		}))
	}()

	check = checkDaemon(context.Background())
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "running at")

	cancel()
	require.NoError(t, <-done)

	t.Setenv("XDG_RUNTIME_DIR", "")
	require.False(t, checkDaemon(context.Background()).Pass)
}

func TestCheckEngine(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	cfg := config.Default()
	cfg.Engine.GRPC = listener.Addr().String()
	check := checkEngine(context.Background(), cfg)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "serving at")

	cfg.Engine.GRPC = ""
	check = checkEngine(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Equal(t, "engine.grpc is empty", check.Message)
}

func TestCheckEngineUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	cfg := config.Default()
	cfg.Engine.GRPC = addr
	cfg.Engine.DialTimeoutMS = int((100 * time.Millisecond).Milliseconds())

	check := checkEngine(context.Background(), cfg)
	require.False(t, check.Pass)
}

func TestCheckStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "nested", "audio.db")

	check := checkStore(context.Background(), cfg)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "empty")

	backend, err := blobstore.OpenSQLite(context.Background(), cfg.Store.Path)
	require.NoError(t, err)
	require.NoError(t, backend.Put(context.Background(), blobstore.SlotKey, media.Artifact{Data: []byte("wav"), MIMEType: "audio/wav"}))
	require.NoError(t, backend.Close())

	check = checkStore(context.Background(), cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "holds a recording")
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(context.Background(), config.Default())
	require.False(t, check.Pass)
	require.Equal(t, "audio.device", check.Name)
}

func TestRunSkipsBusctlWhenIndicatorDisabled(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Indicator.Enable = false
	cfg.Engine.GRPC = ""
	cfg.Store.Path = filepath.Join(t.TempDir(), "audio.db")

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	require.False(t, report.OK())

	names := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		names = append(names, check.Name)
	}
	require.Equal(t, []string{"config", "XDG_RUNTIME_DIR", "daemon", "audio.device", "engine.health", "store"}, names)
}
