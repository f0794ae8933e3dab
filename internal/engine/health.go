// Package engine reports recognition engine availability and builds engines
// for transcription sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rbright/qlip/internal/config"
)

const defaultDialTimeout = time.Second

var (
	ErrNoEndpoint = errors.New("engine endpoint is empty")
	ErrNotServing = errors.New("engine is not serving")
)

// Config addresses the recognition engine's gRPC health service.
type Config struct {
	Endpoint    string
	Service     string
	DialTimeout time.Duration
}

// Dial connects to endpoint over plaintext gRPC and waits until the connection
// is ready or timeout elapses. The caller owns the returned connection.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*grpc.ClientConn, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial engine grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for engine grpc readiness: %w", err)
	}
	return conn, nil
}

// Check dials the engine and runs one grpc.health.v1 Check.
func Check(ctx context.Context, cfg Config) error {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	conn, err := Dial(ctx, cfg.Endpoint, cfg.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: cfg.Service})
	if err != nil {
		return fmt.Errorf("engine health check: %w", err)
	}
	if status := resp.GetStatus(); status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, status)
	}
	return nil
}

// waitForReady blocks until the connection is Ready, shut down, or ctx ends.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}

// FromConfig maps the engine section of the runtime config.
func FromConfig(cfg config.EngineConfig) Config {
	return Config{
		Endpoint:    cfg.GRPC,
		Service:     cfg.HealthService,
		DialTimeout: time.Duration(cfg.DialTimeoutMS) * time.Millisecond,
	}
}
