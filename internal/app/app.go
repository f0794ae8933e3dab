// Package app dispatches qlip commands to the daemon, the IPC client, and local diagnostics.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/rbright/qlip/internal/audio"
	"github.com/rbright/qlip/internal/cli"
	"github.com/rbright/qlip/internal/config"
	"github.com/rbright/qlip/internal/doctor"
	"github.com/rbright/qlip/internal/ipc"
	"github.com/rbright/qlip/internal/logging"
	"github.com/rbright/qlip/internal/version"
)

const (
	binaryName     = "qlip"
	forwardTimeout = 2 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New(logging.Options{Verbose: parsed.Verbose})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		if parsed.Command == cli.CommandDaemon || parsed.Command == cli.CommandDoctor {
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch {
	case parsed.Command == cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case parsed.Command == cli.CommandDevices:
		return r.commandDevices(ctx, parsed.JSON)
	case parsed.Command == cli.CommandDaemon:
		return r.commandDaemon(ctx, cfgLoaded.Config, logger)
	case parsed.Command.Forwarded():
		return r.commandForward(ctx, parsed)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context, asJSON bool) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stderr, "error: no capture sources found")
		return 1
	}
	if err := writeDevices(r.Stdout, devices, asJSON); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// writeDevices lists capture sources, marking the server default with "*".
func writeDevices(w io.Writer, devices []audio.Device, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tSTATE\tAVAILABLE\tMUTED\tDESCRIPTION")
	for _, d := range devices {
		mark := ""
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, d.ID, d.State, yesNo(d.Available), yesNo(d.Muted), d.Description)
	}
	return tw.Flush()
}

// commandForward sends a session command to the running daemon and prints its answer.
func (r Runner) commandForward(ctx context.Context, parsed cli.Parsed) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	command := string(parsed.Command)
	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		if parsed.Command == cli.CommandStatus {
			fmt.Fprintln(r.Stdout, "not running")
			return 0
		}
		fmt.Fprintf(r.Stderr, "error: qlip daemon is not running (start it with `%s daemon`)\n", binaryName)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	switch parsed.Command {
	case cli.CommandStatus:
		if parsed.JSON && resp.Status != nil {
			enc := json.NewEncoder(r.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp.Status); err != nil {
				fmt.Fprintf(r.Stderr, "error: encode status: %v\n", err)
				return 1
			}
			return 0
		}
		fmt.Fprint(r.Stdout, formatStatus(resp))
	case cli.CommandConsume:
		if resp.Message != "" {
			fmt.Fprintln(r.Stdout, resp.Message)
		}
	default:
		if resp.State != "" {
			fmt.Fprintln(r.Stdout, resp.State)
		}
	}
	return 0
}

// tryForward reports handled=false only when no daemon listens on socketPath.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.Unreachable(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
