// Package cli parses qlip command lines.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandDaemon      Command = "daemon"
	CommandStatus      Command = "status"
	CommandRecord      Command = "record"
	CommandStopRecord  Command = "stop-record"
	CommandDictate     Command = "dictate"
	CommandStopDictate Command = "stop-dictate"
	CommandBoth        Command = "both"
	CommandStop        Command = "stop"
	CommandClear       Command = "clear"
	CommandConsume     Command = "consume"
	CommandDevices     Command = "devices"
	CommandDoctor      Command = "doctor"
	CommandVersion     Command = "version"
	CommandHelp        Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandDaemon:      {},
	CommandStatus:      {},
	CommandRecord:      {},
	CommandStopRecord:  {},
	CommandDictate:     {},
	CommandStopDictate: {},
	CommandBoth:        {},
	CommandStop:        {},
	CommandClear:       {},
	CommandConsume:     {},
	CommandDevices:     {},
	CommandDoctor:      {},
	CommandVersion:     {},
	CommandHelp:        {},
}

// Forwarded reports whether cmd is executed by a running daemon over IPC.
func (c Command) Forwarded() bool {
	switch c {
	case CommandStatus, CommandRecord, CommandStopRecord, CommandDictate, CommandStopDictate,
		CommandBoth, CommandStop, CommandClear, CommandConsume:
		return true
	default:
		return false
	}
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Verbose    bool
	JSON       bool
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "-v", "--verbose":
			parsed.Verbose = true
		case "--json":
			parsed.JSON = true
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if value, ok := strings.CutPrefix(arg, "--config="); ok {
				if value == "" {
					return Parsed{}, errors.New("--config requires a path")
				}
				parsed.ConfigPath = value
				continue
			}
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--verbose] [--json] <command>

Daemon:
  daemon        Run the voice input daemon (probe, record, transcribe, persist)

Commands sent to the daemon:
  status        Print capability, mode and memo statistics
  record        Start recording audio only
  stop-record   Stop recording and persist the audio
  dictate       Start live transcription only
  stop-dictate  Stop live transcription
  both          Start recording and transcription together
  stop          Stop recording and transcription
  clear         Clear the recording, the memo text and the stored audio
  consume       Print the memo text and empty it

Local commands:
  devices       List available input devices
  doctor        Run configuration and environment checks
  version       Print version information
  help          Show this help

Flags:
  --config PATH   Config file path (default: $QLIP_CONFIG, then $XDG_CONFIG_HOME/qlip/config.jsonc)
  -v, --verbose   Log debug events
  --json          Print status or devices as JSON
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
