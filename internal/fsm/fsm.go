// Package fsm defines the recording session lifecycle transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

const (
	EventStart Event = "start"
	EventStop  Event = "stop"
	EventFail  Event = "fail"
	EventClear Event = "clear"
)

// Transition returns the state reached by applying event to current.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateFailed, nil
	}

	switch current {
	case StateIdle, StateStopped, StateFailed:
		switch event {
		case EventStart:
			return StateRecording, nil
		case EventClear:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether the state holds a capture device.
func (s State) Active() bool {
	return s == StateRecording
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
