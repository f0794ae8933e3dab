package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateRecording, next)

	next, err = Transition(next, EventStop)
	require.NoError(t, err)
	require.Equal(t, StateStopped, next)

	next, err = Transition(next, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateRecording, next)
}

func TestTransitionFailFromAnyStateGoesFailed(t *testing.T) {
	states := []State{StateIdle, StateRecording, StateStopped, StateFailed}
	for _, state := range states {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateFailed, next)
	}
}

func TestTransitionMatrix(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle stop invalid", state: StateIdle, event: EventStop, want: StateIdle, wantErr: true},
		{name: "idle clear valid", state: StateIdle, event: EventClear, want: StateIdle},
		{name: "recording start invalid", state: StateRecording, event: EventStart, want: StateRecording, wantErr: true},
		{name: "recording clear invalid", state: StateRecording, event: EventClear, want: StateRecording, wantErr: true},
		{name: "stopped stop invalid", state: StateStopped, event: EventStop, want: StateStopped, wantErr: true},
		{name: "stopped clear valid", state: StateStopped, event: EventClear, want: StateIdle},
		{name: "failed start valid", state: StateFailed, event: EventStart, want: StateRecording},
		{name: "failed clear valid", state: StateFailed, event: EventClear, want: StateIdle},
		{name: "failed stop invalid", state: StateFailed, event: EventStop, want: StateFailed, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestActive(t *testing.T) {
	require.True(t, StateRecording.Active())
	require.False(t, StateStopped.Active())
	require.False(t, StateIdle.Active())
}
