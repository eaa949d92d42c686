package hivemq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_HappyPath(t *testing.T) {
	t.Parallel()

	var seen []string
	m := newStateMachine(func(from, to State) {
		seen = append(seen, from.String()+">"+to.String())
	})

	for _, next := range []State{StateStarting, StateWaitingHealthy, StateRunning, StateStopping, StateStopped} {
		require.NoError(t, m.transition(next))
	}

	assert.Equal(t, StateStopped, m.get())
	assert.Equal(t, []string{
		"created>starting",
		"starting>waiting_healthy",
		"waiting_healthy>running",
		"running>stopping",
		"stopping>stopped",
	}, seen)
}

func TestStateMachine_FailurePath(t *testing.T) {
	t.Parallel()

	m := newStateMachine(nil)
	require.NoError(t, m.transition(StateStarting))
	require.NoError(t, m.transition(StateWaitingHealthy))
	require.NoError(t, m.transition(StateFailed))
	require.NoError(t, m.transition(StateStopping))
	require.NoError(t, m.transition(StateStopped))
}

func TestStateMachine_RejectsInvalidTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path []State
		bad  State
	}{
		{"run before start", nil, StateRunning},
		{"restart after stop", []State{StateStopped}, StateStarting},
		{"double start", []State{StateStarting}, StateStarting},
		{"stop while starting", []State{StateStarting}, StateStopping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newStateMachine(nil)
			for _, s := range tt.path {
				require.NoError(t, m.transition(s))
			}
			err := m.transition(tt.bad)
			require.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "waiting_healthy", StateWaitingHealthy.String())
	assert.Equal(t, "state(42)", State(42).String())
}
