// ABOUTME: Tests for the FSM behaviour
// ABOUTME: Covers the a -> b -> c walk, registration errors and stay-in-place semantics

package behaviour

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingState(log *[]string, name, event string) *FuncState {
	return NewState(name, func(ctx context.Context) (string, error) {
		*log = append(*log, name)
		return event, nil
	})
}

func newABC(t *testing.T, log *[]string) *FSM {
	t.Helper()
	f := NewFSM("abc", nil)
	require.NoError(t, f.RegisterState("a", recordingState(log, "a", "move_to_b"), true))
	require.NoError(t, f.RegisterState("b", recordingState(log, "b", "move_to_c"), false))
	require.NoError(t, f.RegisterFinalState("c", recordingState(log, "c", ""), false))
	require.NoError(t, f.RegisterTransition("a", "b", "move_to_b"))
	require.NoError(t, f.RegisterTransition("b", "c", "move_to_c"))
	return f
}

func TestFSM_WalksToFinalState(t *testing.T) {
	var log []string
	f := newABC(t, &log)
	ctx := context.Background()

	var visited []string
	for i := 0; i < 10 && !f.IsDone(); i++ {
		require.NoError(t, f.Act(ctx))
		visited = append(visited, f.Current())
		if f.Current() != "c" {
			assert.False(t, f.IsDone())
		}
	}

	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.Equal(t, []string{"b", "c", "c"}, visited)
	assert.True(t, f.IsDone())
}

func TestFSM_FinalStateMustBeDone(t *testing.T) {
	var log []string
	f := newABC(t, &log)
	ctx := context.Background()

	require.NoError(t, f.Act(ctx))
	require.NoError(t, f.Act(ctx))
	assert.Equal(t, "c", f.Current())
	assert.False(t, f.IsDone(), "c entered but has not acted")

	require.NoError(t, f.Act(ctx))
	assert.True(t, f.IsDone())
}

func TestFSM_NotStarted(t *testing.T) {
	f := NewFSM("empty", nil)
	err := f.Act(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, f.RegisterState("a", NewState("a", func(ctx context.Context) (string, error) { return "", nil }), false))
	err = f.Act(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted, "registered without initial")
	assert.Equal(t, "", f.Current())
}

func TestFSM_DuplicateStateLeavesMachineUnchanged(t *testing.T) {
	var log []string
	f := newABC(t, &log)

	states := f.States()
	initial := f.InitialState()
	final := f.FinalStates()

	err := f.RegisterState("a", recordingState(&log, "other", ""), false)
	assert.ErrorIs(t, err, ErrDuplicateState)
	err = f.RegisterFinalState("b", recordingState(&log, "other", ""), true)
	assert.ErrorIs(t, err, ErrDuplicateState)

	assert.Equal(t, states, f.States())
	assert.Equal(t, initial, f.InitialState())
	assert.Equal(t, final, f.FinalStates())
	s, ok := f.State("a")
	require.True(t, ok)
	assert.Equal(t, "a", s.Name())
}

func TestFSM_DuplicateTransitionLeavesMachineUnchanged(t *testing.T) {
	var log []string
	f := newABC(t, &log)
	before := f.Transitions()

	err := f.RegisterTransition("a", "b", "move_to_b")
	assert.ErrorIs(t, err, ErrDuplicateTransition)

	// Same (from, event) with another destination is also a duplicate
	err = f.RegisterTransition("a", "c", "move_to_b")
	assert.ErrorIs(t, err, ErrDuplicateTransition)

	assert.Equal(t, before, f.Transitions())
}

func TestFSM_InitialLastRegistrationWins(t *testing.T) {
	var log []string
	f := NewFSM("m", nil)
	require.NoError(t, f.RegisterState("first", recordingState(&log, "first", ""), true))
	require.NoError(t, f.RegisterState("second", recordingState(&log, "second", ""), true))
	assert.Equal(t, "second", f.InitialState())

	require.NoError(t, f.Act(context.Background()))
	assert.Equal(t, []string{"second"}, log)
}

func TestFSM_NoMatchingTransitionStaysInPlace(t *testing.T) {
	var log []string
	f := NewFSM("m", nil)
	require.NoError(t, f.RegisterState("a", recordingState(&log, "a", "unexpected"), true))
	require.NoError(t, f.RegisterFinalState("b", recordingState(&log, "b", ""), false))
	require.NoError(t, f.RegisterTransition("a", "b", "expected"))

	for i := 0; i < 3; i++ {
		require.NoError(t, f.Act(context.Background()))
		assert.Equal(t, "a", f.Current())
	}
	assert.False(t, f.IsDone())
	// FuncState is done after its first run and is not re-entered
	assert.Equal(t, []string{"a"}, log)
}

func TestFSM_EmptyEventTransition(t *testing.T) {
	var log []string
	f := NewFSM("m", nil)
	require.NoError(t, f.RegisterState("a", recordingState(&log, "a", ""), true))
	require.NoError(t, f.RegisterFinalState("b", recordingState(&log, "b", ""), false))
	require.NoError(t, f.RegisterTransition("a", "b", ""))

	require.NoError(t, f.Act(context.Background()))
	assert.Equal(t, "b", f.Current())
}

func TestFSM_TransitionToUnknownState(t *testing.T) {
	var log []string
	f := NewFSM("m", nil)
	require.NoError(t, f.RegisterState("a", recordingState(&log, "a", "go"), true))
	require.NoError(t, f.RegisterTransition("a", "ghost", "go"))

	err := f.Act(context.Background())
	assert.ErrorIs(t, err, ErrUnknownState)
	assert.Equal(t, "a", f.Current())
}

func TestFSM_CycleResetsStates(t *testing.T) {
	var log []string
	rounds := 0
	f := NewFSM("loop", nil)
	require.NoError(t, f.RegisterState("ping", recordingState(&log, "ping", "next"), true))
	require.NoError(t, f.RegisterState("pong", NewState("pong", func(ctx context.Context) (string, error) {
		log = append(log, "pong")
		rounds++
		if rounds == 2 {
			return "stop", nil
		}
		return "next", nil
	}), false))
	require.NoError(t, f.RegisterFinalState("end", recordingState(&log, "end", ""), false))
	require.NoError(t, f.RegisterTransition("ping", "pong", "next"))
	require.NoError(t, f.RegisterTransition("pong", "ping", "next"))
	require.NoError(t, f.RegisterTransition("pong", "end", "stop"))

	for i := 0; i < 10 && !f.IsDone(); i++ {
		require.NoError(t, f.Act(context.Background()))
	}
	assert.Equal(t, []string{"ping", "pong", "ping", "pong", "end"}, log)
}

func TestFSM_Unregister(t *testing.T) {
	var log []string
	f := newABC(t, &log)

	require.NoError(t, f.UnregisterTransition("a", "b", "move_to_b"))
	assert.ErrorIs(t, f.UnregisterTransition("a", "b", "move_to_b"), ErrUnknownTransition)
	assert.ErrorIs(t, f.UnregisterTransition("b", "a", "move_to_c"), ErrUnknownTransition, "wrong destination")
	assert.Len(t, f.Transitions(), 1)

	require.NoError(t, f.UnregisterState("a"))
	assert.Equal(t, "", f.InitialState())
	assert.Equal(t, []string{"b", "c"}, f.States())
	assert.ErrorIs(t, f.UnregisterState("a"), ErrUnknownState)

	require.NoError(t, f.UnregisterState("c"))
	assert.Empty(t, f.FinalStates())
}

func TestFSM_StateErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	f := NewFSM("m", nil)
	require.NoError(t, f.RegisterState("a", NewState("a", func(ctx context.Context) (string, error) {
		return "", boom
	}), true))

	err := f.Act(context.Background())
	assert.ErrorIs(t, err, boom)
	s, _ := f.State("a")
	assert.False(t, s.IsDone())
}
