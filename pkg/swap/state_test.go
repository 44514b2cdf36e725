package swap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		paths := [][]State{
			{StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateSettled},
			{StateAwaitingLockup, StateAwaitingConfirmation, StateSpendBuilt, StateBroadcast, StateSettled},
			{StateAwaitingLockup, StateExpired},
			{StateAwaitingLockup, StateAwaitingConfirmation, StateFailed},
			{StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateFailed},
			{StateFailed},
		}
		for _, path := range paths {
			var seen []State
			lc := newLifecycle("swap", "test", func(_ string, _, to State) {
				seen = append(seen, to)
			})
			for _, to := range path {
				require.NoError(t, lc.transition(to))
			}
			require.Equal(t, path, seen)
			require.Equal(t, path[len(path)-1], lc.State())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		testCases := []struct {
			path []State
			next State
		}{
			{nil, StateBroadcast},
			{nil, StateExpired},
			{[]State{StateAwaitingLockup}, StateSettled},
			{[]State{StateAwaitingLockup, StateAwaitingConfirmation}, StateExpired},
			{[]State{StateAwaitingLockup, StateSpendBuilt}, StateExpired},
			{[]State{StateAwaitingLockup, StateSpendBuilt, StateBroadcast}, StateSpendBuilt},
			{[]State{StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateSettled}, StateFailed},
			{[]State{StateAwaitingLockup, StateExpired}, StateAwaitingLockup},
			{[]State{StateFailed}, StateAwaitingLockup},
		}
		for _, tc := range testCases {
			lc := newLifecycle("swap", "test", nil)
			for _, to := range tc.path {
				require.NoError(t, lc.transition(to))
			}
			before := lc.State()
			require.ErrorIs(t, lc.transition(tc.next), ErrInvalidTransition)
			require.Equal(t, before, lc.State())
		}
	})
}

func TestLifecycleFail(t *testing.T) {
	boom := errors.New("boom")

	lc := newLifecycle("swap", "test", nil)
	require.NoError(t, lc.transition(StateAwaitingLockup))
	require.Equal(t, boom, lc.fail(boom, true))
	require.Equal(t, StateExpired, lc.State())

	// A settled swap stays settled.
	lc = newLifecycle("swap", "test", nil)
	for _, to := range []State{StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateSettled} {
		require.NoError(t, lc.transition(to))
	}
	require.Equal(t, boom, lc.fail(boom, false))
	require.Equal(t, StateSettled, lc.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "AWAITING_CONFIRMATION", StateAwaitingConfirmation.String())
	require.Equal(t, "State(42)", State(42).String())
	require.True(t, StateExpired.IsFinal())
	require.False(t, StateBroadcast.IsFinal())
}
