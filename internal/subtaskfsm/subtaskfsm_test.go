package subtaskfsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"conductor/internal/persistence"
)

func TestGoldenPath(t *testing.T) {
	require.True(t, IsValidTransition(persistence.SubtaskPending, persistence.SubtaskQueued))
	require.True(t, IsValidTransition(persistence.SubtaskQueued, persistence.SubtaskRunning))
	require.True(t, IsValidTransition(persistence.SubtaskRunning, persistence.SubtaskCompleted))
}

func TestRunningSelfLoopPermitted(t *testing.T) {
	require.True(t, IsValidTransition(persistence.SubtaskRunning, persistence.SubtaskRunning))
}

func TestFailedRetriesToPending(t *testing.T) {
	require.True(t, IsValidTransition(persistence.SubtaskFailed, persistence.SubtaskPending))
}

func TestCompletedIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(persistence.SubtaskCompleted))
	require.Empty(t, ValidNextStates(persistence.SubtaskCompleted))
}

func TestPendingCannotJumpToCompleted(t *testing.T) {
	require.False(t, IsValidTransition(persistence.SubtaskPending, persistence.SubtaskCompleted))
	require.Error(t, CheckTransition(persistence.SubtaskPending, persistence.SubtaskCompleted))
}
