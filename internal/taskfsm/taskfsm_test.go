package taskfsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"conductor/internal/persistence"
)

func TestGoldenPathIsAllValid(t *testing.T) {
	path := []persistence.TaskStatus{
		persistence.TaskPending,
		persistence.TaskDecomposing,
		persistence.TaskExecuting,
		persistence.TaskReview,
		persistence.TaskPRCreated,
		persistence.TaskDone,
	}
	for i := 0; i < len(path)-1; i++ {
		require.True(t, IsValidTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestReviewCanLoopBackToExecuting(t *testing.T) {
	require.True(t, IsValidTransition(persistence.TaskReview, persistence.TaskExecuting))
}

func TestFailedCanRetryToPending(t *testing.T) {
	require.True(t, IsValidTransition(persistence.TaskFailed, persistence.TaskPending))
}

func TestDoneIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(persistence.TaskDone))
	require.Empty(t, ValidNextStates(persistence.TaskDone))
}

func TestInvalidTransitionRejected(t *testing.T) {
	err := CheckTransition(persistence.TaskPending, persistence.TaskDone)
	require.Error(t, err)
	var invalid *InvalidTransition
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, persistence.TaskPending, invalid.From)
	require.Equal(t, persistence.TaskDone, invalid.To)
}

func TestHumanReviewCanReturnToDecomposingOrExecuting(t *testing.T) {
	require.True(t, IsValidTransition(persistence.TaskHumanReview, persistence.TaskDecomposing))
	require.True(t, IsValidTransition(persistence.TaskHumanReview, persistence.TaskExecuting))
}
