// Package taskfsm defines the Task state machine: the legal transitions
// between statuses and the InvalidTransition error raised when a caller
// requests one that isn't. Modeled on the teacher's architect FSM
// (pkg/architect/architect_fsm.go), which keeps a canonical
// map[State][]State transition table as the single source of truth
// instead of scattering `if` checks across the processor.
package taskfsm

import (
	"fmt"

	"conductor/internal/persistence"
)

// transitions is the canonical Task transition table (spec §4.1), extended
// with the human_review/pr_created -> pending edges spec §4.12's webhook
// intake uses to resume a task after a human answers a question or pushes
// a board card back to Redo.
var transitions = map[persistence.TaskStatus][]persistence.TaskStatus{
	persistence.TaskPending: {
		persistence.TaskDecomposing, persistence.TaskFailed,
	},
	persistence.TaskDecomposing: {
		persistence.TaskExecuting, persistence.TaskHumanReview, persistence.TaskFailed,
	},
	persistence.TaskExecuting: {
		persistence.TaskReview, persistence.TaskHumanReview, persistence.TaskFailed,
	},
	persistence.TaskReview: {
		persistence.TaskPRCreated, persistence.TaskExecuting, persistence.TaskHumanReview, persistence.TaskFailed,
	},
	persistence.TaskHumanReview: {
		persistence.TaskDecomposing, persistence.TaskExecuting, persistence.TaskPending, persistence.TaskFailed,
	},
	persistence.TaskPRCreated: {
		persistence.TaskDone, persistence.TaskHumanReview, persistence.TaskPending, persistence.TaskFailed,
	},
	persistence.TaskFailed: {
		persistence.TaskPending,
	},
	persistence.TaskDone: {},
}

// InvalidTransition reports an illegal Task status change. Per spec §4.1
// this is a programmer error, never retried.
type InvalidTransition struct {
	From persistence.TaskStatus
	To   persistence.TaskStatus
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid task transition: %s -> %s", e.From, e.To)
}

// ValidNextStates returns the statuses reachable in one step from from.
func ValidNextStates(from persistence.TaskStatus) []persistence.TaskStatus {
	return transitions[from]
}

// IsValidTransition reports whether from -> to is a legal edge.
func IsValidTransition(from, to persistence.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing transitions.
func IsTerminal(status persistence.TaskStatus) bool {
	return status == persistence.TaskDone
}

// CheckTransition returns an *InvalidTransition if from -> to is illegal,
// and nil otherwise. Callers combine this with persistence.UpdateTaskStatus:
//
//	if err := taskfsm.CheckTransition(task.Status, next); err != nil {
//	    return err
//	}
//	return ops.UpdateTaskStatus(task.ID, next)
func CheckTransition(from, to persistence.TaskStatus) error {
	if !IsValidTransition(from, to) {
		return &InvalidTransition{From: from, To: to}
	}
	return nil
}
