// Package subtaskfsm defines the Subtask state machine, mirroring
// taskfsm's map[Status][]Status shape (grounded on the same teacher
// pattern, pkg/architect/architect_fsm.go).
package subtaskfsm

import (
	"fmt"

	"conductor/internal/persistence"
)

// transitions is the canonical Subtask transition table (spec §4.2).
//
// running -> running is intentional, not a leftover: it permits idempotent
// metadata writes (e.g. re-recording filesModified) while an agent run is
// still in flight, without forcing a status round-trip. See DESIGN.md's
// Open Questions section.
var transitions = map[persistence.SubtaskStatus][]persistence.SubtaskStatus{
	persistence.SubtaskPending: {
		persistence.SubtaskQueued, persistence.SubtaskRunning, persistence.SubtaskFailed,
	},
	persistence.SubtaskQueued: {
		persistence.SubtaskRunning, persistence.SubtaskFailed,
	},
	persistence.SubtaskRunning: {
		persistence.SubtaskRunning, persistence.SubtaskCompleted, persistence.SubtaskFailed,
	},
	persistence.SubtaskFailed: {
		persistence.SubtaskPending,
	},
	persistence.SubtaskCompleted: {},
}

// InvalidTransition reports an illegal Subtask status change.
type InvalidTransition struct {
	From persistence.SubtaskStatus
	To   persistence.SubtaskStatus
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid subtask transition: %s -> %s", e.From, e.To)
}

// ValidNextStates returns the statuses reachable in one step from from.
func ValidNextStates(from persistence.SubtaskStatus) []persistence.SubtaskStatus {
	return transitions[from]
}

// IsValidTransition reports whether from -> to is a legal edge.
func IsValidTransition(from, to persistence.SubtaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing transitions.
func IsTerminal(status persistence.SubtaskStatus) bool {
	return status == persistence.SubtaskCompleted
}

// CheckTransition returns an *InvalidTransition if from -> to is illegal.
func CheckTransition(from, to persistence.SubtaskStatus) error {
	if !IsValidTransition(from, to) {
		return &InvalidTransition{From: from, To: to}
	}
	return nil
}
