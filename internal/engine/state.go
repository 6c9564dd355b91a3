package engine

import "hirepilot/internal/models"

// validTransitions defines the allowed state transitions for conversations.
// Any transition not listed here is invalid and triggers the self-correction
// replay. Staying in the current state is always allowed.
var validTransitions = map[models.ConversationState]map[models.ConversationState]bool{
	models.StateInitial: {
		models.StateGreeting:  true,
		models.StateScreening: true,
		models.StateDeclined:  true,
		models.StateRejected:  true,
		models.StateClosed:    true,
	},
	models.StateGreeting: {
		models.StateScreening: true,
		models.StateDeclined:  true,
		models.StateRejected:  true,
		models.StateClosed:    true,
	},
	models.StateScreening: {
		models.StateScreeningClarify: true,
		models.StateQualification:    true,
		models.StateDeclined:         true,
		models.StateRejected:         true,
		models.StateClosed:           true,
	},
	models.StateScreeningClarify: {
		models.StateScreening:     true,
		models.StateQualification: true,
		models.StateDeclined:      true,
		models.StateRejected:      true,
	},
	models.StateQualification: {
		models.StateScheduling: true,
		models.StateDeclined:   true,
		models.StateRejected:   true,
	},
	models.StateScheduling: {
		models.StateSchedulingConfirm:   true,
		models.StateDeclined:            true,
		models.StateSchedulingExhausted: true,
	},
	models.StateSchedulingConfirm: {
		models.StateScheduled:           true,
		models.StateScheduling:          true,
		models.StateDeclined:            true,
		models.StateSchedulingExhausted: true,
	},
	models.StateScheduled: {
		models.StateFollowup:   true,
		models.StateScheduling: true, // reschedule releases the old slot
		models.StateDeclined:   true,
		models.StateClosed:     true,
	},
	models.StateFollowup: {
		models.StateScheduling: true,
		models.StateDeclined:   true,
		models.StateClosed:     true,
	},
	models.StateDeclined: {
		models.StateScheduling: true, // candidate changed their mind
		models.StateClosed:     true,
	},
	models.StateErrorRecovery: {
		models.StateGreeting:      true,
		models.StateScreening:     true,
		models.StateQualification: true,
		models.StateScheduling:    true,
		models.StateDeclined:      true,
		models.StateRejected:      true,
		models.StateClosed:        true,
	},
	// Terminal states have no outgoing transitions; administrative reset
	// bypasses the engine entirely.
	models.StateRejected:            {},
	models.StateClosed:              {},
	models.StateSchedulingExhausted: {},
}

// CanTransition reports whether the engine accepts current -> desired.
func CanTransition(current, desired models.ConversationState) bool {
	if current == desired {
		return !models.IsTerminalState(current)
	}
	// Any live state may drop into error_recovery.
	if desired == models.StateErrorRecovery {
		return !models.IsTerminalState(current)
	}
	allowed, exists := validTransitions[current]
	return exists && allowed[desired]
}
