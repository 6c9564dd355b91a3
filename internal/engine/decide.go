package engine

import (
	"fmt"

	"hirepilot/internal/config"
	"hirepilot/internal/models"
)

// Outcome is the full result of the pure decision core: where the
// conversation goes and which side effects the runner must execute.
type Outcome struct {
	NextState models.ConversationState
	Status    models.ConversationStatus
	Effects   []Effect
}

// Decide maps (conversation, facts, oracle decision) to the next state and
// effects. Pure: no I/O, no mutation of its inputs. The caller has already
// validated the decision label and transition and applied the gated fact
// writes, so the facts on the profile are current.
func Decide(conv *models.Conversation, profile *models.CandidateProfile, decision *models.Decision, rules *config.Rules) Outcome {
	next := decision.NextState
	reply := decision.Reply
	silence := decision.Silence

	var effects []Effect

	// Eligibility short-circuit: a disqualifying fact overrides whatever the
	// oracle wanted to do next.
	if eligible, reason := CheckEligibility(profile, rules.Eligibility); !eligible && next != models.StateRejected {
		next = models.StateRejected
		silence = false
		if rules.Eligibility.RejectionText != "" {
			reply = rules.Eligibility.RejectionText
		}
		effects = append(effects, RecordEvent{Event: models.EventRejectedByBot, Detail: reason})
	}

	entering := func(s models.ConversationState) bool { return next == s && conv.State != s }

	// A booked candidate who moves anywhere but followup gives the seat back.
	if conv.State == models.StateScheduled && next != models.StateScheduled && next != models.StateFollowup {
		if conv.InterviewDate != "" && conv.InterviewTime != "" {
			effects = append(effects, ReleaseSlot{Date: conv.InterviewDate, Time: conv.InterviewTime})
		}
	}

	switch {
	case entering(models.StateScheduling):
		effects = append(effects, RecordEvent{Event: models.EventQualified})
	case entering(models.StateScheduled):
		date := profile.FactValue(models.FactInterviewDate)
		timeOfDay := profile.FactValue(models.FactInterviewTime)
		if date == "" || timeOfDay == "" {
			// The oracle confirmed a slot it never pinned down. Stay put and
			// let the next turn extract the concrete date and time.
			next = conv.State
			break
		}
		effects = append(effects,
			BookSlot{Date: date, Time: timeOfDay},
			ExportCandidate{},
			RecordEvent{Event: models.EventInterviewScheduled, Detail: date + " " + timeOfDay},
		)
	case entering(models.StateRejected):
		effects = append(effects, RecordEvent{Event: models.EventRejectedByBot})
	case entering(models.StateDeclined):
		detail := profile.FactValue(models.FactDeclineReason)
		effects = append(effects, RecordEvent{Event: models.EventRejectedByCandidate, Detail: detail})
	case entering(models.StateSchedulingExhausted):
		effects = append(effects, Alert{
			Severity: "warning",
			Title:    "Scheduling exhausted",
			Body: fmt.Sprintf("Conversation `%s` ran out of slot attempts (%d). A human needs to take over scheduling.",
				conv.ConversationID, conv.SlotAttempts),
		})
	}

	if !silence && reply != "" {
		effects = append(effects, SendReply{Text: reply})
	}

	return Outcome{
		NextState: next,
		Status:    statusFor(next, conv.Status),
		Effects:   effects,
	}
}

func statusFor(state models.ConversationState, current models.ConversationStatus) models.ConversationStatus {
	switch state {
	case models.StateRejected:
		return models.StatusRejected
	case models.StateClosed:
		return models.StatusClosed
	case models.StateScheduled, models.StateFollowup:
		return models.StatusQualified
	default:
		if current == models.StatusNew {
			return models.StatusInProgress
		}
		return current
	}
}
