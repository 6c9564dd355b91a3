package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConversationState is the engine-facing dialogue state. Transitions between
// states are validated by the engine; nothing else writes this field.
type ConversationState string

const (
	StateInitial             ConversationState = "initial"
	StateGreeting            ConversationState = "greeting"
	StateScreening           ConversationState = "screening"
	StateScreeningClarify    ConversationState = "screening_clarify"
	StateQualification       ConversationState = "qualification"
	StateScheduling          ConversationState = "scheduling"
	StateSchedulingConfirm   ConversationState = "scheduling_confirm"
	StateScheduled           ConversationState = "scheduled"
	StateFollowup            ConversationState = "followup"
	StateDeclined            ConversationState = "declined"
	StateRejected            ConversationState = "rejected"
	StateClosed              ConversationState = "closed"
	StateSchedulingExhausted ConversationState = "scheduling_exhausted"
	StateErrorRecovery       ConversationState = "error_recovery"
)

// AllStates is the fixed set of labels the oracle is allowed to return.
var AllStates = []ConversationState{
	StateInitial,
	StateGreeting,
	StateScreening,
	StateScreeningClarify,
	StateQualification,
	StateScheduling,
	StateSchedulingConfirm,
	StateScheduled,
	StateFollowup,
	StateDeclined,
	StateRejected,
	StateClosed,
	StateSchedulingExhausted,
	StateErrorRecovery,
}

// IsValidState reports whether s is a member of the fixed state set.
func IsValidState(s ConversationState) bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminalState returns true for states with no further automated transition.
func IsTerminalState(s ConversationState) bool {
	return s == StateRejected || s == StateClosed || s == StateSchedulingExhausted
}

// ConversationStatus is the lifecycle status, coarser than the state.
type ConversationStatus string

const (
	StatusNew        ConversationStatus = "new"
	StatusInProgress ConversationStatus = "in_progress"
	StatusQualified  ConversationStatus = "qualified"
	StatusRejected   ConversationStatus = "rejected"
	StatusClosed     ConversationStatus = "closed"
	StatusTimedOut   ConversationStatus = "timed_out"
)

// IsTerminalStatus reports whether the conversation stopped accepting events.
// Administrative reset is the only way out and is not handled here.
func IsTerminalStatus(s ConversationStatus) bool {
	return s == StatusRejected || s == StatusClosed
}

// Turn roles. Directive turns are synthetic engine instructions that are fed
// to the oracle but never sent to the candidate.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDirective = "directive"
)

// Turn is a single entry in the append-only conversation log.
type Turn struct {
	MessageID string            `bson:"messageId" json:"message_id"` // dedup key: marketplace id when available
	Role      string            `bson:"role" json:"role"`
	Content   string            `bson:"content" json:"content"`
	State     ConversationState `bson:"state,omitempty" json:"state,omitempty"` // state active when the turn was appended
	Extracted map[string]string `bson:"extracted,omitempty" json:"extracted,omitempty"`
	Timestamp time.Time         `bson:"timestamp" json:"timestamp"` // UTC
}

// UsageCounters accumulates oracle spend across the conversation lifetime,
// including failed attempts.
type UsageCounters struct {
	PromptTokens     int64   `bson:"promptTokens" json:"prompt_tokens"`
	CompletionTokens int64   `bson:"completionTokens" json:"completion_tokens"`
	OracleCalls      int64   `bson:"oracleCalls" json:"oracle_calls"`
	TotalCost        float64 `bson:"totalCost" json:"total_cost"`
}

// Add merges a single call's usage into the running counters.
func (u *UsageCounters) Add(prompt, completion int64, cost float64) {
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.OracleCalls++
	u.TotalCost += cost
}

// AuditRecord remembers the last verified value per fact so the audit loop
// can be skipped when nothing changed since.
type AuditRecord struct {
	Value     string    `bson:"value" json:"value"`
	TurnCount int       `bson:"turnCount" json:"turn_count"` // log length when the audit ran
	AuditedAt time.Time `bson:"auditedAt" json:"audited_at"`
}

// Conversation is the aggregate root: one ongoing exchange with a candidate.
// Mutated exclusively by the engine while holding the conversation lock.
type Conversation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID string             `bson:"conversationId" json:"conversation_id"` // stable key used in tasks and locks
	ExternalChatID string             `bson:"externalChatId" json:"external_chat_id"`
	AccountID      string             `bson:"accountId" json:"account_id"`
	CandidateID    string             `bson:"candidateId" json:"candidate_id"`
	VacancyID      string             `bson:"vacancyId,omitempty" json:"vacancy_id,omitempty"`

	State  ConversationState  `bson:"state" json:"state"`
	Status ConversationStatus `bson:"status" json:"status"`

	Turns []Turn `bson:"turns" json:"turns"`

	ReminderLevel int                    `bson:"reminderLevel" json:"reminder_level"`
	Usage         UsageCounters          `bson:"usage" json:"usage"`
	Audits        map[string]AuditRecord `bson:"audits,omitempty" json:"audits,omitempty"`
	InterviewDate string                 `bson:"interviewDate,omitempty" json:"interview_date,omitempty"` // YYYY-MM-DD
	InterviewTime string                 `bson:"interviewTime,omitempty" json:"interview_time,omitempty"` // HH:MM
	SlotAttempts  int                    `bson:"slotAttempts" json:"slot_attempts"`
	Corrections   int                    `bson:"corrections" json:"corrections"` // self-corrections spent on the current batch

	LastMessageAt time.Time `bson:"lastMessageAt" json:"last_message_at"`
	CreatedAt     time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updated_at"`
}

// HasTurn reports whether a turn with the given dedup key is already present.
func (c *Conversation) HasTurn(messageID string) bool {
	if messageID == "" {
		return false
	}
	for i := range c.Turns {
		if c.Turns[i].MessageID == messageID {
			return true
		}
	}
	return false
}

// LastTurn returns the newest turn, or nil for an empty log.
func (c *Conversation) LastTurn() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return &c.Turns[len(c.Turns)-1]
}

// PendingInbound returns the not-yet-answered user turns since the last
// assistant turn, oldest first.
func (c *Conversation) PendingInbound() []Turn {
	var pending []Turn
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleAssistant {
			break
		}
		if c.Turns[i].Role == RoleUser {
			pending = append([]Turn{c.Turns[i]}, pending...)
		}
	}
	return pending
}

// RecentTurns returns up to n newest turns in chronological order.
func (c *Conversation) RecentTurns(n int) []Turn {
	if n <= 0 || len(c.Turns) <= n {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}
