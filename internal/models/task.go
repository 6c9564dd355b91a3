package models

import (
	"encoding/json"
	"fmt"
)

// TaskTrigger identifies why the engine is being invoked.
type TaskTrigger string

const (
	TriggerMessage         TaskTrigger = "message"
	TriggerNewLead         TaskTrigger = "new_lead"
	TriggerReminder        TaskTrigger = "reminder"
	TriggerAuditRetry      TaskTrigger = "audit_retry"
	TriggerStateCorrection TaskTrigger = "state_correction_retry"
	TriggerFollowup        TaskTrigger = "followup"
)

// Task is the queue message that drives one engine invocation. Delivery is
// at-least-once with no cross-conversation ordering; the engine must be
// idempotent against redelivery.
type Task struct {
	ConversationID string      `json:"conversation_id"`
	Trigger        TaskTrigger `json:"trigger"`
	ReminderText   string      `json:"reminder_text,omitempty"`
	Directive      string      `json:"directive,omitempty"` // corrective instruction for replay triggers
	StopAfterSend  bool        `json:"stop_after_send,omitempty"`
	ReminderLevel  int         `json:"reminder_level,omitempty"`
	Attempt        int         `json:"attempt,omitempty"`
}

// Validate checks the minimum contract with producers.
func (t *Task) Validate() error {
	if t.ConversationID == "" {
		return fmt.Errorf("task missing conversation_id")
	}
	switch t.Trigger {
	case TriggerMessage, TriggerNewLead, TriggerReminder, TriggerAuditRetry, TriggerStateCorrection, TriggerFollowup:
		return nil
	default:
		return fmt.Errorf("unknown task trigger %q", t.Trigger)
	}
}

// Encode marshals the task for the stream payload.
func (t *Task) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}
	return string(raw), nil
}

// DecodeTask parses a stream payload back into a Task and validates it.
func DecodeTask(raw string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// AnalyticsEvent types written to the event log.
const (
	EventLeadCreated         = "lead_created"
	EventFirstContact        = "first_contact"
	EventQualified           = "qualified"
	EventRejectedByBot       = "rejected_by_bot"
	EventRejectedByCandidate = "rejected_by_candidate"
	EventInterviewScheduled  = "interview_scheduled"
	EventReminderSent        = "reminder_sent"
	EventTimedOut            = "timed_out"
	EventChatClosed          = "chat_closed"
	EventNoShow              = "no_show"
)
