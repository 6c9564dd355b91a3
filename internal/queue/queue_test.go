package queue

import (
	"testing"

	"hirepilot/internal/models"
)

func TestTaskRoundTrip(t *testing.T) {
	task := &models.Task{
		ConversationID: "conv-1",
		Trigger:        models.TriggerReminder,
		ReminderText:   "Вы ещё с нами?",
		ReminderLevel:  2,
		StopAfterSend:  true,
	}

	payload, err := task.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := models.DecodeTask(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ConversationID != task.ConversationID ||
		decoded.Trigger != task.Trigger ||
		decoded.ReminderText != task.ReminderText ||
		decoded.ReminderLevel != task.ReminderLevel ||
		!decoded.StopAfterSend {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDecodeTaskRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "{{{"},
		{"missing conversation id", `{"trigger":"message"}`},
		{"unknown trigger", `{"conversation_id":"c1","trigger":"tea_break"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := models.DecodeTask(tc.raw); err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
		})
	}
}

func TestTaskValidateAcceptsAllTriggers(t *testing.T) {
	triggers := []models.TaskTrigger{
		models.TriggerMessage,
		models.TriggerNewLead,
		models.TriggerReminder,
		models.TriggerAuditRetry,
		models.TriggerStateCorrection,
		models.TriggerFollowup,
	}
	for _, trig := range triggers {
		task := &models.Task{ConversationID: "c1", Trigger: trig}
		if err := task.Validate(); err != nil {
			t.Errorf("trigger %s rejected: %v", trig, err)
		}
	}
}
