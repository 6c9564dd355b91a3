package oracle

import (
	"context"
	"testing"
	"time"

	"hirepilot/internal/models"
)

func TestShouldAuditSkipsWhenNothingChanged(t *testing.T) {
	conv := &models.Conversation{
		Turns: []models.Turn{
			{Role: models.RoleUser, Content: "Давайте 15 сентября в 14:00"},
			{Role: models.RoleAssistant, Content: "Записал вас на 15 сентября"},
		},
		Audits: map[string]models.AuditRecord{
			models.FactInterviewDate: {Value: "2026-09-15", TurnCount: 2, AuditedAt: time.Now()},
		},
	}

	if ShouldAudit(conv, models.FactInterviewDate, "2026-09-15", []string{"завтра", "перенес"}) {
		t.Error("audit should be skipped: same value, no new keywords")
	}
}

func TestShouldAuditOnValueDisagreement(t *testing.T) {
	conv := &models.Conversation{
		Audits: map[string]models.AuditRecord{
			models.FactInterviewDate: {Value: "2026-09-15", TurnCount: 0},
		},
	}
	if !ShouldAudit(conv, models.FactInterviewDate, "2026-09-16", nil) {
		t.Error("audit required when the candidate value differs from the verified one")
	}
}

func TestShouldAuditOnNewKeywordSignal(t *testing.T) {
	conv := &models.Conversation{
		Turns: []models.Turn{
			{Role: models.RoleUser, Content: "15 сентября"},
			{Role: models.RoleUser, Content: "Ой, давайте лучше завтра"},
		},
		Audits: map[string]models.AuditRecord{
			models.FactInterviewDate: {Value: "2026-09-15", TurnCount: 1},
		},
	}
	if !ShouldAudit(conv, models.FactInterviewDate, "2026-09-15", []string{"завтра"}) {
		t.Error("audit required: relative-date keyword appeared after the last audit")
	}
}

func TestShouldAuditWithNoPriorRecord(t *testing.T) {
	conv := &models.Conversation{}
	if !ShouldAudit(conv, models.FactInterviewDate, "2026-09-15", nil) {
		t.Error("first audit can never be skipped")
	}
}

func TestReDeriveExtractsValue(t *testing.T) {
	backend := &scriptedBackend{results: []scriptedResult{
		{content: `{"value": "2026-09-02"}`},
	}}
	auditor := NewAuditor(backend, &countingGate{})

	conv := &models.Conversation{
		ConversationID: "conv-9",
		Turns: []models.Turn{
			{Role: models.RoleUser, Content: "Давайте завтра в 11"},
			{Role: models.RoleDirective, Content: "internal note"}, // never sent to the oracle
		},
	}

	value, usage, err := auditor.ReDerive(context.Background(), conv, models.FactInterviewDate,
		time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReDerive: %v", err)
	}
	if value != "2026-09-02" {
		t.Errorf("value = %q, want 2026-09-02", value)
	}
	if usage.Attempts != 1 {
		t.Errorf("attempts = %d", usage.Attempts)
	}
}

func TestReDeriveRejectsMalformedOutput(t *testing.T) {
	backend := &scriptedBackend{results: []scriptedResult{
		{content: `sure, the date is September 2nd`},
	}}
	auditor := NewAuditor(backend, &countingGate{})

	_, _, err := auditor.ReDerive(context.Background(), &models.Conversation{}, models.FactInterviewDate, time.Now())
	if err == nil {
		t.Fatal("expected schema violation error")
	}
}
