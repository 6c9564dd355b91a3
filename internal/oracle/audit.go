package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hirepilot/internal/faults"
	"hirepilot/internal/models"
)

// Auditor re-derives critical facts with a second, independent oracle call.
// It never produces conversational text; its only output is the fact value.
type Auditor struct {
	backend Completer
	gate    gate
	log     *logrus.Entry
}

func NewAuditor(backend Completer, g gate) *Auditor {
	return &Auditor{
		backend: backend,
		gate:    g,
		log:     logrus.WithField("component", "oracle_audit"),
	}
}

// ShouldAudit applies the skip heuristic: the audit can be skipped only when
// the previously verified value matches the candidate value AND no turn since
// that audit contains a disambiguating keyword (relative dates, corrections).
func ShouldAudit(conv *models.Conversation, factKey, candidateValue string, keywords []string) bool {
	record, ok := conv.Audits[factKey]
	if !ok {
		return true
	}
	if record.Value != candidateValue {
		return true
	}
	for _, turn := range conv.Turns[min(record.TurnCount, len(conv.Turns)):] {
		if turn.Role != models.RoleUser {
			continue
		}
		lower := strings.ToLower(turn.Content)
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

// ReDerive extracts a single fact value from the transcript. Returns the
// derived value, "" when the transcript does not determine it.
func (a *Auditor) ReDerive(ctx context.Context, conv *models.Conversation, factKey string, now time.Time) (string, models.Usage, error) {
	var sys strings.Builder
	sys.WriteString("You are a verification assistant. Read the chat transcript and extract one fact.\n")
	fmt.Fprintf(&sys, "Fact to extract: %s\n", factKey)
	fmt.Fprintf(&sys, "Today's date: %s\n", now.Format("2006-01-02"))
	switch factKey {
	case models.FactInterviewDate:
		sys.WriteString("Resolve relative expressions (tomorrow, Friday) against today's date. Answer as YYYY-MM-DD.\n")
	case models.FactInterviewTime:
		sys.WriteString("Answer as HH:MM in 24-hour format.\n")
	}
	sys.WriteString(`Respond with a single JSON object: {"value": "<extracted value or empty string>"}`)

	messages := []Message{{Role: "system", Content: sys.String()}}
	for _, turn := range conv.Turns {
		if turn.Role == models.RoleDirective {
			continue
		}
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, Message{Role: role, Content: turn.Content})
	}

	var usage models.Usage
	if err := a.gate.Enter(ctx); err != nil {
		return "", usage, err
	}
	comp, err := a.backend.Complete(ctx, messages)
	a.gate.Exit(ctx)

	usage.Attempts = 1
	if comp != nil {
		usage.PromptTokens = comp.PromptTokens
		usage.CompletionTokens = comp.CompletionTokens
	}
	if err != nil {
		return "", usage, faults.Classify(err)
	}

	value, err := parseAuditValue(comp.Content)
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"conversation_id": conv.ConversationID,
			"fact":            factKey,
		}).Warn("Audit output failed schema validation")
		return "", usage, faults.Wrap(faults.KindContractViolation, err, "audit schema violation")
	}
	return value, usage, nil
}

func parseAuditValue(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("audit output is not a JSON object: %w", err)
	}
	return strings.TrimSpace(out.Value), nil
}
