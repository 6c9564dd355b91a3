package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decision is the structured output contract the oracle must satisfy.
// Anything outside this shape is a contract violation of the attempt, not a
// different kind of answer.
type Decision struct {
	NextState ConversationState `json:"next_state"`
	Reply     string            `json:"reply"`
	Extracted map[string]string `json:"extracted,omitempty"`
	Silence   bool              `json:"silence,omitempty"` // administrative silence: no outbound turn
}

// DecisionSchemaError marks oracle output that failed the fixed schema; the
// adapter treats it as a retryable failure of that attempt.
type DecisionSchemaError struct {
	Reason string
	Raw    string
}

func (e *DecisionSchemaError) Error() string {
	return fmt.Sprintf("oracle output violates decision schema: %s", e.Reason)
}

// ParseDecision decodes and validates raw oracle output against the fixed
// schema: valid JSON object, next_state from the fixed label set, extracted
// keys limited to known facts.
func ParseDecision(raw string) (*Decision, error) {
	raw = strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a fenced block despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, &DecisionSchemaError{Reason: "not a JSON object: " + err.Error(), Raw: raw}
	}
	if d.NextState == "" {
		return nil, &DecisionSchemaError{Reason: "missing next_state", Raw: raw}
	}
	if !IsValidState(d.NextState) {
		return nil, &DecisionSchemaError{Reason: fmt.Sprintf("unknown next_state label %q", d.NextState), Raw: raw}
	}
	// A turn must either speak or explicitly declare silence. An empty reply
	// without the silence flag is a malformed answer, not a quiet one.
	if !d.Silence && strings.TrimSpace(d.Reply) == "" {
		return nil, &DecisionSchemaError{Reason: "empty reply without silence flag", Raw: raw}
	}
	for key := range d.Extracted {
		if !isKnownFact(key) {
			return nil, &DecisionSchemaError{Reason: fmt.Sprintf("unknown extracted fact %q", key), Raw: raw}
		}
	}
	return &d, nil
}

func isKnownFact(key string) bool {
	switch key {
	case FactAge, FactCitizenship, FactCriminalRecord, FactCity, FactWorkPermit,
		FactTimezone, FactInterviewDate, FactInterviewTime, FactDeclineReason:
		return true
	}
	return false
}

// Usage is the per-call accounting returned by the oracle adapter.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Attempts         int     `json:"attempts"`
	Cost             float64 `json:"cost"`
}

// Merge accumulates usage from one attempt into the total for the call.
func (u *Usage) Merge(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.Attempts += other.Attempts
	u.Cost += other.Cost
}
