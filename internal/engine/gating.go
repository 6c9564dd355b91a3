package engine

import (
	"strings"
	"time"

	"hirepilot/internal/config"
	"hirepilot/internal/models"
)

// ApplyFacts writes the decision's extracted facts into the profile, honoring
// the per-fact state gates: a fact asserted outside its allowed states is
// dropped, never written. Returns the keys written and the keys dropped.
func ApplyFacts(
	state models.ConversationState,
	profile *models.CandidateProfile,
	extracted map[string]string,
	rules *config.Rules,
	now time.Time,
) (applied, dropped []string) {
	if len(extracted) == 0 {
		return nil, nil
	}
	if profile.Facts == nil {
		profile.Facts = make(map[string]models.Fact)
	}

	for key, value := range extracted {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if !gateAllows(state, rules.AllowedStatesFor(key)) {
			dropped = append(dropped, key)
			continue
		}
		profile.Facts[key] = models.Fact{
			Value:      value,
			AssertedIn: state,
			AssertedAt: now,
		}
		applied = append(applied, key)
	}
	return applied, dropped
}

// gateAllows checks the state against a gate; a nil gate means ungated.
func gateAllows(state models.ConversationState, allowed []models.ConversationState) bool {
	if allowed == nil {
		return true
	}
	for _, s := range allowed {
		if s == state {
			return true
		}
	}
	return false
}
