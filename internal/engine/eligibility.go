package engine

import (
	"fmt"
	"strconv"
	"strings"

	"hirepilot/internal/config"
	"hirepilot/internal/models"
)

// CheckEligibility evaluates the fixed qualification criteria against the
// facts collected so far. A failed criterion disqualifies immediately; facts
// not yet collected never disqualify.
func CheckEligibility(profile *models.CandidateProfile, rules config.EligibilityRules) (bool, string) {
	if ageStr := profile.FactValue(models.FactAge); ageStr != "" {
		age, err := strconv.Atoi(strings.TrimSpace(ageStr))
		if err == nil {
			if rules.AgeMin > 0 && age < rules.AgeMin {
				return false, fmt.Sprintf("age %d below minimum %d", age, rules.AgeMin)
			}
			if rules.AgeMax > 0 && age > rules.AgeMax {
				return false, fmt.Sprintf("age %d above maximum %d", age, rules.AgeMax)
			}
		}
	}

	if len(rules.Citizenship) > 0 {
		if c := profile.FactValue(models.FactCitizenship); c != "" {
			if !containsFold(rules.Citizenship, c) {
				return false, fmt.Sprintf("citizenship %q not accepted", c)
			}
		}
	}

	if len(rules.CriminalRecordBlock) > 0 {
		if cr := profile.FactValue(models.FactCriminalRecord); cr != "" {
			if containsFold(rules.CriminalRecordBlock, cr) {
				return false, "disqualifying criminal record answer"
			}
		}
	}

	if rules.RequireWorkPermit {
		if wp := profile.FactValue(models.FactWorkPermit); wp != "" {
			if isNegative(wp) {
				return false, "no work permit"
			}
		}
	}

	return true, ""
}

func containsFold(haystack []string, needle string) bool {
	needle = strings.TrimSpace(needle)
	for _, h := range haystack {
		if strings.EqualFold(strings.TrimSpace(h), needle) {
			return true
		}
	}
	return false
}

func isNegative(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "no", "none", "нет", "false", "0":
		return true
	}
	return false
}
