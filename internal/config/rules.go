package config

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"hirepilot/internal/models"
)

// Question is one screening question the bot must get answered.
type Question struct {
	ID       string `yaml:"id"`
	Text     string `yaml:"text"`
	Required bool   `yaml:"required"`
}

// FactGate declares in which states a fact may be written. A fact asserted
// while the conversation is outside its allowed set is dropped, which keeps a
// later unrelated turn from overwriting a confirmed value.
type FactGate struct {
	Fact          string                     `yaml:"fact"`
	AllowedStates []models.ConversationState `yaml:"allowed_states"`
}

// EligibilityRules are the fixed numeric/categorical qualification criteria.
type EligibilityRules struct {
	AgeMin              int      `yaml:"age_min"`
	AgeMax              int      `yaml:"age_max"`
	Citizenship         []string `yaml:"citizenship"`          // allowed values, empty = any
	CriminalRecordBlock []string `yaml:"criminal_record_block"` // disqualifying answers
	RequireWorkPermit   bool     `yaml:"require_work_permit"`
	RejectionText       string   `yaml:"rejection_text"`
}

// ReminderLevel is one rung of the silence-escalation ladder.
type ReminderLevel struct {
	DelayMinutes int    `yaml:"delay_minutes"`
	Text         string `yaml:"text"`
	StopBot      bool   `yaml:"stop_bot"`
}

// QuietHours suppresses reminders inside a local-time window.
type QuietHours struct {
	Enabled         bool   `yaml:"enabled"`
	Start           string `yaml:"start"` // "21:00"
	End             string `yaml:"end"`   // "09:00"
	DefaultTimezone string `yaml:"default_timezone"`
}

// InterviewReminder is a pre-interview ping (evening before, two hours before).
type InterviewReminder struct {
	ID          string `yaml:"id"`
	OffsetHours int    `yaml:"offset_hours"` // hours before the slot
	Text        string `yaml:"text"`
}

// FollowupStep is a post-interview "how did it go" nudge.
type FollowupStep struct {
	Step       int    `yaml:"step"`
	DelayHours int    `yaml:"delay_hours"`
	Text       string `yaml:"text"`
}

// Rules is the operator-editable screening configuration.
type Rules struct {
	BotRoleName        string              `yaml:"bot_role_name"`
	Questions          []Question          `yaml:"questions"`
	FactGates          []FactGate          `yaml:"fact_gates"`
	Eligibility        EligibilityRules    `yaml:"eligibility"`
	SilenceReminders   []ReminderLevel     `yaml:"silence_reminders"`
	QuietHours         QuietHours          `yaml:"quiet_hours"`
	InterviewReminders []InterviewReminder `yaml:"interview_reminders"`
	Followups          []FollowupStep      `yaml:"followups"`
	AuditKeywords      []string            `yaml:"audit_keywords"` // disambiguating signals that force a re-audit
	MaxSlotAttempts    int                 `yaml:"max_slot_attempts"`
}

// AllowedStatesFor returns the gate for a fact, or nil when the fact is
// ungated (writable in any state).
func (r *Rules) AllowedStatesFor(fact string) []models.ConversationState {
	for i := range r.FactGates {
		if r.FactGates[i].Fact == fact {
			return r.FactGates[i].AllowedStates
		}
	}
	return nil
}

// RulesService loads the rules YAML and keeps it fresh: periodic refresh via
// the job scheduler plus immediate reload on file change.
type RulesService struct {
	path    string
	mu      sync.RWMutex
	current *Rules
	watcher *fsnotify.Watcher
}

// NewRulesService reads the rules file once; a missing or invalid file is a
// startup error, not something to limp past.
func NewRulesService(path string) (*RulesService, error) {
	s := &RulesService{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active rule set.
func (s *RulesService) Current() *Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the rules file. On parse failure the previous rules stay
// active.
func (s *RulesService) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read rules file %s: %w", s.path, err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("failed to parse rules file %s: %w", s.path, err)
	}
	if rules.MaxSlotAttempts <= 0 {
		rules.MaxSlotAttempts = 3
	}
	s.mu.Lock()
	s.current = &rules
	s.mu.Unlock()
	return nil
}

// Watch reloads the rules whenever the file changes. Editors replace files on
// save, so Create events count as well as Write.
func (s *RulesService) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rules file: %w", err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.Reload(); err != nil {
						log.Printf("⚠️ [RULES] Reload after change failed: %v", err)
					} else {
						log.Printf("🔄 [RULES] Reloaded %s", s.path)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [RULES] Watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher.
func (s *RulesService) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
