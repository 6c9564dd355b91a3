package jobs

import (
	"testing"
	"time"

	"hirepilot/internal/config"
	"hirepilot/internal/models"
)

func ladder() []config.ReminderLevel {
	return []config.ReminderLevel{
		{DelayMinutes: 240, Text: "Вы ещё с нами?"},
		{DelayMinutes: 1440, Text: "Напомним о вакансии"},
		{DelayMinutes: 2880, Text: "Закрываем диалог", StopBot: true},
	}
}

func TestNextReminderDue(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		level     int
		silentFor time.Duration
		wantLevel int
		wantDue   bool
	}{
		{"too recent for level 1", 0, time.Hour, 0, false},
		{"level 1 due", 0, 5 * time.Hour, 1, true},
		{"level 2 not yet", 1, 5 * time.Hour, 0, false},
		{"level 2 due", 1, 25 * time.Hour, 2, true},
		{"final level due", 2, 49 * time.Hour, 3, true},
		{"ladder exhausted", 3, 100 * time.Hour, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			conv := &models.Conversation{
				ReminderLevel: c.level,
				LastMessageAt: now.Add(-c.silentFor),
			}
			level, due := NextReminderDue(conv, ladder(), now)
			if due != c.wantDue || level != c.wantLevel {
				t.Errorf("NextReminderDue = (%d, %v), want (%d, %v)", level, due, c.wantLevel, c.wantDue)
			}
		})
	}
}

func TestInQuietHours(t *testing.T) {
	qh := config.QuietHours{
		Enabled:         true,
		Start:           "21:00",
		End:             "09:00",
		DefaultTimezone: "Europe/Moscow",
	}

	// 20:00 UTC is 23:00 in Moscow: inside the window.
	evening := time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)
	if !InQuietHours(evening, qh, "Europe/Moscow") {
		t.Error("23:00 local should be quiet")
	}

	// 10:00 UTC is 13:00 in Moscow: outside.
	midday := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if InQuietHours(midday, qh, "Europe/Moscow") {
		t.Error("13:00 local should not be quiet")
	}

	// Same instant in Yekaterinburg (UTC+5) is 15:00: outside.
	if InQuietHours(midday, qh, "Asia/Yekaterinburg") {
		t.Error("15:00 local should not be quiet")
	}

	// Unknown timezone falls back to the default.
	if !InQuietHours(evening, qh, "Mars/Olympus") {
		t.Error("unknown timezone should fall back to the default zone")
	}

	// Disabled window never suppresses.
	qh.Enabled = false
	if InQuietHours(evening, qh, "Europe/Moscow") {
		t.Error("disabled quiet hours should never match")
	}
}

func TestInQuietHoursSameDayWindow(t *testing.T) {
	qh := config.QuietHours{Enabled: true, Start: "13:00", End: "14:00"}

	inside := time.Date(2026, 9, 1, 13, 30, 0, 0, time.UTC)
	outside := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	if !InQuietHours(inside, qh, "UTC") {
		t.Error("13:30 should be inside a 13:00-14:00 window")
	}
	if InQuietHours(outside, qh, "UTC") {
		t.Error("14:00 should be outside: the end bound is exclusive")
	}
}

func TestValidateCron(t *testing.T) {
	if err := ValidateCron("* * * * *"); err != nil {
		t.Errorf("every-minute expression rejected: %v", err)
	}
	if err := ValidateCron("*/5 9-21 * * *"); err != nil {
		t.Errorf("ranged expression rejected: %v", err)
	}
	if err := ValidateCron("not a cron"); err == nil {
		t.Error("garbage expression accepted")
	}
	if err := ValidateCron("* * * * * *"); err == nil {
		t.Error("six-field expression accepted by five-field parser")
	}
}

func TestReminderTextLookups(t *testing.T) {
	rules := &config.Rules{
		InterviewReminders: []config.InterviewReminder{
			{ID: "evening_before", OffsetHours: 14, Text: "Завтра собеседование!"},
		},
		Followups: []config.FollowupStep{
			{Step: 1, DelayHours: 3, Text: "Как прошло собеседование?"},
		},
	}

	if got := interviewReminderText(rules, "evening_before"); got != "Завтра собеседование!" {
		t.Errorf("interviewReminderText = %q", got)
	}
	if got := interviewReminderText(rules, "unknown"); got != "" {
		t.Errorf("unknown reminder type returned %q", got)
	}
	if got := followupText(rules, 1); got != "Как прошло собеседование?" {
		t.Errorf("followupText = %q", got)
	}
	if got := followupText(rules, 9); got != "" {
		t.Errorf("unknown followup step returned %q", got)
	}
}
