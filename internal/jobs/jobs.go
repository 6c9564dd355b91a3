package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"hirepilot/internal/config"
	"hirepilot/internal/coordination"
	"hirepilot/internal/database"
	"hirepilot/internal/models"
	"hirepilot/internal/queue"
)

// sweepLockTTL bounds how long a crashed instance can block a sweep.
const sweepLockTTL = 5 * time.Minute

// Scheduler runs the periodic background jobs: the silence-reminder sweep,
// due interview reminders and followups, stuck-task reclaim and rules
// refresh. Sweeps take a minute-granular Redis lock so only one instance
// runs each window.
type Scheduler struct {
	scheduler     gocron.Scheduler
	redis         *coordination.RedisService
	conversations *database.ConversationStore
	profiles      *database.ProfileStore
	reminders     *database.ReminderStore
	taskQueue     *queue.TaskQueue
	rules         *config.RulesService
	sweepCron     string
	instanceID    string
}

// ValidateCron checks a standard 5-field cron expression.
func ValidateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	return err
}

func NewScheduler(
	redis *coordination.RedisService,
	conversations *database.ConversationStore,
	profiles *database.ProfileStore,
	reminders *database.ReminderStore,
	taskQueue *queue.TaskQueue,
	rules *config.RulesService,
	sweepCron string,
) (*Scheduler, error) {
	if err := ValidateCron(sweepCron); err != nil {
		return nil, fmt.Errorf("invalid sweep cron %q: %w", sweepCron, err)
	}
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler:     scheduler,
		redis:         redis,
		conversations: conversations,
		profiles:      profiles,
		reminders:     reminders,
		taskQueue:     taskQueue,
		rules:         rules,
		sweepCron:     sweepCron,
		instanceID:    uuid.New().String(),
	}, nil
}

// Start registers all jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	log.Println("⏰ Starting background jobs...")

	wrap := func(run func(context.Context)) func() {
		return func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			run(ctx)
		}
	}

	// The silence sweep runs on a cron expression so operators can pin it to
	// working hours; the rest are plain intervals.
	if _, err := s.scheduler.NewJob(
		gocron.CronJob(s.sweepCron, false),
		gocron.NewTask(wrap(s.silenceSweep)),
		gocron.WithName("silence-sweep"),
	); err != nil {
		return fmt.Errorf("failed to register silence sweep: %w", err)
	}

	intervalJobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"interview-reminders", time.Minute, s.dispatchInterviewReminders},
		{"followups", 5 * time.Minute, s.dispatchFollowups},
		{"queue-reclaim", time.Minute, s.reclaimStuckTasks},
		{"rules-refresh", 5 * time.Minute, s.refreshRules},
	}

	for _, j := range intervalJobs {
		job := j
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(wrap(job.run)),
			gocron.WithName(job.name),
		)
		if err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.name, err)
		}
	}

	s.scheduler.Start()
	log.Printf("✅ Background jobs started (%d jobs)", len(intervalJobs)+1)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	log.Println("⏹️ Stopping background jobs...")
	return s.scheduler.Shutdown()
}

// acquireSweep takes the minute-granular sweep lock so concurrent worker
// instances do not double-run the same window.
func (s *Scheduler) acquireSweep(ctx context.Context, name string) bool {
	key := fmt.Sprintf("hirepilot:sweep:%s:%d", name, time.Now().Unix()/60)
	acquired, err := s.redis.SetNX(ctx, key, s.instanceID, sweepLockTTL)
	if err != nil {
		log.Printf("❌ Failed to acquire sweep lock %s: %v", name, err)
		return false
	}
	return acquired
}

// silenceSweep escalates conversations the candidate stopped answering:
// level by level per the configured ladder, honoring quiet hours in the
// candidate's timezone. The final stop_bot level times the conversation out.
func (s *Scheduler) silenceSweep(ctx context.Context) {
	rules := s.rules.Current()
	if len(rules.SilenceReminders) == 0 {
		return
	}
	if !s.acquireSweep(ctx, "silence") {
		return
	}

	now := time.Now().UTC()
	shortest := shortestDelay(rules.SilenceReminders)
	cutoff := now.Add(-shortest)

	convs, err := s.conversations.ListSilent(ctx, cutoff, len(rules.SilenceReminders))
	if err != nil {
		log.Printf("❌ Silence sweep query failed: %v", err)
		return
	}

	var sent int
	for i := range convs {
		conv := &convs[i]
		level, due := NextReminderDue(conv, rules.SilenceReminders, now)
		if !due {
			continue
		}

		// Only nudge when the ball is in the candidate's court.
		if last := conv.LastTurn(); last == nil || last.Role != models.RoleAssistant {
			continue
		}

		tz := rules.QuietHours.DefaultTimezone
		if profile, err := s.profiles.GetOrCreate(ctx, conv.CandidateID); err == nil {
			if v := profile.FactValue(models.FactTimezone); v != "" {
				tz = v
			}
		}
		if InQuietHours(now, rules.QuietHours, tz) {
			continue
		}

		rule := rules.SilenceReminders[level-1]
		task := &models.Task{
			ConversationID: conv.ConversationID,
			Trigger:        models.TriggerReminder,
			ReminderText:   rule.Text,
			ReminderLevel:  level,
			StopAfterSend:  rule.StopBot,
		}
		if err := s.taskQueue.Publish(ctx, task); err != nil {
			log.Printf("❌ Failed to enqueue reminder for %s: %v", conv.ConversationID, err)
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Printf("🔔 Silence sweep enqueued %d reminders", sent)
	}
}

// dispatchInterviewReminders sends due pre-interview pings. The pending->sent
// flip in Mongo is atomic, so a reminder fires once across instances.
func (s *Scheduler) dispatchInterviewReminders(ctx context.Context) {
	rules := s.rules.Current()
	now := time.Now().UTC()

	due, err := s.reminders.DueReminders(ctx, now)
	if err != nil {
		log.Printf("❌ Interview reminder query failed: %v", err)
		return
	}

	for i := range due {
		reminder := &due[i]
		won, err := s.reminders.MarkReminder(ctx, reminder.ID, models.ReminderSent)
		if err != nil || !won {
			continue
		}
		text := interviewReminderText(rules, reminder.ReminderType)
		if text == "" {
			log.Printf("⚠️ No text configured for reminder type %s, skipping", reminder.ReminderType)
			continue
		}
		task := &models.Task{
			ConversationID: reminder.ConversationID,
			Trigger:        models.TriggerReminder,
			ReminderText:   text,
		}
		if err := s.taskQueue.Publish(ctx, task); err != nil {
			log.Printf("❌ Failed to enqueue interview reminder for %s: %v", reminder.ConversationID, err)
			_, _ = s.reminders.MarkReminder(ctx, reminder.ID, models.ReminderError)
		}
	}
}

// dispatchFollowups sends due post-interview nudges.
func (s *Scheduler) dispatchFollowups(ctx context.Context) {
	rules := s.rules.Current()
	now := time.Now().UTC()

	due, err := s.reminders.DueFollowups(ctx, now)
	if err != nil {
		log.Printf("❌ Followup query failed: %v", err)
		return
	}

	for i := range due {
		followup := &due[i]
		won, err := s.reminders.MarkFollowup(ctx, followup.ID, models.ReminderSent)
		if err != nil || !won {
			continue
		}
		text := followupText(rules, followup.Step)
		if text == "" {
			continue
		}
		task := &models.Task{
			ConversationID: followup.ConversationID,
			Trigger:        models.TriggerFollowup,
			ReminderText:   text,
		}
		if err := s.taskQueue.Publish(ctx, task); err != nil {
			log.Printf("❌ Failed to enqueue followup for %s: %v", followup.ConversationID, err)
			_, _ = s.reminders.MarkFollowup(ctx, followup.ID, models.ReminderError)
		}
	}
}

// reclaimStuckTasks re-delivers stream entries whose consumer died mid-task.
func (s *Scheduler) reclaimStuckTasks(ctx context.Context) {
	reclaimed, err := s.taskQueue.Reclaim(ctx, 5*time.Minute)
	if err != nil {
		log.Printf("❌ Task reclaim failed: %v", err)
		return
	}
	if reclaimed > 0 {
		log.Printf("♻️ Reclaimed %d stuck tasks", reclaimed)
	}
}

// refreshRules re-reads the rules file. The fsnotify watcher catches most
// edits immediately; this is the backstop for missed events.
func (s *Scheduler) refreshRules(context.Context) {
	if err := s.rules.Reload(); err != nil {
		log.Printf("⚠️ Rules refresh failed, keeping previous rules: %v", err)
	}
}

// NextReminderDue reports whether the conversation has been silent long
// enough for its next escalation level. Levels are 1-based; delays count
// from the last activity, not from the previous reminder.
func NextReminderDue(conv *models.Conversation, ladder []config.ReminderLevel, now time.Time) (int, bool) {
	if conv.ReminderLevel >= len(ladder) {
		return 0, false
	}
	next := conv.ReminderLevel + 1
	delay := time.Duration(ladder[next-1].DelayMinutes) * time.Minute
	if now.Sub(conv.LastMessageAt) < delay {
		return 0, false
	}
	return next, true
}

// InQuietHours reports whether local time in tz falls inside the configured
// window. Windows may cross midnight ("21:00"-"09:00"). Unknown timezones
// fall back to the default timezone, then to UTC.
func InQuietHours(now time.Time, qh config.QuietHours, tz string) bool {
	if !qh.Enabled {
		return false
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, err = time.LoadLocation(qh.DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	start, ok1 := parseClock(qh.Start)
	end, ok2 := parseClock(qh.End)
	if !ok1 || !ok2 {
		return false
	}
	if start == end {
		return false
	}
	if start < end {
		return minutes >= start && minutes < end
	}
	// Window crosses midnight.
	return minutes >= start || minutes < end
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func shortestDelay(ladder []config.ReminderLevel) time.Duration {
	shortest := time.Duration(ladder[0].DelayMinutes) * time.Minute
	for _, l := range ladder[1:] {
		if d := time.Duration(l.DelayMinutes) * time.Minute; d < shortest {
			shortest = d
		}
	}
	return shortest
}

func interviewReminderText(rules *config.Rules, reminderType string) string {
	for _, r := range rules.InterviewReminders {
		if r.ID == reminderType {
			return r.Text
		}
	}
	return ""
}

func followupText(rules *config.Rules, step int) string {
	for _, f := range rules.Followups {
		if f.Step == step {
			return f.Text
		}
	}
	return ""
}
