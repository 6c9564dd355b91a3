package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hirepilot/internal/calendar"
	"hirepilot/internal/config"
	"hirepilot/internal/database"
	"hirepilot/internal/faults"
	"hirepilot/internal/logging"
	"hirepilot/internal/metrics"
	"hirepilot/internal/models"
	"hirepilot/internal/oracle"
)

// Collaborator contracts. The engine accepts interfaces so every external
// system can be scripted in tests; production wiring passes the concrete
// services.

type ConversationRepo interface {
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	Save(ctx context.Context, conv *models.Conversation) error
}

type ProfileRepo interface {
	GetOrCreate(ctx context.Context, candidateID string) (*models.CandidateProfile, error)
	Save(ctx context.Context, profile *models.CandidateProfile) error
}

type AccountRepo interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
}

type VacancyRepo interface {
	Get(ctx context.Context, vacancyID string) (*models.Vacancy, error)
}

type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, r *models.InterviewReminder) error
	ScheduleFollowup(ctx context.Context, f *models.InterviewFollowup) error
	CancelReminders(ctx context.Context, conversationID string) error
	CancelFollowups(ctx context.Context, conversationID string) error
}

type DecisionOracle interface {
	Decide(ctx context.Context, dc oracle.DecisionContext) (*models.Decision, models.Usage, error)
}

type FactAuditor interface {
	ReDerive(ctx context.Context, conv *models.Conversation, factKey string, now time.Time) (string, models.Usage, error)
}

type Messenger interface {
	SendMessage(ctx context.Context, account *models.Account, chatID, text string) (string, error)
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, conversationID, event, detail string) error
	RecordOracleCall(ctx context.Context, conversationID, model string, promptTokens, completionTokens, attempts int, cost float64, success bool, errorKind string) error
}

type AlertSender interface {
	Send(ctx context.Context, severity, title, markdown, conversationID string)
	QuotaExhausted(ctx context.Context, conversationID string, remaining int64)
}

type TaskPublisher interface {
	Publish(ctx context.Context, task *models.Task) error
}

type KnowledgeSource interface {
	ListingText(ctx context.Context, url string) string
}

type RulesProvider interface {
	Current() *config.Rules
}

type Lock interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
	StillHeld(ctx context.Context, key string) (bool, error)
}

type Quota interface {
	InitIfAbsent(ctx context.Context, resourceID string, amount int64) error
	TrySpend(ctx context.Context, resourceID string) (int64, bool, error)
	Refund(ctx context.Context, resourceID string)
}

// maxCorrections bounds self-correction replays per oracle decision before
// the engine escalates.
const maxCorrections = 1

// Slot offers in the prompt: how far ahead to look and how many to show.
const (
	slotLookaheadDays = 14
	slotOfferLimit    = 10
)

// Deps is the full collaborator set for the engine.
type Deps struct {
	Conversations ConversationRepo
	Profiles      ProfileRepo
	Accounts      AccountRepo
	Vacancies     VacancyRepo
	Reminders     ReminderScheduler
	Oracle        DecisionOracle
	Auditor       FactAuditor
	Messenger     Messenger
	Calendar      calendar.Calendar
	Events        EventRecorder
	Alerts        AlertSender
	Queue         TaskPublisher
	Knowledge     KnowledgeSource
	Rules         RulesProvider
	Quota         Quota
	NewLock       func() Lock

	OracleModel   string
	QuotaDefault  int64
	HistoryWindow int
}

// Engine drives one conversation per task invocation: exclusive lock, oracle
// decision, validated transition, gated fact writes and at most one outbound
// message. Designed to be safe under at-least-once task delivery.
type Engine struct {
	deps Deps
}

func New(deps Deps) *Engine {
	if deps.QuotaDefault <= 0 {
		deps.QuotaDefault = 100
	}
	if deps.HistoryWindow <= 0 {
		deps.HistoryWindow = 30
	}
	return &Engine{deps: deps}
}

// ProcessTask handles one queue delivery. A nil return acknowledges the task;
// an error nacks it for redelivery (bounded by the queue's attempt budget).
func (e *Engine) ProcessTask(ctx context.Context, task *models.Task) error {
	start := time.Now()
	err := e.processTask(ctx, task)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Get().RecordTask(string(task.Trigger), result, time.Since(start).Seconds())
	return err
}

func (e *Engine) processTask(ctx context.Context, task *models.Task) error {
	log := logging.WithConversation(task.ConversationID, string(task.Trigger), task.Attempt)

	conv, err := e.deps.Conversations.Get(ctx, task.ConversationID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn("task references unknown conversation, dropping")
		return nil
	}
	if err != nil {
		return faults.Classify(err)
	}
	if models.IsTerminalStatus(conv.Status) || models.IsTerminalState(conv.State) {
		log.Info("conversation is terminal, dropping task")
		return nil
	}

	lock := e.deps.NewLock()
	acquired, err := lock.Acquire(ctx, conv.ConversationID)
	if err != nil {
		return faults.Classify(err)
	}
	if !acquired {
		return faults.New(faults.KindTransient, "conversation %s is locked by another worker", conv.ConversationID)
	}
	defer lock.Release(ctx, conv.ConversationID)

	// Reload under the lock so we never act on a snapshot another worker
	// already advanced.
	conv, err = e.deps.Conversations.Get(ctx, conv.ConversationID)
	if err != nil {
		return faults.Classify(err)
	}

	profile, err := e.deps.Profiles.GetOrCreate(ctx, conv.CandidateID)
	if err != nil {
		return faults.Classify(err)
	}

	rules := e.deps.Rules.Current()

	// Reminder and followup texts are operator-authored and sent verbatim;
	// they never consume oracle quota.
	if (task.Trigger == models.TriggerReminder || task.Trigger == models.TriggerFollowup) && task.ReminderText != "" {
		return e.closeOnDeadChat(ctx, lock, conv, log, e.sendDirect(ctx, lock, conv, task))
	}

	// A candidate already known to be ineligible is rejected without
	// spending a single oracle call.
	if eligible, reason := CheckEligibility(profile, rules.Eligibility); !eligible {
		log.Info("eligibility short-circuit", "reason", reason)
		return e.closeOnDeadChat(ctx, lock, conv, log, e.rejectIneligible(ctx, lock, conv, rules, reason))
	}

	if task.Trigger == models.TriggerMessage && len(conv.PendingInbound()) == 0 {
		// Redelivery of an already answered batch; the reply is in the log.
		log.Info("no pending inbound turns, dropping task")
		return nil
	}

	return e.closeOnDeadChat(ctx, lock, conv, log, e.invokeOracle(ctx, lock, conv, profile, rules, task, log))
}

// closeOnDeadChat converts a terminal marketplace failure (chat deleted, bot
// blocked, account forbidden) into a closed conversation. Requeueing such a
// task can never succeed, so the error is swallowed and the task acked.
func (e *Engine) closeOnDeadChat(ctx context.Context, lock Lock, conv *models.Conversation, log *slog.Logger, err error) error {
	if err == nil || faults.KindOf(err) != faults.KindTerminalExternal {
		return err
	}
	log.Warn("chat is permanently unreachable, closing conversation", "error", err)
	if e.deps.Events != nil {
		_ = e.deps.Events.RecordEvent(ctx, conv.ConversationID, models.EventChatClosed, err.Error())
	}
	return e.commit(ctx, lock, conv, nil, Outcome{NextState: conv.State, Status: models.StatusClosed})
}

func (e *Engine) invokeOracle(ctx context.Context, lock Lock, conv *models.Conversation, profile *models.CandidateProfile, rules *config.Rules, task *models.Task, log *slog.Logger) error {
	// Spend before calling, refund if no decision came back. An exhausted
	// quota is a hard stop with a latched operator alert.
	if err := e.deps.Quota.InitIfAbsent(ctx, conv.ConversationID, e.deps.QuotaDefault); err != nil {
		return faults.Classify(err)
	}
	remaining, ok, err := e.deps.Quota.TrySpend(ctx, conv.ConversationID)
	if err != nil {
		return faults.Classify(err)
	}
	if !ok {
		log.Warn("oracle quota exhausted")
		if e.deps.Alerts != nil {
			e.deps.Alerts.QuotaExhausted(ctx, conv.ConversationID, remaining)
		}
		return nil
	}

	dc := e.buildContext(ctx, conv, profile, rules, task)

	decision, usage, err := e.deps.Oracle.Decide(ctx, dc)
	e.recordOracleCall(ctx, conv.ConversationID, usage, err)
	if err != nil {
		e.deps.Quota.Refund(ctx, conv.ConversationID)
		return faults.Classify(err)
	}
	conv.Usage.Add(usage.PromptTokens, usage.CompletionTokens, usage.Cost)

	// Invalid transition: one bounded self-correction replay, then escalate.
	if !CanTransition(conv.State, decision.NextState) {
		return e.correctTransition(ctx, lock, conv, decision, log)
	}

	// Audit critical facts before they are written anywhere.
	if replayed, err := e.auditFacts(ctx, lock, conv, decision, rules, task); err != nil || replayed {
		return err
	}

	applied, droppedFacts := ApplyFacts(conv.State, profile, decision.Extracted, rules, time.Now().UTC())
	if len(droppedFacts) > 0 {
		log.Info("dropped state-gated facts", "facts", droppedFacts)
	}
	if len(applied) > 0 {
		log.Info("profile facts updated", "facts", applied)
	}

	outcome := Decide(conv, profile, decision, rules)

	if err := e.execute(ctx, lock, conv, profile, rules, &outcome); err != nil {
		return err
	}

	conv.Corrections = 0
	if task.Trigger == models.TriggerMessage {
		// The candidate answered; the silence escalation starts over.
		conv.ReminderLevel = 0
	}
	return e.commit(ctx, lock, conv, profile, outcome)
}

// sendDirect delivers operator-authored reminder text without an oracle call.
func (e *Engine) sendDirect(ctx context.Context, lock Lock, conv *models.Conversation, task *models.Task) error {
	if err := e.sendReply(ctx, lock, conv, task.ReminderText); err != nil {
		return err
	}
	if task.ReminderLevel > conv.ReminderLevel {
		conv.ReminderLevel = task.ReminderLevel
	}
	if e.deps.Events != nil {
		_ = e.deps.Events.RecordEvent(ctx, conv.ConversationID, models.EventReminderSent, fmt.Sprintf("level %d", task.ReminderLevel))
	}

	outcome := Outcome{NextState: conv.State, Status: conv.Status}
	if task.StopAfterSend {
		outcome.Status = models.StatusTimedOut
		if e.deps.Events != nil {
			_ = e.deps.Events.RecordEvent(ctx, conv.ConversationID, models.EventTimedOut, "")
		}
	}
	return e.commit(ctx, lock, conv, nil, outcome)
}

// rejectIneligible closes out a disqualified candidate without oracle spend.
func (e *Engine) rejectIneligible(ctx context.Context, lock Lock, conv *models.Conversation, rules *config.Rules, reason string) error {
	if rules.Eligibility.RejectionText != "" {
		if err := e.sendReply(ctx, lock, conv, rules.Eligibility.RejectionText); err != nil {
			return err
		}
	}
	if e.deps.Events != nil {
		_ = e.deps.Events.RecordEvent(ctx, conv.ConversationID, models.EventRejectedByBot, reason)
	}
	outcome := Outcome{NextState: models.StateRejected, Status: models.StatusRejected}
	return e.commit(ctx, lock, conv, nil, outcome)
}

// correctTransition runs the bounded self-correction replay for an invalid
// state label.
func (e *Engine) correctTransition(ctx context.Context, lock Lock, conv *models.Conversation, decision *models.Decision, log *slog.Logger) error {
	directive := fmt.Sprintf(
		"Your previous answer chose state %q, which is not reachable from %q. Choose a valid next state and answer again.",
		decision.NextState, conv.State)

	if conv.Corrections >= maxCorrections {
		log.Warn("correction budget exhausted, escalating", "from", string(conv.State), "to", string(decision.NextState))
		if e.deps.Alerts != nil {
			e.deps.Alerts.Send(ctx, "critical", "State machine violation",
				fmt.Sprintf("Conversation `%s` produced invalid transition %s -> %s twice. Moved to error recovery.",
					conv.ConversationID, conv.State, decision.NextState), conv.ConversationID)
		}
		conv.State = models.StateErrorRecovery
		conv.Corrections = 0
	} else {
		conv.Corrections++
	}

	conv.Turns = append(conv.Turns, models.Turn{
		MessageID: uuid.NewString(),
		Role:      models.RoleDirective,
		Content:   directive,
		State:     conv.State,
		Timestamp: time.Now().UTC(),
	})
	if err := e.commit(ctx, lock, conv, nil, Outcome{NextState: conv.State, Status: conv.Status}); err != nil {
		return err
	}
	return e.deps.Queue.Publish(ctx, &models.Task{
		ConversationID: conv.ConversationID,
		Trigger:        models.TriggerStateCorrection,
		Directive:      directive,
	})
}

// auditFacts re-derives critical facts and replays on disagreement. Returns
// replayed=true when the invocation was converted into a corrective replay.
func (e *Engine) auditFacts(ctx context.Context, lock Lock, conv *models.Conversation, decision *models.Decision, rules *config.Rules, task *models.Task) (bool, error) {
	if e.deps.Auditor == nil || task.Trigger == models.TriggerAuditRetry {
		return false, nil
	}

	now := time.Now().UTC()
	for _, key := range []string{models.FactInterviewDate, models.FactInterviewTime} {
		value, present := decision.Extracted[key]
		if !present || value == "" {
			continue
		}
		if !oracle.ShouldAudit(conv, key, value, rules.AuditKeywords) {
			continue
		}

		derived, usage, err := e.deps.Auditor.ReDerive(ctx, conv, key, now)
		conv.Usage.Add(usage.PromptTokens, usage.CompletionTokens, usage.Cost)
		if err != nil {
			// The audit is protective, not load-bearing. Keep the primary
			// value but do not record a verification that never happened.
			continue
		}
		if derived == "" || derived == value {
			if conv.Audits == nil {
				conv.Audits = make(map[string]models.AuditRecord)
			}
			conv.Audits[key] = models.AuditRecord{Value: value, TurnCount: len(conv.Turns), AuditedAt: now}
			continue
		}

		// Disagreement: never silently overwrite either value. Replay with a
		// corrective directive so the oracle resolves it in context.
		directive := fmt.Sprintf(
			"The transcript indicates %s is %q, but your answer said %q. Re-read the conversation, clarify with the candidate if needed, and answer again.",
			key, derived, value)
		conv.Turns = append(conv.Turns, models.Turn{
			MessageID: uuid.NewString(),
			Role:      models.RoleDirective,
			Content:   directive,
			State:     conv.State,
			Timestamp: now,
		})
		if e.deps.Alerts != nil {
			e.deps.Alerts.Send(ctx, "warning", "Fact audit disagreement",
				fmt.Sprintf("Conversation `%s`: %s mismatch (primary %q vs audit %q). Replaying.",
					conv.ConversationID, key, value, derived), conv.ConversationID)
		}
		if err := e.commit(ctx, lock, conv, nil, Outcome{NextState: conv.State, Status: conv.Status}); err != nil {
			return true, err
		}
		return true, e.deps.Queue.Publish(ctx, &models.Task{
			ConversationID: conv.ConversationID,
			Trigger:        models.TriggerAuditRetry,
			Directive:      directive,
		})
	}
	return false, nil
}

func (e *Engine) buildContext(ctx context.Context, conv *models.Conversation, profile *models.CandidateProfile, rules *config.Rules, task *models.Task) oracle.DecisionContext {
	dc := oracle.DecisionContext{
		Conversation:  conv,
		Profile:       profile,
		Rules:         rules,
		Directive:     task.Directive,
		HistoryWindow: e.deps.HistoryWindow,
	}
	if conv.VacancyID != "" && e.deps.Vacancies != nil {
		if vacancy, err := e.deps.Vacancies.Get(ctx, conv.VacancyID); err == nil {
			dc.Vacancy = vacancy
			if e.deps.Knowledge != nil && vacancy.ListingURL != "" {
				dc.Knowledge = e.deps.Knowledge.ListingText(ctx, vacancy.ListingURL)
			}
		}
	}
	if wantsSlots(conv.State) && e.deps.Calendar != nil {
		slots, err := e.deps.Calendar.ListAvailableSlots(ctx, time.Now(), slotLookaheadDays)
		if err != nil {
			logging.WithConversation(conv.ConversationID, string(task.Trigger), task.Attempt).
				Warn("slot listing failed, oracle decides without the calendar", "error", err)
		} else {
			if len(slots) > slotOfferLimit {
				slots = slots[:slotOfferLimit]
			}
			dc.AvailableSlots = slots
		}
	}
	return dc
}

// wantsSlots marks the states whose next reply may propose interview times.
// Qualification is included: the reply that moves the candidate into
// scheduling already offers concrete slots.
func wantsSlots(s models.ConversationState) bool {
	switch s {
	case models.StateQualification, models.StateScheduling, models.StateSchedulingConfirm:
		return true
	}
	return false
}

// execute runs the outcome's effects. BookSlot failures rewrite the outcome:
// the reply and export are suppressed and the conversation replays with a
// directive offering other slots.
func (e *Engine) execute(ctx context.Context, lock Lock, conv *models.Conversation, profile *models.CandidateProfile, rules *config.Rules, outcome *Outcome) error {
	bookFailed := false

	for _, effect := range outcome.Effects {
		switch ef := effect.(type) {
		case BookSlot:
			booked, err := e.deps.Calendar.BookSlot(ctx, ef.Date, ef.Time)
			if err != nil {
				return faults.Classify(err)
			}
			if !booked {
				bookFailed = true
				if err := e.handleFullSlot(ctx, lock, conv, rules, ef); err != nil {
					return err
				}
				// The decision's remaining effects assumed the booking.
				outcome.NextState = conv.State
				outcome.Status = conv.Status
			} else {
				conv.InterviewDate = ef.Date
				conv.InterviewTime = ef.Time
			}

		case ReleaseSlot:
			if err := e.deps.Calendar.ReleaseSlot(ctx, ef.Date, ef.Time); err != nil {
				return faults.Classify(err)
			}
			if e.deps.Reminders != nil {
				_ = e.deps.Reminders.CancelReminders(ctx, conv.ConversationID)
				_ = e.deps.Reminders.CancelFollowups(ctx, conv.ConversationID)
			}
			conv.InterviewDate = ""
			conv.InterviewTime = ""

		case ExportCandidate:
			if bookFailed {
				continue
			}
			e.exportCandidate(ctx, conv, profile, rules)

		case SendReply:
			if bookFailed {
				continue
			}
			if err := e.sendReply(ctx, lock, conv, ef.Text); err != nil {
				return err
			}

		case Alert:
			if e.deps.Alerts != nil {
				e.deps.Alerts.Send(ctx, ef.Severity, ef.Title, ef.Body, conv.ConversationID)
			}

		case RecordEvent:
			if bookFailed && ef.Event == models.EventInterviewScheduled {
				continue
			}
			switch ef.Event {
			case models.EventRejectedByBot:
				metrics.Get().RecordRejection("bot")
			case models.EventRejectedByCandidate:
				metrics.Get().RecordRejection("candidate")
			}
			if e.deps.Events != nil {
				_ = e.deps.Events.RecordEvent(ctx, conv.ConversationID, ef.Event, ef.Detail)
			}

		case Requeue:
			if err := e.deps.Queue.Publish(ctx, &ef.Task); err != nil {
				return faults.Classify(err)
			}
		}
	}
	return nil
}

// handleFullSlot reacts to a booking race lost: bump the attempt counter and
// either replay with alternatives or hand over to a human.
func (e *Engine) handleFullSlot(ctx context.Context, lock Lock, conv *models.Conversation, rules *config.Rules, slot BookSlot) error {
	conv.SlotAttempts++

	if conv.SlotAttempts >= rules.MaxSlotAttempts {
		if e.deps.Alerts != nil {
			e.deps.Alerts.Send(ctx, "warning", "Scheduling exhausted",
				fmt.Sprintf("Conversation `%s` lost %d slot races. A human needs to take over scheduling.",
					conv.ConversationID, conv.SlotAttempts), conv.ConversationID)
		}
		conv.State = models.StateSchedulingExhausted
		return nil
	}

	directive := fmt.Sprintf(
		"The slot %s %s was taken while confirming. Apologize briefly and offer other available times.",
		slot.Date, slot.Time)
	conv.Turns = append(conv.Turns, models.Turn{
		MessageID: uuid.NewString(),
		Role:      models.RoleDirective,
		Content:   directive,
		State:     conv.State,
		Timestamp: time.Now().UTC(),
	})
	return e.deps.Queue.Publish(ctx, &models.Task{
		ConversationID: conv.ConversationID,
		Trigger:        models.TriggerStateCorrection,
		Directive:      directive,
	})
}

// sendReply delivers exactly one outbound turn. The lock is re-checked first:
// a lost lock means another worker may be mid-flight on the same
// conversation, and sending would risk a duplicate.
func (e *Engine) sendReply(ctx context.Context, lock Lock, conv *models.Conversation, text string) error {
	held, err := lock.StillHeld(ctx, conv.ConversationID)
	if err != nil {
		return faults.Classify(err)
	}
	if !held {
		return faults.New(faults.KindConsistencyConflict, "lock for %s lost before send", conv.ConversationID)
	}

	account, err := e.deps.Accounts.Get(ctx, conv.AccountID)
	if err != nil {
		return faults.Classify(err)
	}

	messageID, err := e.deps.Messenger.SendMessage(ctx, account, conv.ExternalChatID, text)
	if err != nil {
		return faults.Classify(err)
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	conv.Turns = append(conv.Turns, models.Turn{
		MessageID: messageID,
		Role:      models.RoleAssistant,
		Content:   text,
		State:     conv.State,
		Timestamp: time.Now().UTC(),
	})
	conv.LastMessageAt = time.Now().UTC()
	metrics.Get().RecordOutbound()
	return nil
}

// exportCandidate pushes the booked candidate to the roster and schedules the
// pre-interview reminders and post-interview followups. Best effort: the
// booking stands even when an export step fails.
func (e *Engine) exportCandidate(ctx context.Context, conv *models.Conversation, profile *models.CandidateProfile, rules *config.Rules) {
	vacancyTitle := ""
	if conv.VacancyID != "" && e.deps.Vacancies != nil {
		if vacancy, err := e.deps.Vacancies.Get(ctx, conv.VacancyID); err == nil {
			vacancyTitle = vacancy.Title
		}
	}
	export := calendar.CandidateExport{
		FullName:       profile.FullName,
		Phone:          profile.Phone,
		VacancyTitle:   vacancyTitle,
		InterviewDate:  conv.InterviewDate,
		InterviewTime:  conv.InterviewTime,
		ConversationID: conv.ConversationID,
		ExportedAt:     time.Now().UTC(),
	}
	if err := e.deps.Calendar.AppendCandidate(ctx, export); err != nil {
		logging.WithConversation(conv.ConversationID, "", 0).Warn("candidate export failed", "error", err)
	}

	if e.deps.Reminders == nil {
		return
	}
	slotAt, err := time.Parse("2006-01-02 15:04", conv.InterviewDate+" "+conv.InterviewTime)
	if err != nil {
		return
	}
	for _, r := range rules.InterviewReminders {
		at := slotAt.Add(-time.Duration(r.OffsetHours) * time.Hour)
		if at.Before(time.Now()) {
			continue
		}
		_ = e.deps.Reminders.ScheduleReminder(ctx, &models.InterviewReminder{
			ConversationID: conv.ConversationID,
			ReminderType:   r.ID,
			ScheduledAt:    at,
		})
	}
	for _, f := range rules.Followups {
		_ = e.deps.Reminders.ScheduleFollowup(ctx, &models.InterviewFollowup{
			ConversationID: conv.ConversationID,
			Step:           f.Step,
			ScheduledAt:    slotAt.Add(time.Duration(f.DelayHours) * time.Hour),
		})
	}
}

// recordOracleCall logs usage to the SQL event log, failures included.
func (e *Engine) recordOracleCall(ctx context.Context, conversationID string, usage models.Usage, callErr error) {
	errorKind := ""
	result := "success"
	if callErr != nil {
		errorKind = faults.KindOf(callErr).String()
		result = errorKind
	}
	metrics.Get().RecordOracle(result, usage.PromptTokens+usage.CompletionTokens)
	if e.deps.Events == nil {
		return
	}
	_ = e.deps.Events.RecordOracleCall(ctx, conversationID, e.deps.OracleModel,
		int(usage.PromptTokens), int(usage.CompletionTokens), usage.Attempts, usage.Cost,
		callErr == nil, errorKind)
}

// commit persists the conversation (and profile) after a final lock check.
// A lost lock aborts the write: the surviving holder owns the document.
func (e *Engine) commit(ctx context.Context, lock Lock, conv *models.Conversation, profile *models.CandidateProfile, outcome Outcome) error {
	held, err := lock.StillHeld(ctx, conv.ConversationID)
	if err != nil {
		return faults.Classify(err)
	}
	if !held {
		return faults.New(faults.KindConsistencyConflict, "lock for %s lost before commit", conv.ConversationID)
	}

	conv.State = outcome.NextState
	conv.Status = outcome.Status

	if profile != nil {
		if err := e.deps.Profiles.Save(ctx, profile); err != nil {
			return faults.Classify(err)
		}
	}
	if err := e.deps.Conversations.Save(ctx, conv); err != nil {
		return faults.Classify(err)
	}
	return nil
}
