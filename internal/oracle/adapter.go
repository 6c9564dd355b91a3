package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hirepilot/internal/calendar"
	"hirepilot/internal/config"
	"hirepilot/internal/faults"
	"hirepilot/internal/models"
)

// gate is the concurrency limiter held across each completion attempt.
type gate interface {
	Enter(ctx context.Context) error
	Exit(ctx context.Context)
}

// DecisionContext carries everything the oracle needs to produce the next
// dialogue step for one conversation.
type DecisionContext struct {
	Conversation *models.Conversation
	Profile      *models.CandidateProfile
	Vacancy      *models.Vacancy
	Rules        *config.Rules

	// Directive is a synthetic engine instruction (corrective replay or
	// reminder framing). Fed to the oracle, never shown to the candidate.
	Directive string

	// Knowledge is extra vacancy context pulled from the listing page.
	Knowledge string

	// AvailableSlots are the open interview windows. Fed in around the
	// scheduling states so the oracle only ever offers bookable times.
	AvailableSlots []calendar.Slot

	HistoryWindow int
}

// Options tune the adapter's retry and pricing behavior.
type Options struct {
	MaxRetries           int
	Backoff              *faults.Backoff
	PromptPricePer1M     float64
	CompletionPricePer1M float64
}

// Adapter wraps the completion backend with bounded retry, the global
// concurrency gate, schema validation and usage accounting. Usage is
// accumulated across ALL attempts, failed ones included, so billing never
// undercounts.
type Adapter struct {
	backend Completer
	gate    gate
	opts    Options
	log     *logrus.Entry
}

// NewAdapter wires the adapter. The gate is shared across workers so the
// global completion concurrency holds fleet-wide.
func NewAdapter(backend Completer, g gate, optFns ...func(o *Options)) *Adapter {
	opts := Options{
		MaxRetries:           3,
		Backoff:              faults.NewBackoff(1000, 30000, 2.0, 20),
		PromptPricePer1M:     0.15,
		CompletionPricePer1M: 0.60,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Adapter{
		backend: backend,
		gate:    g,
		opts:    opts,
		log:     logrus.WithField("component", "oracle"),
	}
}

// Decide runs one oracle decision with bounded retry. Malformed output counts
// as a failed attempt, not a different kind of answer. On retry exhaustion
// the returned error is terminal for this invocation; the accumulated usage
// is returned either way.
func (a *Adapter) Decide(ctx context.Context, dc DecisionContext) (*models.Decision, models.Usage, error) {
	messages := a.buildMessages(dc)

	var total models.Usage
	var lastErr error

	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.opts.Backoff.Delay(attempt - 1)
			a.log.WithFields(logrus.Fields{
				"conversation_id": dc.Conversation.ConversationID,
				"attempt":         attempt,
				"delay":           delay.String(),
			}).Warn("Retrying oracle call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, total, faults.Classify(ctx.Err())
			}
		}

		comp, err := a.attempt(ctx, messages)
		total.Attempts++
		if comp != nil {
			total.Merge(models.Usage{
				PromptTokens:     comp.PromptTokens,
				CompletionTokens: comp.CompletionTokens,
				Cost:             a.cost(comp.PromptTokens, comp.CompletionTokens),
			})
		}
		if err != nil {
			f := faults.Classify(err)
			if !f.Retryable() {
				return nil, total, f
			}
			lastErr = f
			continue
		}

		decision, err := models.ParseDecision(comp.Content)
		if err != nil {
			var schemaErr *models.DecisionSchemaError
			if errors.As(err, &schemaErr) {
				a.log.WithFields(logrus.Fields{
					"conversation_id": dc.Conversation.ConversationID,
					"reason":          schemaErr.Reason,
				}).Warn("Oracle output failed schema validation")
				lastErr = faults.Wrap(faults.KindContractViolation, err, "decision schema violation")
				continue
			}
			return nil, total, faults.Classify(err)
		}
		return decision, total, nil
	}

	return nil, total, faults.Wrap(faults.KindResourceExhaustion, lastErr,
		fmt.Sprintf("oracle retry budget exhausted after %d attempts", total.Attempts))
}

// attempt holds the gate for exactly the duration of one completion call.
func (a *Adapter) attempt(ctx context.Context, messages []Message) (*Completion, error) {
	if err := a.gate.Enter(ctx); err != nil {
		return nil, err
	}
	defer a.gate.Exit(ctx)
	return a.backend.Complete(ctx, messages)
}

func (a *Adapter) cost(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)*a.opts.PromptPricePer1M/1_000_000 +
		float64(completionTokens)*a.opts.CompletionPricePer1M/1_000_000
}

func (a *Adapter) buildMessages(dc DecisionContext) []Message {
	var sys strings.Builder

	roleName := "recruiting assistant"
	if dc.Rules != nil && dc.Rules.BotRoleName != "" {
		roleName = dc.Rules.BotRoleName
	}
	fmt.Fprintf(&sys, "You are %s screening job applicants over marketplace chat.\n\n", roleName)

	if dc.Vacancy != nil {
		fmt.Fprintf(&sys, "Vacancy: %s", dc.Vacancy.Title)
		if dc.Vacancy.City != "" {
			fmt.Fprintf(&sys, " (%s)", dc.Vacancy.City)
		}
		sys.WriteString("\n")
		if dc.Vacancy.Description != "" {
			fmt.Fprintf(&sys, "Description: %s\n", dc.Vacancy.Description)
		}
	}
	if dc.Knowledge != "" {
		fmt.Fprintf(&sys, "Additional listing context:\n%s\n", dc.Knowledge)
	}

	fmt.Fprintf(&sys, "\nCurrent dialogue state: %s\n", dc.Conversation.State)

	if dc.Profile != nil && len(dc.Profile.Facts) > 0 {
		sys.WriteString("Known candidate facts:\n")
		for key, fact := range dc.Profile.Facts {
			fmt.Fprintf(&sys, "- %s: %s\n", key, fact.Value)
		}
	}

	if len(dc.AvailableSlots) > 0 {
		sys.WriteString("\nOpen interview slots, soonest first. Offer only these; never invent a time:\n")
		for _, slot := range dc.AvailableSlots {
			fmt.Fprintf(&sys, "- %s %s\n", slot.Date, slot.Time)
		}
	}

	if dc.Rules != nil && len(dc.Rules.Questions) > 0 {
		sys.WriteString("\nScreening questions to work through, one at a time:\n")
		for i, q := range dc.Rules.Questions {
			fmt.Fprintf(&sys, "%d. %s\n", i+1, q.Text)
		}
	}

	sys.WriteString("\nAllowed next_state labels: ")
	labels := make([]string, len(models.AllStates))
	for i, s := range models.AllStates {
		labels[i] = string(s)
	}
	sys.WriteString(strings.Join(labels, ", "))
	sys.WriteString("\n\nRespond with a single JSON object and nothing else:\n")
	sys.WriteString(`{"next_state": "<label>", "reply": "<message to send>", "extracted": {"<fact>": "<value>"}, "silence": false}`)
	sys.WriteString("\nSet silence to true only when no reply should be sent at all.")

	messages := []Message{{Role: "system", Content: sys.String()}}

	window := dc.HistoryWindow
	if window <= 0 {
		window = 30
	}
	for _, turn := range dc.Conversation.RecentTurns(window) {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, Message{Role: "assistant", Content: turn.Content})
		case models.RoleDirective:
			messages = append(messages, Message{Role: "system", Content: "Instruction: " + turn.Content})
		default:
			messages = append(messages, Message{Role: "user", Content: turn.Content})
		}
	}

	if dc.Directive != "" {
		messages = append(messages, Message{Role: "system", Content: "Instruction: " + dc.Directive})
	}
	return messages
}
