package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hirepilot/internal/coordination"
	"hirepilot/internal/database"
	"hirepilot/internal/models"
)

// TaskPublisher pushes engine tasks onto the work stream.
type TaskPublisher interface {
	Publish(ctx context.Context, task *models.Task) error
}

// InboundMessage is a normalized candidate message, whichever way it arrived
// (webhook push or chat polling).
type InboundMessage struct {
	AccountID  string
	ChatID     string
	MessageID  string
	AuthorID   string
	AuthorName string // display name when the source exposes one
	Text       string
	VacancyID  string
	CreatedAt  time.Time
}

// Ingestor turns inbound marketplace events into conversations and engine
// tasks. Message bursts are debounced so the engine answers the batch once.
type Ingestor struct {
	conversations *database.ConversationStore
	profiles      *database.ProfileStore
	vacancies     *database.VacancyStore
	accounts      *database.AccountStore
	client        *Client
	queue         TaskPublisher
	debounce      *coordination.Debouncer
	log           *logrus.Entry
}

func NewIngestor(
	conversations *database.ConversationStore,
	profiles *database.ProfileStore,
	vacancies *database.VacancyStore,
	accounts *database.AccountStore,
	client *Client,
	queue TaskPublisher,
	debounce *coordination.Debouncer,
) *Ingestor {
	return &Ingestor{
		conversations: conversations,
		profiles:      profiles,
		vacancies:     vacancies,
		accounts:      accounts,
		client:        client,
		queue:         queue,
		debounce:      debounce,
		log:           logrus.WithField("component", "ingest"),
	}
}

// IngestMessage records one inbound message and schedules an engine task.
// Idempotent against webhook redelivery: the turn append dedups by message id
// and the debounce marker collapses duplicate publishes.
func (i *Ingestor) IngestMessage(ctx context.Context, msg InboundMessage) error {
	conv, err := i.conversations.GetByChatID(ctx, msg.AccountID, msg.ChatID)
	isNew := false
	if errors.Is(err, database.ErrNotFound) {
		conv, err = i.createConversation(ctx, msg)
		isNew = true
	}
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(conv.Status) {
		i.log.WithField("conversation_id", conv.ConversationID).Debug("Dropping message for terminal conversation")
		return nil
	}

	turn := models.Turn{
		MessageID: msg.MessageID,
		Role:      models.RoleUser,
		Content:   msg.Text,
		Timestamp: msg.CreatedAt.UTC(),
	}
	appended, err := i.conversations.AppendTurn(ctx, conv.ConversationID, turn)
	if err != nil {
		return err
	}
	if !appended && !isNew {
		i.log.WithFields(logrus.Fields{
			"conversation_id": conv.ConversationID,
			"message_id":      msg.MessageID,
		}).Debug("Duplicate message, turn already recorded")
	}

	trigger := models.TriggerMessage
	if isNew {
		trigger = models.TriggerNewLead
	}
	task := &models.Task{ConversationID: conv.ConversationID, Trigger: trigger}

	// The debounce window lets a burst of short messages land before the
	// engine builds its prompt. The marker owner publishes for everyone.
	planted, err := i.debounce.Schedule(ctx, conv.ConversationID, func(fireCtx context.Context) error {
		return i.queue.Publish(fireCtx, task)
	})
	if err != nil {
		// Marker state unknown; publish directly rather than lose the task.
		i.log.WithError(err).Warn("Debounce failed, publishing immediately")
		return i.queue.Publish(ctx, task)
	}
	if planted {
		i.log.WithFields(logrus.Fields{
			"conversation_id": conv.ConversationID,
			"trigger":         trigger,
		}).Info("Scheduled engine task")
	}
	return nil
}

func (i *Ingestor) createConversation(ctx context.Context, msg InboundMessage) (*models.Conversation, error) {
	conv := &models.Conversation{
		ConversationID: uuid.NewString(),
		ExternalChatID: msg.ChatID,
		AccountID:      msg.AccountID,
		CandidateID:    msg.AuthorID,
		VacancyID:      msg.VacancyID,
		State:          models.StateInitial,
		Status:         models.StatusNew,
		LastMessageAt:  msg.CreatedAt.UTC(),
	}
	if err := i.conversations.Create(ctx, conv); err != nil {
		// Lost the creation race; the other writer's document wins.
		existing, getErr := i.conversations.GetByChatID(ctx, msg.AccountID, msg.ChatID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		return existing, nil
	}

	profile, err := i.profiles.GetOrCreate(ctx, msg.AuthorID)
	if err != nil {
		i.log.WithError(err).Warn("Failed to create candidate profile")
	} else if msg.AuthorName != "" {
		// The chat list gives us a display name; the applications API fills
		// in the rest when the application event arrives.
		profile.SetContact(msg.AuthorName, "")
		if err := i.profiles.Save(ctx, profile); err != nil {
			i.log.WithError(err).Warn("Failed to store candidate name")
		}
	}
	i.refreshVacancy(ctx, msg)

	return conv, nil
}

// IngestApplication enriches the candidate profile from a vacancy application.
// The applications API is the only place the marketplace exposes the
// candidate's phone; name and phone are write-once on the profile, so a later
// application for another vacancy never overwrites what screening captured.
func (i *Ingestor) IngestApplication(ctx context.Context, accountID, applicationID string) error {
	if i.client == nil || i.accounts == nil {
		return nil
	}
	account, err := i.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	app, err := i.client.GetApplication(ctx, account, applicationID)
	if err != nil {
		return err
	}
	if app.Applicant.ID == "" {
		i.log.WithField("application_id", applicationID).Warn("Application carries no applicant, skipping")
		return nil
	}

	profile, err := i.profiles.GetOrCreate(ctx, app.Applicant.ID)
	if err != nil {
		return err
	}
	profile.SetContact(app.Applicant.Name, app.Applicant.Phone)
	if err := i.profiles.Save(ctx, profile); err != nil {
		return err
	}
	i.log.WithFields(logrus.Fields{
		"application_id": applicationID,
		"candidate_id":   app.Applicant.ID,
	}).Info("Candidate contact details recorded")
	return nil
}

// refreshVacancy snapshots listing details for the prompt context, best effort.
func (i *Ingestor) refreshVacancy(ctx context.Context, msg InboundMessage) {
	if msg.VacancyID == "" || i.client == nil || i.accounts == nil {
		return
	}
	account, err := i.accounts.Get(ctx, msg.AccountID)
	if err != nil {
		return
	}
	details, err := i.client.GetVacancy(ctx, account, msg.VacancyID)
	if err != nil {
		i.log.WithError(err).WithField("vacancy_id", msg.VacancyID).Warn("Failed to fetch vacancy details")
		return
	}
	vacancy := &models.Vacancy{
		VacancyID:   details.ID,
		AccountID:   msg.AccountID,
		Title:       details.Title,
		City:        details.City,
		Description: details.Description,
		ListingURL:  details.URL,
	}
	if err := i.vacancies.Upsert(ctx, vacancy); err != nil {
		i.log.WithError(err).Warn("Failed to store vacancy snapshot")
	}
}
