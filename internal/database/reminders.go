package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hirepilot/internal/models"
)

// ReminderStore persists scheduled interview reminders and followups.
type ReminderStore struct {
	mongoDB *MongoDB
}

func NewReminderStore(mongoDB *MongoDB) *ReminderStore {
	return &ReminderStore{mongoDB: mongoDB}
}

func (s *ReminderStore) reminders() *mongo.Collection {
	return s.mongoDB.Database().Collection(CollectionReminders)
}

func (s *ReminderStore) followups() *mongo.Collection {
	return s.mongoDB.Database().Collection(CollectionFollowups)
}

// ScheduleReminder inserts a pending pre-interview reminder.
func (s *ReminderStore) ScheduleReminder(ctx context.Context, r *models.InterviewReminder) error {
	r.Status = models.ReminderPending
	r.CreatedAt = time.Now().UTC()
	if _, err := s.reminders().InsertOne(ctx, r); err != nil {
		return fmt.Errorf("failed to schedule reminder: %w", err)
	}
	return nil
}

// DueReminders returns pending reminders whose scheduled time has passed.
func (s *ReminderStore) DueReminders(ctx context.Context, now time.Time) ([]models.InterviewReminder, error) {
	cursor, err := s.reminders().Find(ctx, bson.M{
		"status":      models.ReminderPending,
		"scheduledAt": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer cursor.Close(ctx)

	var due []models.InterviewReminder
	if err := cursor.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("failed to decode reminders: %w", err)
	}
	return due, nil
}

// MarkReminder transitions a reminder out of pending. Only one worker wins the
// pending->sent transition, so double processing sends nothing twice.
func (s *ReminderStore) MarkReminder(ctx context.Context, id interface{}, status string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.reminders().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.ReminderPending},
		bson.M{"$set": bson.M{"status": status, "processedAt": now}})
	if err != nil {
		return false, fmt.Errorf("failed to mark reminder: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// CancelReminders cancels all pending reminders for a conversation, used when
// a booked slot is released or rescheduled.
func (s *ReminderStore) CancelReminders(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	_, err := s.reminders().UpdateMany(ctx,
		bson.M{"conversationId": conversationID, "status": models.ReminderPending},
		bson.M{"$set": bson.M{"status": models.ReminderCancelled, "processedAt": now}})
	if err != nil {
		return fmt.Errorf("failed to cancel reminders: %w", err)
	}
	return nil
}

// ScheduleFollowup inserts a pending post-interview followup.
func (s *ReminderStore) ScheduleFollowup(ctx context.Context, f *models.InterviewFollowup) error {
	f.Status = models.ReminderPending
	f.CreatedAt = time.Now().UTC()
	if _, err := s.followups().InsertOne(ctx, f); err != nil {
		return fmt.Errorf("failed to schedule followup: %w", err)
	}
	return nil
}

// DueFollowups returns pending followups whose scheduled time has passed.
func (s *ReminderStore) DueFollowups(ctx context.Context, now time.Time) ([]models.InterviewFollowup, error) {
	cursor, err := s.followups().Find(ctx, bson.M{
		"status":      models.ReminderPending,
		"scheduledAt": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due followups: %w", err)
	}
	defer cursor.Close(ctx)

	var due []models.InterviewFollowup
	if err := cursor.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("failed to decode followups: %w", err)
	}
	return due, nil
}

// MarkFollowup transitions a followup out of pending.
func (s *ReminderStore) MarkFollowup(ctx context.Context, id interface{}, status string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.followups().UpdateOne(ctx,
		bson.M{"_id": id, "status": models.ReminderPending},
		bson.M{"$set": bson.M{"status": status, "processedAt": now}})
	if err != nil {
		return false, fmt.Errorf("failed to mark followup: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// CancelFollowups cancels all pending followups for a conversation.
func (s *ReminderStore) CancelFollowups(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	_, err := s.followups().UpdateMany(ctx,
		bson.M{"conversationId": conversationID, "status": models.ReminderPending},
		bson.M{"$set": bson.M{"status": models.ReminderCancelled, "processedAt": now}})
	if err != nil {
		return fmt.Errorf("failed to cancel followups: %w", err)
	}
	return nil
}
