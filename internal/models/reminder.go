package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Reminder/followup statuses.
const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderCancelled = "cancelled"
	ReminderError     = "error"
)

// InterviewReminder is a pre-interview ping scheduled when a slot is booked.
type InterviewReminder struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID string             `bson:"conversationId" json:"conversation_id"`
	ReminderType   string             `bson:"reminderType" json:"reminder_type"` // rules InterviewReminder.ID
	ScheduledAt    time.Time          `bson:"scheduledAt" json:"scheduled_at"`
	Status         string             `bson:"status" json:"status"`
	CreatedAt      time.Time          `bson:"createdAt" json:"created_at"`
	ProcessedAt    *time.Time         `bson:"processedAt,omitempty" json:"processed_at,omitempty"`
}

// InterviewFollowup is a post-interview nudge ("how did it go?").
type InterviewFollowup struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID string             `bson:"conversationId" json:"conversation_id"`
	Step           int                `bson:"step" json:"step"`
	ScheduledAt    time.Time          `bson:"scheduledAt" json:"scheduled_at"`
	Status         string             `bson:"status" json:"status"`
	CreatedAt      time.Time          `bson:"createdAt" json:"created_at"`
	ProcessedAt    *time.Time         `bson:"processedAt,omitempty" json:"processed_at,omitempty"`
}
