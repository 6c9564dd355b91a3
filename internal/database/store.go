package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hirepilot/internal/models"
)

// ErrNotFound is returned when a lookup matches no document. Callers that can
// create-on-miss should check for it with errors.Is.
var ErrNotFound = errors.New("not found")

// ConversationStore persists conversation aggregates. The engine is the only
// writer and always holds the conversation lock across load-mutate-save, so
// Save can replace the whole document.
type ConversationStore struct {
	mongoDB *MongoDB
}

// NewConversationStore creates the store and best-effort ensures indexes.
func NewConversationStore(mongoDB *MongoDB) *ConversationStore {
	s := &ConversationStore{mongoDB: mongoDB}
	s.ensureIndexes()
	return s
}

func (s *ConversationStore) collection() *mongo.Collection {
	return s.mongoDB.Database().Collection(CollectionConversations)
}

func (s *ConversationStore) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversationId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "externalChatId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lastMessageAt", Value: 1}}},
	})
	if err != nil {
		log.Printf("⚠️ [STORE] Failed to ensure conversation indexes: %v", err)
	}
}

// Get retrieves a conversation by its stable conversation ID.
func (s *ConversationStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.collection().FindOne(ctx, bson.M{"conversationId": conversationID}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// GetByChatID resolves a marketplace chat to its conversation.
func (s *ConversationStore) GetByChatID(ctx context.Context, accountID, chatID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.collection().FindOne(ctx, bson.M{
		"accountId":      accountID,
		"externalChatId": chatID,
	}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by chat: %w", err)
	}
	return &conv, nil
}

// Create inserts a new conversation. A duplicate conversationId means another
// worker created it first; the caller should reload and use that one.
func (s *ConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.State == "" {
		conv.State = models.StateInitial
	}
	if conv.Status == "" {
		conv.Status = models.StatusNew
	}

	result, err := s.collection().InsertOne(ctx, conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("conversation %s already exists: %w", conv.ConversationID, err)
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	conv.ID = result.InsertedID.(primitive.ObjectID)

	log.Printf("💬 [STORE] Created conversation %s (chat %s, account %s)",
		conv.ConversationID, conv.ExternalChatID, conv.AccountID)
	return nil
}

// Save replaces the stored document with the in-memory aggregate.
func (s *ConversationStore) Save(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()

	result, err := s.collection().ReplaceOne(ctx,
		bson.M{"conversationId": conv.ConversationID}, conv)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("conversation %s vanished during save", conv.ConversationID)
	}
	return nil
}

// AppendTurn adds a turn atomically without replacing the document. Used by
// the gateway path when recording inbound messages outside the engine lock.
// Dedup by messageId is enforced in the filter, so redelivery is a no-op.
func (s *ConversationStore) AppendTurn(ctx context.Context, conversationID string, turn models.Turn) (bool, error) {
	filter := bson.M{"conversationId": conversationID}
	if turn.MessageID != "" {
		filter["turns.messageId"] = bson.M{"$ne": turn.MessageID}
	}

	result, err := s.collection().UpdateOne(ctx, filter, bson.M{
		"$push": bson.M{"turns": turn},
		"$set": bson.M{
			"lastMessageAt": turn.Timestamp,
			"updatedAt":     time.Now().UTC(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to append turn: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// UpdateStatus sets the lifecycle status without touching the rest.
func (s *ConversationStore) UpdateStatus(ctx context.Context, conversationID string, status models.ConversationStatus) error {
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"conversationId": conversationID},
		bson.M{"$set": bson.M{
			"status":    status,
			"updatedAt": time.Now().UTC(),
		}})
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// ListSilent returns active conversations whose last activity is older than
// cutoff and whose reminder level is below maxLevel. Fed to the silence sweep.
func (s *ConversationStore) ListSilent(ctx context.Context, cutoff time.Time, maxLevel int) ([]models.Conversation, error) {
	cursor, err := s.collection().Find(ctx, bson.M{
		"status":        bson.M{"$in": []models.ConversationStatus{models.StatusNew, models.StatusInProgress, models.StatusQualified}},
		"lastMessageAt": bson.M{"$lt": cutoff, "$ne": time.Time{}},
		"reminderLevel": bson.M{"$lt": maxLevel},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list silent conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var convs []models.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("failed to decode silent conversations: %w", err)
	}
	return convs, nil
}

// ProfileStore persists candidate profiles keyed by marketplace candidate ID.
type ProfileStore struct {
	mongoDB *MongoDB
}

func NewProfileStore(mongoDB *MongoDB) *ProfileStore {
	s := &ProfileStore{mongoDB: mongoDB}
	s.ensureIndexes()
	return s
}

func (s *ProfileStore) collection() *mongo.Collection {
	return s.mongoDB.Database().Collection(CollectionProfiles)
}

func (s *ProfileStore) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "candidateId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Printf("⚠️ [STORE] Failed to ensure profile indexes: %v", err)
	}
}

// GetOrCreate loads the profile for a candidate, creating an empty one on miss.
func (s *ProfileStore) GetOrCreate(ctx context.Context, candidateID string) (*models.CandidateProfile, error) {
	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var profile models.CandidateProfile
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"candidateId": candidateID},
		bson.M{"$setOnInsert": bson.M{
			"candidateId": candidateID,
			"createdAt":   now,
			"updatedAt":   now,
		}}, opts).Decode(&profile)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create profile: %w", err)
	}
	return &profile, nil
}

// Save replaces the stored profile.
func (s *ProfileStore) Save(ctx context.Context, profile *models.CandidateProfile) error {
	profile.UpdatedAt = time.Now().UTC()

	_, err := s.collection().ReplaceOne(ctx,
		bson.M{"candidateId": profile.CandidateID}, profile,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// AccountStore manages marketplace account credentials.
type AccountStore struct {
	mongoDB *MongoDB
}

func NewAccountStore(mongoDB *MongoDB) *AccountStore {
	return &AccountStore{mongoDB: mongoDB}
}

func (s *AccountStore) collection() *mongo.Collection {
	return s.mongoDB.Database().Collection(CollectionAccounts)
}

// Get retrieves one account by its stable account ID.
func (s *AccountStore) Get(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.collection().FindOne(ctx, bson.M{"accountId": accountID}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListActive returns all accounts the poller and webhook registrar should serve.
func (s *AccountStore) ListActive(ctx context.Context) ([]models.Account, error) {
	cursor, err := s.collection().Find(ctx, bson.M{"isActive": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []models.Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	return accounts, nil
}

// SaveToken persists a refreshed access token and its expiry.
func (s *AccountStore) SaveToken(ctx context.Context, accountID, token string, expiry time.Time) error {
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"accountId": accountID},
		bson.M{"$set": bson.M{
			"accessToken": token,
			"tokenExpiry": expiry,
		}})
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// VacancyStore caches vacancy context fetched from the marketplace.
type VacancyStore struct {
	mongoDB *MongoDB
}

func NewVacancyStore(mongoDB *MongoDB) *VacancyStore {
	return &VacancyStore{mongoDB: mongoDB}
}

func (s *VacancyStore) collection() *mongo.Collection {
	return s.mongoDB.Database().Collection(CollectionVacancies)
}

// Get retrieves a vacancy by marketplace item ID.
func (s *VacancyStore) Get(ctx context.Context, vacancyID string) (*models.Vacancy, error) {
	var vacancy models.Vacancy
	err := s.collection().FindOne(ctx, bson.M{"vacancyId": vacancyID}).Decode(&vacancy)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vacancy: %w", err)
	}
	return &vacancy, nil
}

// Upsert stores or refreshes a vacancy snapshot.
func (s *VacancyStore) Upsert(ctx context.Context, vacancy *models.Vacancy) error {
	vacancy.UpdatedAt = time.Now().UTC()

	_, err := s.collection().UpdateOne(ctx,
		bson.M{"vacancyId": vacancy.VacancyID},
		bson.M{"$set": vacancy},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert vacancy: %w", err)
	}
	return nil
}
