package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Fact is a single accumulated attribute about a candidate, together with the
// provenance needed to audit where it came from. A fact is only writable while
// the conversation is in one of the fact's allowed states; the engine enforces
// that gate, the model only records provenance.
type Fact struct {
	Value      string            `bson:"value" json:"value"`
	AssertedIn ConversationState `bson:"assertedIn" json:"asserted_in"`
	AssertedAt time.Time         `bson:"assertedAt" json:"asserted_at"`
}

// Fact keys the screening flow knows about. Allowed-state sets per key come
// from the rules file, not from code.
const (
	FactAge            = "age"
	FactCitizenship    = "citizenship"
	FactCriminalRecord = "criminal_record"
	FactCity           = "city"
	FactWorkPermit     = "work_permit"
	FactTimezone       = "timezone"
	FactInterviewDate  = "interview_date"
	FactInterviewTime  = "interview_time"
	FactDeclineReason  = "decline_reason"
)

// CandidateProfile is the durable per-candidate record. Name and phone are
// write-once: once set from the marketplace application they are never
// overwritten by extracted conversation content.
type CandidateProfile struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CandidateID    string             `bson:"candidateId" json:"candidate_id"` // marketplace resume/user id
	FullName       string             `bson:"fullName,omitempty" json:"full_name,omitempty"`
	Phone          string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Facts          map[string]Fact    `bson:"facts,omitempty" json:"facts,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updated_at"`
}

// FactValue returns the current value for a fact key, or "" when absent.
func (p *CandidateProfile) FactValue(key string) string {
	if p.Facts == nil {
		return ""
	}
	return p.Facts[key].Value
}

// HasFact reports whether the fact has been asserted at all.
func (p *CandidateProfile) HasFact(key string) bool {
	if p.Facts == nil {
		return false
	}
	_, ok := p.Facts[key]
	return ok
}

// SetContact fills name and phone only if still empty (write-once).
func (p *CandidateProfile) SetContact(name, phone string) {
	if p.FullName == "" && name != "" {
		p.FullName = name
	}
	if p.Phone == "" && phone != "" {
		p.Phone = phone
	}
}

// Account holds marketplace credentials and settings for one employer cabinet.
type Account struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID    string             `bson:"accountId" json:"account_id"`
	Platform     string             `bson:"platform" json:"platform"` // "avito"
	Name         string             `bson:"name" json:"name"`
	ClientID     string             `bson:"clientId" json:"-"`
	ClientSecret string             `bson:"clientSecret" json:"-"`
	UserID       string             `bson:"userId,omitempty" json:"user_id,omitempty"` // marketplace cabinet id
	AccessToken  string             `bson:"accessToken,omitempty" json:"-"`
	TokenExpiry  time.Time          `bson:"tokenExpiry,omitempty" json:"-"`
	IsActive     bool               `bson:"isActive" json:"is_active"`
	CreatedAt    time.Time          `bson:"createdAt" json:"created_at"`
}

// Vacancy is the job context a conversation screens for.
type Vacancy struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VacancyID   string             `bson:"vacancyId" json:"vacancy_id"` // marketplace item id
	AccountID   string             `bson:"accountId" json:"account_id"`
	Title       string             `bson:"title" json:"title"`
	City        string             `bson:"city,omitempty" json:"city,omitempty"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	ListingURL  string             `bson:"listingUrl,omitempty" json:"listing_url,omitempty"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updated_at"`
}
