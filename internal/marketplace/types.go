package marketplace

import "time"

// ChatMessage is one message as the marketplace messenger API returns it.
type ChatMessage struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	Direction string    `json:"direction"` // "in" or "out"
	CreatedAt time.Time `json:"created_at"`
}

// Chat is a messenger chat summary from the chat list endpoint.
type Chat struct {
	ID          string       `json:"id"`
	ItemID      string       `json:"item_id"` // vacancy the chat is about
	UserID      string       `json:"user_id"` // candidate
	UserName    string       `json:"user_name"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Application is a vacancy application with candidate contact details.
type Application struct {
	ID        string `json:"id"`
	VacancyID string `json:"vacancy_id"`
	ChatID    string `json:"chat_id"`
	Applicant struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"applicant"`
}

// VacancyDetails is the marketplace's view of a job listing.
type VacancyDetails struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	City        string `json:"city"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type sendMessageResponse struct {
	ID string `json:"id"`
}
