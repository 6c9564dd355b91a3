package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"hirepilot/internal/marketplace"
)

type capturingIngestor struct {
	messages     []marketplace.InboundMessage
	applications []string // "accountID/applicationID"
}

func (c *capturingIngestor) IngestMessage(_ context.Context, msg marketplace.InboundMessage) error {
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capturingIngestor) IngestApplication(_ context.Context, accountID, applicationID string) error {
	c.applications = append(c.applications, accountID+"/"+applicationID)
	return nil
}

const messagePayload = `{
	"id": "wh-1",
	"version": "v3",
	"timestamp": 1756700000,
	"payload": {
		"type": "message",
		"value": {
			"id": "msg-100",
			"chat_id": "chat-9",
			"user_id": 111,
			"author_id": 222,
			"created": 1756700000,
			"type": "text",
			"item_id": 5555,
			"content": {"text": "Здравствуйте, вакансия актуальна?"}
		}
	}
}`

func postWebhook(t *testing.T, s *Server, path, secret, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestWebhookIngestsCandidateMessage(t *testing.T) {
	ing := &capturingIngestor{}
	s := NewServer(ing, nil, "s3cret")

	resp := postWebhook(t, s, "/webhook/acc-1", "s3cret", messagePayload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(ing.messages) != 1 {
		t.Fatalf("ingested %d messages, want 1", len(ing.messages))
	}
	msg := ing.messages[0]
	if msg.AccountID != "acc-1" || msg.ChatID != "chat-9" || msg.MessageID != "msg-100" {
		t.Errorf("message not normalized: %+v", msg)
	}
	if msg.VacancyID != "5555" || msg.AuthorID != "222" {
		t.Errorf("ids not normalized: %+v", msg)
	}
}

func TestWebhookIngestsApplication(t *testing.T) {
	ing := &capturingIngestor{}
	s := NewServer(ing, nil, "")

	payload := `{
		"id": "wh-2",
		"version": "v3",
		"payload": {
			"type": "application",
			"value": {"id": "app-42"}
		}
	}`
	resp := postWebhook(t, s, "/webhook/acc-1", "", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(ing.applications) != 1 || ing.applications[0] != "acc-1/app-42" {
		t.Fatalf("applications = %v, want [acc-1/app-42]", ing.applications)
	}
	if len(ing.messages) != 0 {
		t.Error("application event was ingested as a message")
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	ing := &capturingIngestor{}
	s := NewServer(ing, nil, "s3cret")

	resp := postWebhook(t, s, "/webhook/acc-1", "wrong", messagePayload)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if len(ing.messages) != 0 {
		t.Error("message ingested despite bad secret")
	}
}

func TestWebhookIgnoresOwnEcho(t *testing.T) {
	ing := &capturingIngestor{}
	s := NewServer(ing, nil, "")

	echo := strings.Replace(messagePayload, `"author_id": 222`, `"author_id": 111`, 1)
	resp := postWebhook(t, s, "/webhook/acc-1", "", echo)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(ing.messages) != 0 {
		t.Error("outbound echo was ingested")
	}
}

func TestWebhookIgnoresSystemEvents(t *testing.T) {
	ing := &capturingIngestor{}
	s := NewServer(ing, nil, "")

	system := strings.Replace(messagePayload, `"type": "text"`, `"type": "system"`, 1)
	resp := postWebhook(t, s, "/webhook/acc-1", "", system)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(ing.messages) != 0 {
		t.Error("system event was ingested")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(&capturingIngestor{}, nil, "")
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
