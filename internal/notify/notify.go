package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/leonid-shevtsov/telegold"
	"github.com/yuin/goldmark"
)

// Publisher is the transport the notifier publishes rendered alerts on.
// Backed by Redis pub/sub; a separate relay process delivers to Telegram.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Severity levels for operator alerts.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is the message envelope put on the alert channel.
type Alert struct {
	Severity       string    `json:"severity"`
	Title          string    `json:"title"`
	Body           string    `json:"body"` // Telegram HTML
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Telegram Markdown converter using telegold (goldmark with Telegram HTML renderer)
var telegramMarkdownConverter = goldmark.New(goldmark.WithRenderer(telegold.NewRenderer()))

// RenderTelegramHTML converts standard Markdown to Telegram-compatible HTML.
func RenderTelegramHTML(text string) string {
	var buf bytes.Buffer
	if err := telegramMarkdownConverter.Convert([]byte(text), &buf); err != nil {
		log.Printf("⚠️ [NOTIFY] Markdown conversion failed: %v", err)
		return text
	}
	return buf.String()
}

// Notifier publishes operator alerts. Delivery is fire-and-forget: a failed
// publish is logged and dropped, it never blocks or fails engine work.
type Notifier struct {
	publisher Publisher
	channel   string

	mu           sync.Mutex
	quotaAlerted map[string]bool // low-balance latch per conversation
}

func NewNotifier(publisher Publisher, channel string) *Notifier {
	return &Notifier{
		publisher:    publisher,
		channel:      channel,
		quotaAlerted: make(map[string]bool),
	}
}

// Send publishes one alert, rendering markdown in the body.
func (n *Notifier) Send(ctx context.Context, severity, title, markdown, conversationID string) {
	alert := Alert{
		Severity:       severity,
		Title:          title,
		Body:           RenderTelegramHTML(markdown),
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("⚠️ [NOTIFY] Failed to encode alert: %v", err)
		return
	}
	if err := n.publisher.Publish(ctx, n.channel, string(payload)); err != nil {
		log.Printf("⚠️ [NOTIFY] Failed to publish alert %q: %v", title, err)
	}
}

// QuotaExhausted fires the low-quota alert at most once per conversation per
// process lifetime, so a stuck conversation does not spam the channel.
func (n *Notifier) QuotaExhausted(ctx context.Context, conversationID string, remaining int64) {
	n.mu.Lock()
	already := n.quotaAlerted[conversationID]
	n.quotaAlerted[conversationID] = true
	n.mu.Unlock()
	if already {
		return
	}

	body := fmt.Sprintf("Quota for conversation `%s` is exhausted (remaining: %d). The bot stopped answering; top up or close the conversation.", conversationID, remaining)
	n.Send(ctx, SeverityCritical, "Quota exhausted", body, conversationID)
}

// ResetQuotaLatch re-arms the alert after a top-up.
func (n *Notifier) ResetQuotaLatch(conversationID string) {
	n.mu.Lock()
	delete(n.quotaAlerted, conversationID)
	n.mu.Unlock()
}
