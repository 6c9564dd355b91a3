package marketplace

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hirepilot/internal/database"
)

// Poller is the fallback inbound path for accounts without webhook delivery.
// It periodically lists recently updated chats and feeds new inbound messages
// through the same ingestion as the webhook handler.
type Poller struct {
	accounts *database.AccountStore
	client   *Client
	ingestor *Ingestor
	interval time.Duration
	lastPoll time.Time
	log      *logrus.Entry
}

func NewPoller(accounts *database.AccountStore, client *Client, ingestor *Ingestor, interval time.Duration) *Poller {
	return &Poller{
		accounts: accounts,
		client:   client,
		ingestor: ingestor,
		interval: interval,
		lastPoll: time.Now().Add(-interval),
		log:      logrus.WithField("component", "poller"),
	}
}

// Run blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("interval", p.interval.String()).Info("Chat poller started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Chat poller stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	since := p.lastPoll
	p.lastPoll = time.Now()

	accounts, err := p.accounts.ListActive(ctx)
	if err != nil {
		p.log.WithError(err).Error("Failed to list accounts")
		return
	}

	for i := range accounts {
		account := &accounts[i]
		chats, err := p.client.ListRecentChats(ctx, account, since)
		if err != nil {
			p.log.WithError(err).WithField("account_id", account.AccountID).Warn("Chat poll failed")
			continue
		}
		for _, chat := range chats {
			last := chat.LastMessage
			if last == nil || last.Direction != "in" {
				continue
			}
			msg := InboundMessage{
				AccountID:  account.AccountID,
				ChatID:     chat.ID,
				MessageID:  last.ID,
				AuthorID:   chat.UserID,
				AuthorName: chat.UserName,
				Text:       last.Text,
				VacancyID:  chat.ItemID,
				CreatedAt:  last.CreatedAt,
			}
			if err := p.ingestor.IngestMessage(ctx, msg); err != nil {
				p.log.WithError(err).WithField("chat_id", chat.ID).Error("Failed to ingest polled message")
			}
		}
	}
}

// RegisterWebhooks points all active accounts at the gateway URL. Called on
// startup; individual failures are logged and skipped so one bad account
// does not block the rest.
func RegisterWebhooks(ctx context.Context, accounts *database.AccountStore, client *Client, webhookURL string) {
	log := logrus.WithField("component", "marketplace")

	active, err := accounts.ListActive(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list accounts for webhook registration")
		return
	}
	for i := range active {
		if err := client.RegisterWebhook(ctx, &active[i], webhookURL); err != nil {
			log.WithError(err).WithField("account_id", active[i].AccountID).Warn("Webhook registration failed")
		}
	}
}
