package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"hirepilot/internal/database"
	"hirepilot/internal/faults"
	"hirepilot/internal/models"
)

// tokenExpiryMargin forces a refresh well before the token actually dies so
// in-flight requests never race the expiry.
const tokenExpiryMargin = 5 * time.Minute

// SendGate bounds concurrent outbound sends for one account, shared across
// worker instances.
type SendGate interface {
	Enter(ctx context.Context) error
	Exit(ctx context.Context)
}

// Client talks to the marketplace REST API on behalf of employer accounts.
// All requests pass the shared rate limiter; token refresh is cached
// in-process and persisted on the account record for other workers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *cache.Cache
	accounts   *database.AccountStore
	sendGates  func(accountID string) SendGate
	log        *logrus.Entry
}

// NewClient creates the client. ratePerSecond caps outbound request rate
// across all accounts served by this process.
func NewClient(baseURL string, ratePerSecond float64, accounts *database.AccountStore) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond*2)+1),
		tokens:   cache.New(50*time.Minute, 10*time.Minute),
		accounts: accounts,
		log:      logrus.WithField("component", "marketplace"),
	}
}

// WithSendGates installs a per-account gate factory applied to SendMessage.
func (c *Client) WithSendGates(factory func(accountID string) SendGate) *Client {
	c.sendGates = factory
	return c
}

// token returns a valid access token for the account, refreshing if needed.
func (c *Client) token(ctx context.Context, account *models.Account) (string, error) {
	if cached, found := c.tokens.Get(account.AccountID); found {
		return cached.(string), nil
	}
	if account.AccessToken != "" && time.Until(account.TokenExpiry) > tokenExpiryMargin {
		c.tokens.Set(account.AccountID, account.AccessToken, time.Until(account.TokenExpiry)-tokenExpiryMargin)
		return account.AccessToken, nil
	}
	return c.refreshToken(ctx, account)
}

func (c *Client) refreshToken(ctx context.Context, account *models.Account) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", faults.Classify(err)
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {account.ClientID},
		"client_secret": {account.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", faults.Classify(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", faults.FromHTTP(resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	expiry := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.tokens.Set(account.AccountID, tok.AccessToken, time.Until(expiry)-tokenExpiryMargin)

	account.AccessToken = tok.AccessToken
	account.TokenExpiry = expiry
	if c.accounts != nil {
		if err := c.accounts.SaveToken(ctx, account.AccountID, tok.AccessToken, expiry); err != nil {
			c.log.WithError(err).Warn("Failed to persist refreshed token")
		}
	}

	c.log.WithField("account_id", account.AccountID).Info("Refreshed marketplace token")
	return tok.AccessToken, nil
}

// do performs one authenticated API call and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, account *models.Account, method, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return faults.Classify(err)
	}

	token, err := c.token(ctx, account)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.Classify(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		// Token went stale server-side; drop the cache so the retry refreshes.
		c.tokens.Delete(account.AccountID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return faults.FromHTTP(resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// SendMessage delivers one outbound text and returns the marketplace message id.
func (c *Client) SendMessage(ctx context.Context, account *models.Account, chatID, text string) (string, error) {
	if c.sendGates != nil {
		g := c.sendGates(account.AccountID)
		if err := g.Enter(ctx); err != nil {
			return "", err
		}
		defer g.Exit(ctx)
	}

	path := fmt.Sprintf("/messenger/v1/accounts/%s/chats/%s/messages", account.UserID, chatID)
	payload := map[string]interface{}{
		"message": map[string]string{"text": text},
		"type":    "text",
	}

	var resp sendMessageResponse
	if err := c.do(ctx, account, "POST", path, payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetChatMessages fetches the newest messages in a chat, newest last.
func (c *Client) GetChatMessages(ctx context.Context, account *models.Account, chatID string, limit int) ([]ChatMessage, error) {
	path := fmt.Sprintf("/messenger/v3/accounts/%s/chats/%s/messages?limit=%d", account.UserID, chatID, limit)

	var resp struct {
		Messages []ChatMessage `json:"messages"`
	}
	if err := c.do(ctx, account, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ListRecentChats pages through chats updated since the given time.
func (c *Client) ListRecentChats(ctx context.Context, account *models.Account, since time.Time) ([]Chat, error) {
	path := fmt.Sprintf("/messenger/v2/accounts/%s/chats?updated_after=%d", account.UserID, since.Unix())

	var resp struct {
		Chats []Chat `json:"chats"`
	}
	if err := c.do(ctx, account, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// GetApplication fetches an application with the candidate's contact details.
func (c *Client) GetApplication(ctx context.Context, account *models.Account, applicationID string) (*Application, error) {
	path := fmt.Sprintf("/job/v1/applications/%s", applicationID)

	var app Application
	if err := c.do(ctx, account, "GET", path, nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetVacancy fetches the listing the conversation screens for.
func (c *Client) GetVacancy(ctx context.Context, account *models.Account, vacancyID string) (*VacancyDetails, error) {
	path := fmt.Sprintf("/core/v1/items/%s", vacancyID)

	var v VacancyDetails
	if err := c.do(ctx, account, "GET", path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RegisterWebhook subscribes the gateway URL to messenger notifications.
// Safe to call repeatedly; the marketplace deduplicates subscriptions.
func (c *Client) RegisterWebhook(ctx context.Context, account *models.Account, webhookURL string) error {
	payload := map[string]string{"url": webhookURL}
	if err := c.do(ctx, account, "POST", "/messenger/v3/webhook", payload, nil); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"account_id": account.AccountID,
		"url":        webhookURL,
	}).Info("Registered messenger webhook")
	return nil
}
