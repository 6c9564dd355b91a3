package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hirepilot/internal/faults"
	"hirepilot/internal/models"
)

func testAccount() *models.Account {
	return &models.Account{
		AccountID:    "acc-1",
		UserID:       "12345",
		ClientID:     "client",
		ClientSecret: "secret",
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, 1000, nil)
}

func TestSendMessageRefreshesTokenOnce(t *testing.T) {
	var tokenCalls atomic.Int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			tokenCalls.Add(1)
			if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
				t.Errorf("unexpected token request form: %v", r.Form)
			}
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-1", ExpiresIn: 3600})
		case "/messenger/v1/accounts/12345/chats/chat-1/messages":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
			}
			json.NewEncoder(w).Encode(sendMessageResponse{ID: "msg-77"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	account := testAccount()
	ctx := context.Background()

	id, err := client.SendMessage(ctx, account, "chat-1", "Здравствуйте!")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "msg-77" {
		t.Errorf("message id = %q, want msg-77", id)
	}

	// Second send reuses the cached token.
	if _, err := client.SendMessage(ctx, account, "chat-1", "Ещё раз"); err != nil {
		t.Fatalf("SendMessage (second): %v", err)
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1", n)
	}
}

func TestAccountTokenReusedBeforeExpiry(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			t.Error("token endpoint must not be hit when the stored token is fresh")
		}
		json.NewEncoder(w).Encode(sendMessageResponse{ID: "msg-1"})
	})

	account := testAccount()
	account.AccessToken = "stored-token"
	account.TokenExpiry = time.Now().Add(time.Hour)

	if _, err := client.SendMessage(context.Background(), account, "chat-1", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func TestDeletedChatIsTerminal(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", ExpiresIn: 3600})
			return
		}
		http.Error(w, `{"error": "chat not found"}`, http.StatusNotFound)
	})

	_, err := client.SendMessage(context.Background(), testAccount(), "gone", "hello")
	if err == nil {
		t.Fatal("expected error for deleted chat")
	}
	if faults.KindOf(err) != faults.KindTerminalExternal {
		t.Errorf("error kind = %s, want terminal_external", faults.KindOf(err))
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", ExpiresIn: 3600})
			return
		}
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.SendMessage(context.Background(), testAccount(), "chat-1", "hello")
	if faults.KindOf(err) != faults.KindTransient {
		t.Errorf("error kind = %s, want transient", faults.KindOf(err))
	}
}

func TestStaleTokenDroppedOn401(t *testing.T) {
	var sends atomic.Int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: fmt.Sprintf("tok-%d", sends.Load()), ExpiresIn: 3600})
		default:
			if sends.Add(1) == 1 {
				http.Error(w, "token revoked", http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(sendMessageResponse{ID: "msg-2"})
		}
	})

	account := testAccount()
	ctx := context.Background()

	_, err := client.SendMessage(ctx, account, "chat-1", "first")
	if err == nil || faults.KindOf(err) != faults.KindTransient {
		t.Fatalf("401 should be transient, got %v", err)
	}

	// Retry refreshes and succeeds.
	id, err := client.SendMessage(ctx, account, "chat-1", "second")
	if err != nil {
		t.Fatalf("SendMessage retry: %v", err)
	}
	if id != "msg-2" {
		t.Errorf("message id = %q", id)
	}
}

func TestGetChatMessages(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", ExpiresIn: 3600})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []ChatMessage{
				{ID: "m1", Text: "Здравствуйте", Direction: "in"},
				{ID: "m2", Text: "Добрый день!", Direction: "out"},
			},
		})
	})

	msgs, err := client.GetChatMessages(context.Background(), testAccount(), "chat-1", 50)
	if err != nil {
		t.Fatalf("GetChatMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestGetApplication(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", ExpiresIn: 3600})
			return
		}
		if r.URL.Path != "/job/v1/applications/app-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{
			"id": "app-42",
			"vacancy_id": "5555",
			"chat_id": "chat-9",
			"applicant": {"id": "222", "name": "Иван Иванов", "phone": "+79001234567"}
		}`)
	})

	app, err := client.GetApplication(context.Background(), testAccount(), "app-42")
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if app.Applicant.Name != "Иван Иванов" || app.Applicant.Phone != "+79001234567" {
		t.Errorf("applicant = %+v", app.Applicant)
	}
}
