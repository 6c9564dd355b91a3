package knowledge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const listingHTML = `<!DOCTYPE html>
<html><head><title>Курьер в Москве</title></head>
<body>
<article>
<h1>Курьер в Москве</h1>
<p>Требуется курьер на доставку документов. График 5/2, оплата от 60 000 рублей.
Обязанности: доставка по городу, работа с накладными. Требования: гражданство РФ,
возраст от 18 лет, ответственность и пунктуальность.</p>
</article>
</body></html>`

func TestListingTextExtractsAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	s := NewService()
	ctx := context.Background()

	text := s.ListingText(ctx, srv.URL+"/vacancy/1")
	if !strings.Contains(text, "курьер") && !strings.Contains(text, "Курьер") {
		t.Fatalf("extracted text missing listing body: %q", text)
	}

	// Second call comes from cache.
	s.ListingText(ctx, srv.URL+"/vacancy/1")
	if n := hits.Load(); n != 1 {
		t.Errorf("listing fetched %d times, want 1", n)
	}
}

func TestListingTextHonorsRobots(t *testing.T) {
	var pageHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /vacancy/"))
			return
		}
		pageHits.Add(1)
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	s := NewService()
	if text := s.ListingText(context.Background(), srv.URL+"/vacancy/1"); text != "" {
		t.Errorf("expected empty text for disallowed path, got %q", text)
	}
	if pageHits.Load() != 0 {
		t.Error("page fetched despite robots.txt disallow")
	}
}

func TestListingTextEmptyURL(t *testing.T) {
	s := NewService()
	if text := s.ListingText(context.Background(), ""); text != "" {
		t.Errorf("got %q for empty URL", text)
	}
}

func TestListingTextFailureIsNegativeCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	s := NewService()
	ctx := context.Background()
	s.ListingText(ctx, srv.URL+"/vacancy/dead")
	s.ListingText(ctx, srv.URL+"/vacancy/dead")

	if n := hits.Load(); n != 1 {
		t.Errorf("failed listing fetched %d times, want 1 (negative cache)", n)
	}
}
