package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/markusmobius/go-trafilatura"
	cache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

const (
	maxBodyBytes   = 2 * 1024 * 1024
	maxExtractLen  = 4000
	defaultUARobot = "HirePilot-Bot/1.0"
)

// Service extracts readable listing text from vacancy pages to enrich the
// oracle prompt. Results are cached; a missing or failed extraction is never
// an engine error, callers just proceed without the context.
type Service struct {
	httpClient *http.Client
	robots     *cache.Cache
	content    *cache.Cache
	userAgent  string
}

func NewService() *Service {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &Service{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		robots:     cache.New(24*time.Hour, time.Hour),
		content:    cache.New(6*time.Hour, time.Hour),
		userAgent:  defaultUARobot,
	}
}

// ListingText returns extracted listing content for the URL, "" when the page
// cannot or may not be fetched.
func (s *Service) ListingText(ctx context.Context, listingURL string) string {
	if listingURL == "" {
		return ""
	}
	if cached, found := s.content.Get(listingURL); found {
		return cached.(string)
	}

	text, err := s.extract(ctx, listingURL)
	if err != nil {
		log.Printf("⚠️ [KNOWLEDGE] Extraction failed for %s: %v", listingURL, err)
		// Negative-cache so a broken listing is not re-fetched per task.
		s.content.Set(listingURL, "", 30*time.Minute)
		return ""
	}

	s.content.Set(listingURL, text, cache.DefaultExpiration)
	log.Printf("✅ [KNOWLEDGE] Extracted %d chars from %s", len(text), listingURL)
	return text
}

func (s *Service) extract(ctx context.Context, listingURL string) (string, error) {
	parsedURL, err := url.Parse(listingURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsedURL.Scheme)
	}

	if !s.canFetch(ctx, parsedURL) {
		return "", fmt.Errorf("disallowed by robots.txt")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", listingURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL: parsedURL,
	})
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}
	if result == nil || result.ContentText == "" {
		return "", fmt.Errorf("no content extracted")
	}

	text := result.ContentText
	if len(text) > maxExtractLen {
		text = text[:maxExtractLen]
	}
	return text, nil
}

// canFetch checks robots.txt, allowing by default when it is absent or broken.
func (s *Service) canFetch(ctx context.Context, parsedURL *url.URL) bool {
	domain := parsedURL.Scheme + "://" + parsedURL.Host

	if cached, found := s.robots.Get(domain); found {
		data := cached.(*robotstxt.RobotsData)
		return data.FindGroup(s.userAgent).Test(parsedURL.Path)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", domain+"/robots.txt", nil)
	if err != nil {
		return true
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return true
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return true
	}

	s.robots.Set(domain, data, cache.DefaultExpiration)
	return data.FindGroup(s.userAgent).Test(parsedURL.Path)
}
