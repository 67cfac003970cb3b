// Package scrape fetches and extracts text from web sources: HTML pages plus
// PDF, DOCX, and XLSX documents. URLs are validated against SSRF before any
// request and all fetches share a global rate limiter.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/search"
)

const maxFetchBytes = 20 << 20

// Page is the extracted result of one fetch.
type Page struct {
	URL     string
	Title   string
	Content string
}

// Fetcher retrieves one URL as extracted text. Tests substitute a scripted
// implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Scraper is the production fetcher.
type Scraper struct {
	httpClient *http.Client
	limiter    *search.Limiter
	userAgent  string
	maxChars   int
	logger     *slog.Logger
	validate   func(string) error
}

// New builds the scraper from the scraping config section.
func New(cfg config.ScrapingConfig, limiter *search.Limiter) *Scraper {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0 (compatible; tome-research/1.0)"
	}
	maxChars := cfg.MaxContentChars
	if maxChars <= 0 {
		maxChars = 40000
	}
	return &Scraper{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		userAgent:  ua,
		maxChars:   maxChars,
		logger:     slog.With("component", "scrape"),
		validate:   ValidateURL,
	}
}

// Fetch validates, rate-limits, downloads, and extracts one URL. Transient
// HTTP failures retry with backoff up to 3 attempts; a failed URL is the
// caller's cue to skip it, not a task failure.
func (s *Scraper) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := s.validate(url); err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var page *Page
	operation := func() error {
		var err error
		page, err = s.fetchOnce(ctx, url)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		s.logger.Debug("Fetch failed, retrying", "url", url, "error", err, "wait", wait)
	}); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *Scraper) fetchOnce(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch returned status %d for %s", resp.StatusCode, url)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	page, err := s.extract(url, resp.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return page, nil
}

// extract routes by content type (falling back to the URL extension) to the
// matching extractor.
func (s *Scraper) extract(url, contentType string, data []byte) (*Page, error) {
	kind := documentKind(url, contentType)

	var title, content string
	var err error
	switch kind {
	case "pdf":
		content, err = ExtractPDF(data)
	case "docx":
		content, err = ExtractDOCX(data)
	case "xlsx":
		content, err = ExtractXLSX(data)
	default:
		title, content = ExtractHTML(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s document: %w", kind, err)
	}

	if len(content) > s.maxChars {
		content = content[:s.maxChars]
	}
	return &Page{URL: url, Title: title, Content: content}, nil
}

func documentKind(url, contentType string) string {
	ct := strings.ToLower(contentType)
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(ct, "application/pdf") || strings.HasSuffix(lower, ".pdf"):
		return "pdf"
	case strings.Contains(ct, "wordprocessingml") || strings.HasSuffix(lower, ".docx"):
		return "docx"
	case strings.Contains(ct, "spreadsheetml") || strings.HasSuffix(lower, ".xlsx"):
		return "xlsx"
	default:
		return "html"
	}
}
