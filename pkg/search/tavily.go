// Package search wraps the Tavily web search API behind a provider interface
// and owns the global external-call rate limiters.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EnvTavilyAPIKey holds the search provider credential.
const EnvTavilyAPIKey = "TAVILY_API_KEY"

// ErrNoSearchKey is returned when the provider credential is missing.
var ErrNoSearchKey = errors.New("no search credentials: set TAVILY_API_KEY")

const tavilyEndpoint = "https://api.tavily.com/search"

// Result is one search hit. Score is the provider's own relevance estimate
// in [0, 1]; results below min_tavily_score are rejected before scraping.
type Result struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"content"`
	Score   float64 `json:"score"`
}

// Provider runs one web search. Tests substitute a scripted implementation.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// TavilyClient is the production provider. Every call waits on the shared
// search limiter; transient failures retry with backoff up to 3 attempts.
type TavilyClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *Limiter
	logger     *slog.Logger
}

// NewTavilyClient reads the API key from the environment.
func NewTavilyClient(limiter *Limiter) (*TavilyClient, error) {
	key := os.Getenv(EnvTavilyAPIKey)
	if key == "" {
		return nil, ErrNoSearchKey
	}
	return &TavilyClient{
		apiKey:     key,
		endpoint:   tavilyEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		logger:     slog.With("component", "search"),
	}, nil
}

// WithEndpoint overrides the API endpoint. Used by tests.
func (c *TavilyClient) WithEndpoint(url string) *TavilyClient {
	c.endpoint = url
	return c
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []Result `json:"results"`
}

// Search runs one query and returns up to maxResults hits.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var results []Result
	operation := func() error {
		var err error
		results, err = c.searchOnce(ctx, query, maxResults)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warn("Search failed, retrying", "query", query, "error", err, "wait", wait)
	}); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *TavilyClient) searchOnce(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{APIKey: c.apiKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to encode search request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build search request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search returned status %d: %s", resp.StatusCode,
			strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var decoded tavilyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode search response: %w", err))
	}
	return decoded.Results, nil
}
