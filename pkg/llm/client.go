package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomeworks/tome/pkg/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// HTTPClient talks to an OpenAI-compatible chat endpoint. Transient failures
// (429, 5xx, network) retry with exponential backoff up to MaxAttempts.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	tokens      tokenSource
	maxAttempts int
	logger      *slog.Logger
}

// NewHTTPClient builds the client from config and environment. AZURE_BASE_URL
// overrides the configured base URL when set.
func NewHTTPClient(cfg config.LLMConfig) (*HTTPClient, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	hc := &http.Client{Timeout: timeout}

	tokens, err := credentialsFromEnv(hc)
	if err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if azure := os.Getenv(EnvAzureBaseURL); azure != "" {
		baseURL = azure
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  hc,
		tokens:      tokens,
		maxAttempts: attempts,
		logger:      slog.With("component", "llm"),
	}, nil
}

// Wire types for the chat completions endpoint.

type wireRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Tools          []wireTool      `json:"tools,omitempty"`
	ToolChoice     any             `json:"tool_choice,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type wireTool struct {
	Type     string  `json:"type"`
	Function ToolDef `json:"function"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete runs one chat completion with retry.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	operation := func() error {
		var err error
		resp, err = c.completeOnce(ctx, req)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warn("LLM call failed, retrying", "error", err, "wait", wait)
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) completeOnce(ctx context.Context, req Request) (*Response, error) {
	wire := wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		wire.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{Type: "function", Function: t})
	}
	if req.ToolChoice != "" {
		wire.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": req.ToolChoice},
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var wireResp wireResponse
	decodeErr := json.Unmarshal(raw, &wireResp)

	if httpResp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && wireResp.Error != nil {
			msg = wireResp.Error.Message
		}
		return nil, &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if len(wireResp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := wireResp.Choices[0].Message
	out := &Response{
		Content: choice.Content,
		Usage:   wireResp.Usage,
		Model:   wireResp.Model,
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}
