package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Environment variables consulted for credentials and endpoint selection.
const (
	EnvAPIKey       = "OPENAI_API_KEY"
	EnvOAuthURL     = "OAUTH_URL"
	EnvClientID     = "CLIENT_ID"
	EnvClientSecret = "CLIENT_SECRET"
	EnvAzureBaseURL = "AZURE_BASE_URL"
)

// ErrNoCredentials is returned when neither an API key nor a complete OAuth
// triple is present in the environment.
var ErrNoCredentials = errors.New("no llm credentials: set OPENAI_API_KEY or OAUTH_URL + CLIENT_ID + CLIENT_SECRET")

// tokenSource yields a bearer token for each request.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// staticToken is the plain API-key path.
type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }

// oauthSource implements the client-credentials flow with a cached token,
// refreshed one minute before expiry.
type oauthSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (o *oauthSource) Token(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token != "" && time.Now().Before(o.expires.Add(-time.Minute)) {
		return o.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {o.clientID},
		"client_secret": {o.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("token endpoint returned empty access_token")
	}

	o.token = body.AccessToken
	o.expires = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return o.token, nil
}

// credentialsFromEnv resolves the token source: API key preferred, OAuth
// client-credentials as the corporate fallback.
func credentialsFromEnv(httpClient *http.Client) (tokenSource, error) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return staticToken(key), nil
	}
	oauthURL := os.Getenv(EnvOAuthURL)
	clientID := os.Getenv(EnvClientID)
	clientSecret := os.Getenv(EnvClientSecret)
	if oauthURL != "" && clientID != "" && clientSecret != "" {
		return &oauthSource{
			tokenURL:     oauthURL,
			clientID:     clientID,
			clientSecret: clientSecret,
			httpClient:   httpClient,
		}, nil
	}
	return nil, ErrNoCredentials
}

// HasCredentials reports whether the environment carries usable credentials.
// The CLI validate command checks this before anything else.
func HasCredentials() bool {
	if os.Getenv(EnvAPIKey) != "" {
		return true
	}
	return os.Getenv(EnvOAuthURL) != "" && os.Getenv(EnvClientID) != "" && os.Getenv(EnvClientSecret) != ""
}
