package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// CredentialSource hands out bearer tokens for the pricing function.
// forceRefresh discards any cached token.
type CredentialSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// StaticToken is a fixed credential, mostly for tests and local runs.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token(context.Context, bool) (string, error) {
	if s == "" {
		return "", errors.New("no token configured")
	}
	return string(s), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// RefreshingCredentials obtains client-credentials tokens from a token
// endpoint and caches them until shortly before expiry.
type RefreshingCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewRefreshingCredentials creates a RefreshingCredentials.
func NewRefreshingCredentials(tokenURL, clientID, clientSecret string, timeout time.Duration) *RefreshingCredentials {
	return &RefreshingCredentials{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Token returns the cached token, fetching a new one when it is missing,
// about to expire or forceRefresh is set.
func (r *RefreshingCredentials) Token(ctx context.Context, forceRefresh bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !forceRefresh && r.token != "" && time.Now().Before(r.expiry) {
		return r.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(r.clientID, r.clientSecret)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint error (%d): %s", resp.StatusCode, string(body))
	}

	var result tokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", errors.New("token endpoint returned no access_token")
	}

	r.token = result.AccessToken
	ttl := time.Duration(result.ExpiresIn-60) * time.Second
	if ttl < 0 {
		ttl = 0
	}
	r.expiry = time.Now().Add(ttl)
	return r.token, nil
}
