// Package twitch is a minimal Helix client covering app token acquisition,
// user and stream lookups, and EventSub subscription management.
package twitch

import (
	"bytes"
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

const (
	defaultAuthURL = "https://id.twitch.tv/oauth2/token"
	defaultBaseURL = "https://api.twitch.tv/helix"

	tokenRefreshMargin = 5 * time.Minute
)

// APIError describes a non-2xx response from the Twitch API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a Twitch 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a Twitch 409 response.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Config carries the application credentials and webhook transport settings.
// AuthURL and BaseURL default to the public Twitch endpoints and exist so
// tests can point the client at local servers.
type Config struct {
	ClientID      string
	ClientSecret  string
	WebhookURL    string
	WebhookSecret string
	HTTPClient    *http.Client
	AuthURL       string
	BaseURL       string
}

// Client talks to the Twitch Helix API using the client credentials flow. App
// tokens are cached and refreshed shortly before expiry.
type Client struct {
	clientID      string
	clientSecret  string
	webhookURL    string
	webhookSecret string
	authURL       string
	baseURL       string
	httpClient    *http.Client
	now           func() time.Time

	mu             sync.Mutex
	accessToken    string
	tokenExpiresAt time.Time
}

// New constructs a Client from the provided configuration.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		webhookURL:    cfg.WebhookURL,
		webhookSecret: cfg.WebhookSecret,
		authURL:       authURL,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		now:           time.Now,
	}
}

// token returns a cached app token, requesting a fresh one when the cached
// token is absent or within the refresh margin of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && c.now().Before(c.tokenExpiresAt.Add(-tokenRefreshMargin)) {
		return c.accessToken, nil
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request app token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode app token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("app token response missing access_token")
	}
	c.accessToken = payload.AccessToken
	c.tokenExpiresAt = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, dest interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	endpointURL := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		endpointURL += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpointURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", c.clientID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
	default:
		data, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
