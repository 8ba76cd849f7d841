// Package provider talks to the external streaming platform API that owns
// broadcasts and video metadata. The relay itself never depends on this
// API being reachable; callers decide how to degrade when it is not.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// BroadcastStatus values accepted by the transition endpoint.
const (
	BroadcastStatusLive     = "live"
	BroadcastStatusComplete = "complete"
)

// Client is an HTTP client for the streaming provider API.
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string

	httpClient    *http.Client
	logger        *slog.Logger
	retryAttempts int
	retryDelay    time.Duration
}

// Config holds client construction parameters.
type Config struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewClient creates a provider API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:        logger.With("component", "provider"),
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}
}

// Token is a freshly minted access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int       `json:"expires_in"`
	Expiry      time.Time `json:"-"`
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "")
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	tok.Expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return &tok, nil
}

// TransitionBroadcast moves a broadcast to the given lifecycle status.
func (c *Client) TransitionBroadcast(ctx context.Context, accessToken, broadcastID, status string) error {
	endpoint := fmt.Sprintf("%s/liveBroadcasts/transition?broadcastStatus=%s&id=%s&part=status",
		c.baseURL, url.QueryEscape(status), url.QueryEscape(broadcastID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building transition request: %w", err)
	}

	if _, err := c.do(req, accessToken); err != nil {
		return fmt.Errorf("transitioning broadcast %s to %s: %w", broadcastID, status, err)
	}
	return nil
}

// CreateBroadcastRequest describes a broadcast to create.
type CreateBroadcastRequest struct {
	Title       string
	Description string
	Privacy     string
	Category    string
	StartTime   time.Time
}

// CreateBroadcast creates a scheduled broadcast and returns its id.
func (c *Client) CreateBroadcast(ctx context.Context, accessToken string, bc CreateBroadcastRequest) (string, error) {
	payload := map[string]any{
		"snippet": map[string]any{
			"title":              bc.Title,
			"description":        bc.Description,
			"scheduledStartTime": bc.StartTime.UTC().Format(time.RFC3339),
		},
		"status": map[string]any{
			"privacyStatus": bc.Privacy,
		},
	}
	if bc.Category != "" {
		payload["snippet"].(map[string]any)["categoryId"] = bc.Category
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding broadcast payload: %w", err)
	}

	endpoint := c.baseURL + "/liveBroadcasts?part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req, accessToken)
	if err != nil {
		return "", fmt.Errorf("creating broadcast: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("creating broadcast: provider returned no id")
	}
	return created.ID, nil
}

// SetVideoPrivacy updates the privacy status of a video or finished
// broadcast.
func (c *Client) SetVideoPrivacy(ctx context.Context, accessToken, videoID, privacy string) error {
	payload := map[string]any{
		"id": videoID,
		"status": map[string]any{
			"privacyStatus": privacy,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding privacy payload: %w", err)
	}

	endpoint := c.baseURL + "/videos?part=status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building privacy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req, accessToken); err != nil {
		return fmt.Errorf("setting privacy of video %s: %w", videoID, err)
	}
	return nil
}

// SetThumbnail uploads a thumbnail image for a video.
func (c *Client) SetThumbnail(ctx context.Context, accessToken, videoID, imagePath string) error {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading thumbnail %s: %w", imagePath, err)
	}

	endpoint := fmt.Sprintf("%s/thumbnails/set?videoId=%s", c.baseURL, url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(img))
	if err != nil {
		return fmt.Errorf("building thumbnail request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeForImage(imagePath))

	if _, err := c.do(req, accessToken); err != nil {
		return fmt.Errorf("setting thumbnail of video %s: %w", videoID, err)
	}
	return nil
}

func contentTypeForImage(path string) string {
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// do executes the request with bounded retries for transient failures and
// returns the response body. Non-2xx responses become *APIError.
func (c *Client) do(req *http.Request, accessToken string) ([]byte, error) {
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			delay := c.retryDelay * time.Duration(1<<(attempt-2))
			c.logger.Debug("retrying provider request",
				"url", obfuscateURL(req.URL.String()),
				"attempt", attempt,
				"delay", delay)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doOnce(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.retryAttempts, lastErr)
}

func (c *Client) doOnce(req *http.Request) ([]byte, error) {
	// Bodies must be rewound for each attempt.
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		req.Body = body
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, parseAPIError(resp.StatusCode, body)
}

func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}

	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
		if len(envelope.Error.Errors) > 0 {
			apiErr.Reason = envelope.Error.Errors[0].Reason
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// obfuscateURL strips query values from a URL so tokens and ids never reach
// the logs.
func obfuscateURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}
	u.RawQuery = ""
	return u.String()
}
