// Package telegram is a minimal Telegram Bot API client, covering the one
// call this project needs: sendMessage.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// sendTimeout bounds the outbound call so a slow endpoint cannot stall
	// the rest of the pipeline.
	sendTimeout = 10 * time.Second

	// maxResponseBytes caps how much of an error response body is read back
	// for diagnostics.
	maxResponseBytes = 64 << 10
)

// Client posts messages to a single chat through the Telegram Bot API.
type Client struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// Option overrides a Client default.
type Option func(*Client)

// WithBaseURL points the client at a different API host. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given bot token and chat. Empty credentials
// are allowed; Configured reports them.
func New(token, chatID string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		chatID:     chatID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: sendTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether both the bot token and the chat ID are set.
func (c *Client) Configured() bool {
	return c.token != "" && c.chatID != ""
}

// SendMessage posts text as a Markdown message. Success is HTTP 200 with
// "ok": true in the response body; anything else is returned as an error
// for the caller to log.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage returned HTTP %d: %s",
			resp.StatusCode, apiDescription(payload, resp.Status))
	}
	if !gjson.GetBytes(payload, "ok").Bool() {
		return fmt.Errorf("telegram: API rejected message: %s",
			apiDescription(payload, "no description"))
	}
	return nil
}

func apiDescription(payload []byte, fallback string) string {
	if desc := gjson.GetBytes(payload, "description").String(); desc != "" {
		return desc
	}
	return fallback
}
