// Package push hands offline-message notifications to the push collaborator service.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/journeyman/messaging/internal/logger"
)

// Client calls the push collaborator. With an empty base URL every method is a no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a collaborator URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notify asks the collaborator to alert userID. Failures are logged and swallowed;
// the message itself is already stored.
func (c *Client) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if !c.Enabled() {
		return
	}
	if err := c.notify(ctx, NotifyRequest{UserID: userID, Title: title, Body: body, Data: data}); err != nil {
		logger.Errorf("push notify user=%s: %v", userID, err)
	}
}

func (c *Client) notify(ctx context.Context, payload NotifyRequest) error {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Preview shortens message content for a notification body.
func Preview(content string, max int) string {
	content = strings.TrimSpace(content)
	r := []rune(content)
	if max <= 0 || len(r) <= max {
		return content
	}
	return string(r[:max]) + "…"
}
