// Package whatsapp wraps the WhatsApp Cloud API: outbound text and template
// messages, plus parsing of inbound webhook notifications.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"progbot/internal/config"
)

// APIError is returned when the Cloud API answers with a non-200 status.
// The response body is kept verbatim for debugging.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API %d: %s", e.StatusCode, e.Body)
}

// Client talks to the WhatsApp Cloud API message endpoint.
type Client struct {
	cfg    config.WhatsAppConfig
	logger *slog.Logger
	client *http.Client
}

type ClientConfig struct {
	Config config.WhatsAppConfig
	Logger *slog.Logger
}

// NewClient builds a client from credentials. Credentials are not
// pre-validated; the platform rejects unauthenticated requests.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:    cfg.Config,
		logger: cfg.Logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// SendText sends a free-text message to the given recipient. It returns the
// HTTP status code; any status other than 200 yields an *APIError carrying
// the response body.
func (c *Client) SendText(ctx context.Context, message string, recipient string) (int, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        message,
		},
	}
	return c.post(ctx, payload)
}

// SendTemplate sends a pre-registered template message by name.
func (c *Client) SendTemplate(ctx context.Context, templateName string, languageCode string, recipient string) (int, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "template",
		"template": map[string]any{
			"name": templateName,
			"language": map[string]any{
				"code": languageCode,
			},
		},
	}
	return c.post(ctx, payload)
}

func (c *Client) post(ctx context.Context, payload map[string]any) (int, error) {
	url := fmt.Sprintf("%s/%s/messages", c.cfg.APIBase, c.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return resp.StatusCode, nil
}
