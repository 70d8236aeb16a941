// Package completion wraps a single call to an OpenAI-compatible chat
// completion API.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"progbot/internal/config"
)

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
// Construction fails closed: no network call is ever attempted without a key.
var ErrMissingAPIKey = errors.New("completion: API key is not set (COMPLETION_API_KEY)")

// systemInstruction restricts the assistant to programming questions.
const systemInstruction = "You are a chatbot and must only answer questions related to " +
	"programming. For any other topic, politely say that you cannot help."

// Client calls the chat completion endpoint with a fixed system instruction.
type Client struct {
	apiKey    string
	apiBase   string
	model     string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

type ClientConfig struct {
	Config config.CompletionConfig
	Logger *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	apiBase := cfg.Config.APIBase
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	model := cfg.Config.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &Client{
		apiKey:    cfg.Config.APIKey,
		apiBase:   apiBase,
		model:     model,
		maxTokens: cfg.Config.MaxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
		logger:    cfg.Logger,
	}, nil
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

// Complete sends the fixed system instruction followed by userText as a user
// turn and returns the content of the first choice. Errors from the API
// propagate to the caller; there is no retry and no fallback reply.
func (c *Client) Complete(ctx context.Context, userText string) (string, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userText},
		},
		MaxTokens: c.maxTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion API %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}

	return out.Choices[0].Message.Content, nil
}

// Healthy probes the API with a cheap authenticated request.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("completion API not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("completion API: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("completion API returned %d", resp.StatusCode)
	}
	return nil
}
