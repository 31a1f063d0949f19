package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/chatgate/internal/metrics"
	"github.com/rs/zerolog"
)

// Config holds settings for an OpenAI-compatible chat completions backend
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	SystemPrompt string
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAIClient generates replies through the /chat/completions endpoint
type OpenAIClient struct {
	config Config
	client *http.Client
	logger zerolog.Logger
}

// NewOpenAIClient creates a new client
func NewOpenAIClient(config Config, logger zerolog.Logger) *OpenAIClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &OpenAIClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "reply-openai").Logger(),
	}
}

// GenerateReply sends the system prompt, history and message upstream
func (c *OpenAIClient) GenerateReply(ctx context.Context, history []Message, message string) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	if c.config.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: c.config.SystemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: message})

	start := time.Now()
	text, err := c.complete(ctx, completionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.UpstreamDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return Clean(text), nil
}

func (c *OpenAIClient) complete(ctx context.Context, request completionRequest) (string, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Upstream returned an error")
		return "", fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	var response completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", nil
	}

	return response.Choices[0].Message.Content, nil
}
