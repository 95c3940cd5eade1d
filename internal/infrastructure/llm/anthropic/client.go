package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm/transport"
)

const (
	ProviderName     = "anthropic"
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultMaxTokens = 512
	apiVersion       = "2023-06-01"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Client calls the Messages API with a single user turn.
type Client struct {
	model       string
	maxTokens   int
	temperature *float64
	http        *transport.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Client{
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		http: &transport.Client{
			Provider: ProviderName,
			BaseURL:  cfg.BaseURL,
			Headers: map[string]string{
				"x-api-key":         cfg.APIKey,
				"anthropic-version": apiVersion,
			},
			HTTPClient: &http.Client{Timeout: 120 * time.Second},
		},
	}
}

func (c *Client) Name() string { return ProviderName }

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (c *Client) SendPrompt(ctx context.Context, prompt string, opts domain.PromptOptions) (string, error) {
	req := messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	if opts.ResponseFormat == domain.ResponseFormatJSON {
		// the Messages API has no JSON mode
		req.System = "Respond with a single JSON object only."
	}
	if req.Model == "" {
		return "", &domain.ProviderError{Provider: ProviderName, Operation: "messages", Err: errors.New("model is not configured")}
	}

	var resp messagesResponse
	if err := c.http.PostJSON(ctx, "/messages", req, &resp, "messages"); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
