package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm/transport"
)

const ProviderName = "ollama"

type Config struct {
	BaseURL     string
	Model       string
	Temperature *float64
}

// Client talks to the Ollama /api/generate endpoint without streaming.
type Client struct {
	model       string
	temperature *float64
	http        *transport.Client
}

func New(cfg Config) *Client {
	return &Client{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http: &transport.Client{
			Provider:   ProviderName,
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			HTTPClient: &http.Client{Timeout: 120 * time.Second},
		},
	}
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) SendPrompt(ctx context.Context, prompt string, opts domain.PromptOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	reqBody := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}
	if opts.ResponseFormat == domain.ResponseFormatJSON {
		reqBody["format"] = "json"
	}

	options := map[string]any{}
	if t := opts.Temperature; t != nil {
		options["temperature"] = *t
	} else if c.temperature != nil {
		options["temperature"] = *c.temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		reqBody["options"] = options
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.http.PostJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
