package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm/transport"
)

const (
	ProviderName = "gemini"
	DefaultModel = "gemini-2.5-flash"
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature *float64
}

// Client wraps the official genai client for single-turn prompts.
type Client struct {
	cli         *genai.Client
	model       string
	maxTokens   int
	temperature *float64
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	cli, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{
		cli:         cli,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) SendPrompt(ctx context.Context, prompt string, opts domain.PromptOptions) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	genCfg := &genai.GenerateContentConfig{}
	if opts.ResponseFormat == domain.ResponseFormatJSON {
		genCfg.ResponseMIMEType = "application/json"
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = opts.Temperature
	}
	if temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*temperature))
	}

	resp, err := c.cli.Models.GenerateContent(ctx, model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", providerError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func providerError(err error) error {
	perr := &domain.ProviderError{Provider: ProviderName, Operation: "generate_content", Err: err}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		perr.StatusCode = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		perr.StatusCode = apiErrPtr.Code
	}
	perr.Retryable = transport.IsRetryable(perr.StatusCode, err)
	return perr
}
