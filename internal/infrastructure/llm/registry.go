package llm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kirillkom/marketplace-categorizer/internal/config"
	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/llm/openai"
)

// Registry resolves language-model providers by name.
type Registry struct {
	defaultName string
	providers   map[string]ports.LLMProvider
	order       []string
}

// NewRegistry builds every provider whose credentials are configured. Ollama
// needs no credentials and is always available.
func NewRegistry(ctx context.Context, cfg config.Config) (*Registry, error) {
	var providers []ports.LLMProvider

	providers = append(providers, ollama.New(ollama.Config{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaGenModel,
	}))
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, openai.New(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			MaxTokens:   cfg.OpenAIMaxTokens,
			Temperature: cfg.OpenAITemperature,
		}))
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, anthropic.New(anthropic.Config{
			APIKey:      cfg.AnthropicAPIKey,
			BaseURL:     cfg.AnthropicBaseURL,
			Model:       cfg.AnthropicModel,
			MaxTokens:   cfg.AnthropicMaxTokens,
			Temperature: cfg.AnthropicTemperature,
		}))
	}
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
		if err != nil {
			return nil, fmt.Errorf("init gemini provider: %w", err)
		}
		providers = append(providers, client)
	}

	return NewRegistryOf(cfg.ModelProvider, providers...)
}

// NewRegistryOf builds a registry from ready providers. defaultName must name
// one of them.
func NewRegistryOf(defaultName string, providers ...ports.LLMProvider) (*Registry, error) {
	r := &Registry{
		defaultName: strings.ToLower(strings.TrimSpace(defaultName)),
		providers:   make(map[string]ports.LLMProvider, len(providers)),
	}
	for _, p := range providers {
		name := strings.ToLower(p.Name())
		if _, dup := r.providers[name]; dup {
			return nil, domain.WrapError(domain.ErrInvalidInput, "llm registry", fmt.Errorf("duplicate provider %q", name))
		}
		r.providers[name] = p
		r.order = append(r.order, name)
	}
	if _, ok := r.providers[r.defaultName]; !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "llm registry",
			fmt.Errorf("default provider %q is not configured (available: %s)", defaultName, strings.Join(r.order, ", ")))
	}
	return r, nil
}

func (r *Registry) Provider(name string) (ports.LLMProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = r.defaultName
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resolve provider", fmt.Errorf("unknown provider %q", name))
	}
	return p, nil
}

func (r *Registry) DefaultName() string { return r.defaultName }

func (r *Registry) Names() []string { return slices.Clone(r.order) }
