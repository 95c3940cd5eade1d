package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort  string
	LogLevel string

	DataDir          string
	MarketplacesFile string
	PromptFile       string
	TaxonomyStrict   bool

	ShortlistK           int
	NameCharLimit        int
	DescriptionCharLimit int
	AttributeCharLimit   int
	PromptCharBudget     int
	CorpusCacheSize      int

	ProviderTimeout        time.Duration
	ProviderFailureMode    string
	ModelProvider          string
	ClassifyAllConcurrency int

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAITemperature *float64
	OpenAIMaxTokens   int

	AnthropicAPIKey      string
	AnthropicBaseURL     string
	AnthropicModel       string
	AnthropicTemperature *float64
	AnthropicMaxTokens   int

	GeminiAPIKey string
	GeminiModel  string

	OllamaURL      string
	OllamaGenModel string

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	BreakerEnabled      bool

	APIRateLimitRPS     float64
	APIRateLimitBurst   int
	APIMaxInFlight      int
	APIBackpressureWait time.Duration
	APIMaxBodyBytes     int64
	APIAuthToken        string

	NATSURL             string
	NATSClassifySubject string
	NATSResultSubject   string
	NATSQueueGroup      string

	WorkerMetricsPort string
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; variables already set win.
func Load() Config {
	_ = godotenv.Load()

	dataDir := mustEnv("DATA_DIR", "./data")
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		DataDir:          dataDir,
		MarketplacesFile: mustEnv("MARKETPLACES_FILE", filepath.Join(dataDir, "marketplaces.yaml")),
		PromptFile:       mustEnv("PROMPT_FILE", filepath.Join(dataDir, "prompts", "category_prompt.md")),
		TaxonomyStrict:   mustEnvBool("TAXONOMY_STRICT", false),

		ShortlistK:           mustEnvInt("SHORTLIST_K", 15),
		NameCharLimit:        mustEnvInt("NAME_CHAR_LIMIT", 300),
		DescriptionCharLimit: mustEnvInt("DESCRIPTION_CHAR_LIMIT", 2000),
		AttributeCharLimit:   mustEnvInt("ATTRIBUTE_CHAR_LIMIT", 200),
		PromptCharBudget:     mustEnvInt("PROMPT_CHAR_BUDGET", 12000),
		CorpusCacheSize:      mustEnvInt("CORPUS_CACHE_SIZE", 64),

		ProviderTimeout:        mustEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderFailureMode:    mustEnv("PROVIDER_FAILURE_MODE", "error"),
		ModelProvider:          mustEnv("MODEL_PROVIDER", "ollama"),
		ClassifyAllConcurrency: mustEnvInt("CLASSIFY_ALL_CONCURRENCY", 4),

		OpenAIAPIKey:      mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     mustEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:       mustEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITemperature: mustEnvFloatPtr("OPENAI_TEMPERATURE"),
		OpenAIMaxTokens:   mustEnvInt("OPENAI_MAX_TOKENS", 512),

		AnthropicAPIKey:      mustEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:     mustEnv("ANTHROPIC_BASE_URL", ""),
		AnthropicModel:       mustEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		AnthropicTemperature: mustEnvFloatPtr("ANTHROPIC_TEMPERATURE"),
		AnthropicMaxTokens:   mustEnvInt("ANTHROPIC_MAX_TOKENS", 512),

		GeminiAPIKey: mustEnv("GEMINI_API_KEY", ""),
		GeminiModel:  mustEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		OllamaURL:      mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel: mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),

		RetryMaxAttempts:    mustEnvInt("RETRY_MAX_ATTEMPTS", 1),
		RetryInitialBackoff: mustEnvDuration("RETRY_INITIAL_BACKOFF", 200*time.Millisecond),
		BreakerEnabled:      mustEnvBool("BREAKER_ENABLED", true),

		APIRateLimitRPS:     mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst:   mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:      mustEnvInt("API_MAX_IN_FLIGHT", 64),
		APIBackpressureWait: mustEnvDuration("API_BACKPRESSURE_WAIT", 250*time.Millisecond),
		APIMaxBodyBytes:     int64(mustEnvInt("API_MAX_BODY_BYTES", 1<<20)),
		APIAuthToken:        mustEnv("API_AUTH_TOKEN", ""),

		NATSURL:             mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSClassifySubject: mustEnv("NATS_CLASSIFY_SUBJECT", "categorizer.classify"),
		NATSResultSubject:   mustEnv("NATS_RESULT_SUBJECT", "categorizer.results"),
		NATSQueueGroup:      mustEnv("NATS_QUEUE_GROUP", "categorizer-workers"),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// mustEnvFloatPtr returns nil when the key is unset so the provider default applies.
func mustEnvFloatPtr(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
