// Package config loads the module's runtime configuration from the
// environment, optionally seeded from a .env file. Parsing is strict: a
// malformed value is an error, never silently replaced by a default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sema-ai/semachat/backend"
)

// Backend identifiers accepted in MODEL_TYPE. They match the registry keys
// installed by the root package.
const (
	BackendLocal       = "local"
	BackendHuggingFace = "huggingface"
	BackendOpenAI      = "openai"
	BackendAnthropic   = "anthropic"
	BackendMiniMax     = "minimax"
	BackendGoogle      = "google"
)

// Config aggregates every runtime setting.
type Config struct {
	Backend    BackendConfig
	Generation GenerationConfig
	Session    SessionConfig
	Stream     StreamConfig
	Log        LogConfig
}

// BackendConfig selects and credentials the active backend.
type BackendConfig struct {
	Type  string
	Model string

	OpenAIAPIKey    string
	OpenAIOrgID     string
	AnthropicAPIKey string
	GoogleAPIKey    string
	HFAPIToken      string
	HFInferenceURL  string
	MiniMaxAPIKey   string
	MiniMaxAPIURL   string
	MiniMaxVersion  string
	OllamaHost      string
}

// GenerationConfig carries the default sampling parameters applied when a
// request leaves them unset.
type GenerationConfig struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	TopP         float64
	TopK         int
}

// SessionConfig controls history bounds and expiry.
type SessionConfig struct {
	RedisURL   string
	TTL        time.Duration
	MaxHistory int
}

// StreamConfig controls streaming concurrency and pacing.
type StreamConfig struct {
	MaxConcurrent int
	Delay         time.Duration
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	// Missing .env is the common production case, not an error.
	_ = godotenv.Load()

	generation, err := loadGenerationConfig()
	if err != nil {
		return nil, err
	}
	sess, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}
	stream, err := loadStreamConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Backend:    loadBackendConfig(),
		Generation: generation,
		Session:    sess,
		Stream:     stream,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBackendConfig() BackendConfig {
	return BackendConfig{
		Type:  strings.ToLower(getEnvOrDefault("MODEL_TYPE", BackendLocal)),
		Model: strings.TrimSpace(os.Getenv("MODEL_NAME")),

		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIOrgID:     strings.TrimSpace(os.Getenv("OPENAI_ORG_ID")),
		AnthropicAPIKey: strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		GoogleAPIKey:    strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		HFAPIToken:      strings.TrimSpace(os.Getenv("HF_API_TOKEN")),
		HFInferenceURL:  strings.TrimSpace(os.Getenv("HF_INFERENCE_URL")),
		MiniMaxAPIKey:   strings.TrimSpace(os.Getenv("MINIMAX_API_KEY")),
		MiniMaxAPIURL:   strings.TrimSpace(os.Getenv("MINIMAX_API_URL")),
		MiniMaxVersion:  strings.TrimSpace(os.Getenv("MINIMAX_MODEL_VERSION")),
		OllamaHost:      strings.TrimSpace(os.Getenv("OLLAMA_HOST")),
	}
}

func loadGenerationConfig() (GenerationConfig, error) {
	temperature, err := parseFloatEnv("TEMPERATURE", 0.7)
	if err != nil {
		return GenerationConfig{}, err
	}
	topP, err := parseFloatEnv("TOP_P", 0.9)
	if err != nil {
		return GenerationConfig{}, err
	}
	topK, err := parseIntEnv("TOP_K", 50)
	if err != nil {
		return GenerationConfig{}, err
	}
	maxTokens, err := parseIntEnv("MAX_NEW_TOKENS", 512)
	if err != nil {
		return GenerationConfig{}, err
	}
	return GenerationConfig{
		SystemPrompt: os.Getenv("SYSTEM_PROMPT"),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		TopP:         topP,
		TopK:         topK,
	}, nil
}

func loadSessionConfig() (SessionConfig, error) {
	ttlSeconds, err := parseIntEnv("SESSION_TIMEOUT", 1800)
	if err != nil {
		return SessionConfig{}, err
	}
	maxHistory, err := parseIntEnv("MAX_MESSAGES_PER_SESSION", 100)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{
		RedisURL:   strings.TrimSpace(os.Getenv("REDIS_URL")),
		TTL:        time.Duration(ttlSeconds) * time.Second,
		MaxHistory: maxHistory,
	}, nil
}

func loadStreamConfig() (StreamConfig, error) {
	maxConcurrent, err := parseIntEnv("MAX_CONCURRENT_STREAMS", 10)
	if err != nil {
		return StreamConfig{}, err
	}
	delayMillis, err := parseIntEnv("STREAM_DELAY_MS", 0)
	if err != nil {
		return StreamConfig{}, err
	}
	return StreamConfig{
		MaxConcurrent: maxConcurrent,
		Delay:         time.Duration(delayMillis) * time.Millisecond,
	}, nil
}

func (c *Config) validate() error {
	switch c.Backend.Type {
	case BackendLocal, BackendHuggingFace, BackendOpenAI, BackendAnthropic, BackendMiniMax, BackendGoogle:
	default:
		return fmt.Errorf("unknown MODEL_TYPE %q", c.Backend.Type)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive, got %s", c.Session.TTL)
	}
	if c.Session.MaxHistory < 1 {
		return fmt.Errorf("MAX_MESSAGES_PER_SESSION must be at least 1, got %d", c.Session.MaxHistory)
	}
	if c.Stream.MaxConcurrent < 0 {
		return fmt.Errorf("MAX_CONCURRENT_STREAMS must not be negative, got %d", c.Stream.MaxConcurrent)
	}
	return nil
}

// BackendSettings translates the selected backend's credentials into a
// registry config.
func (c *Config) BackendSettings() backend.Config {
	cfg := backend.Config{Model: c.Backend.Model}
	switch c.Backend.Type {
	case BackendOpenAI:
		cfg.APIKey = c.Backend.OpenAIAPIKey
		cfg.OrgID = c.Backend.OpenAIOrgID
	case BackendAnthropic:
		cfg.APIKey = c.Backend.AnthropicAPIKey
	case BackendGoogle:
		cfg.APIKey = c.Backend.GoogleAPIKey
	case BackendHuggingFace:
		cfg.APIKey = c.Backend.HFAPIToken
		cfg.BaseURL = c.Backend.HFInferenceURL
	case BackendMiniMax:
		cfg.APIKey = c.Backend.MiniMaxAPIKey
		cfg.BaseURL = c.Backend.MiniMaxAPIURL
		cfg.ModelVersion = c.Backend.MiniMaxVersion
	case BackendLocal:
		cfg.BaseURL = c.Backend.OllamaHost
	}
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
