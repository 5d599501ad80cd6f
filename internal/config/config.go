package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config holds every setting read from the environment
type Config struct {
	// Model
	Provider    string
	Model       string
	Temperature float64

	// Credentials
	GeminiAPIKey string
	OpenAIAPIKey string
	OllamaURL    string

	// Gateway
	RequestTimeout time.Duration
	RateInterval   time.Duration

	// Server
	Port           string
	MaxUploadBytes int64
	SessionTTL     time.Duration
}

// Load reads the configuration from the environment. Missing credentials are
// not an error here; they surface on the first model call.
func Load() (*Config, error) {
	cfg := &Config{
		Provider:     getEnv("INSTRUCTGEN_PROVIDER", ProviderGemini),
		Model:        os.Getenv("INSTRUCTGEN_MODEL"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", os.Getenv("API_KEY")),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OllamaURL:    getEnv("OLLAMA_URL", getEnv("OLLAMA_HOST", "http://localhost:11434")),
		Port:         getEnv("PORT", "8888"),
	}

	var err error
	if cfg.Temperature, err = getFloat("INSTRUCTGEN_TEMPERATURE", 0.4); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("INSTRUCTGEN_REQUEST_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.RateInterval, err = getDuration("INSTRUCTGEN_RATE_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("INSTRUCTGEN_SESSION_TTL", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = getInt("INSTRUCTGEN_MAX_UPLOAD_BYTES", 10*1024*1024); err != nil {
		return nil, err
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make every request fail
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.RequestTimeout < 0 || c.RateInterval < 0 || c.SessionTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	return nil
}

// DefaultModel returns the model used when none is configured
func DefaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderOllama:
		return "mistral-small3.2:24b"
	default:
		return ""
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getInt(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
