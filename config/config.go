// Package config loads gateway configuration from the environment. A
// .env file in the working directory is honored when present; real
// environment variables win.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig
	Gemini     GeminiConfig
	Vertex     VertexConfig
	OpenRouter OpenRouterConfig
	Routing    RoutingConfig
	Queue      QueueConfig
	Usage      UsageConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	MetricsEnabled bool
	BodySizeLimit  int64
}

// GeminiConfig holds Gemini API credentials.
type GeminiConfig struct {
	APIKey string
}

// Configured reports whether the adapter can be constructed.
func (c GeminiConfig) Configured() bool { return c.APIKey != "" }

// VertexConfig holds Vertex AI credentials and placement.
type VertexConfig struct {
	ProjectID   string
	Location    string
	AccessToken string
}

// Configured reports whether the adapter can be constructed.
func (c VertexConfig) Configured() bool {
	return c.ProjectID != "" && c.AccessToken != ""
}

// OpenRouterConfig holds OpenRouter credentials.
type OpenRouterConfig struct {
	APIKey string
}

// Configured reports whether the adapter can be constructed.
func (c OpenRouterConfig) Configured() bool { return c.APIKey != "" }

// RoutingConfig tunes retry and fallback behavior.
type RoutingConfig struct {
	RetryAttempts  int
	RetryBaseDelay time.Duration
	FallbackModels []string
	// DefaultModel is substituted when a request omits the model.
	DefaultModel string
	// ModelTablePath points at an optional YAML file overriding the
	// built-in model table.
	ModelTablePath string
}

// QueueConfig holds job broker settings.
type QueueConfig struct {
	RedisURL     string
	StallTimeout time.Duration
	JobTimeout   time.Duration
	RetryDelay   time.Duration
}

// UsageConfig tunes usage accounting.
type UsageConfig struct {
	// Capacity bounds the in-memory usage ring.
	Capacity int
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Format is "json" or "pretty".
	Format string
	Level  string
}

// Load reads configuration from a .env file (if present) and the
// environment.
func Load() (*Config, error) {
	// Ignore a missing .env; the environment alone is a valid source.
	_ = godotenv.Load() //nolint:errcheck

	cfg := &Config{
		Server: ServerConfig{
			Port:           envString("PORT", "8080"),
			MetricsEnabled: envBool("METRICS_ENABLED", true),
			BodySizeLimit:  envInt64("BODY_SIZE_LIMIT", 0),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Vertex: VertexConfig{
			ProjectID:   os.Getenv("VERTEX_PROJECT_ID"),
			Location:    envString("VERTEX_LOCATION", "us-central1"),
			AccessToken: os.Getenv("VERTEX_ACCESS_TOKEN"),
		},
		OpenRouter: OpenRouterConfig{
			APIKey: os.Getenv("OPENROUTER_API_KEY"),
		},
		Routing: RoutingConfig{
			RetryAttempts:  envInt("RETRY_ATTEMPTS", 3),
			RetryBaseDelay: envDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
			FallbackModels: envList("FALLBACK_MODELS"),
			DefaultModel:   os.Getenv("DEFAULT_MODEL"),
			ModelTablePath: os.Getenv("MODEL_TABLE_PATH"),
		},
		Queue: QueueConfig{
			RedisURL:     os.Getenv("REDIS_URL"),
			StallTimeout: envDuration("JOB_STALL_TIMEOUT", time.Minute),
			JobTimeout:   envDuration("JOB_TIMEOUT", 5*time.Minute),
			RetryDelay:   envDuration("JOB_RETRY_DELAY", 5*time.Second),
		},
		Usage: UsageConfig{
			Capacity: envInt("USAGE_CAPACITY", 10000),
		},
		Log: LogConfig{
			Format: envString("LOG_FORMAT", "json"),
			Level:  envString("LOG_LEVEL", "info"),
		},
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
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

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList parses a comma-separated value, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
