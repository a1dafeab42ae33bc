package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type OracleBackend string

const (
	OracleOpenAI OracleBackend = "openai"
	OracleGemini OracleBackend = "gemini"
	OracleScript OracleBackend = "script"
)

type StorageBackend string

const (
	StorageMemory    StorageBackend = "memory"
	StorageFirestore StorageBackend = "firestore"
	StoragePostgres  StorageBackend = "postgres"
)

type Config struct {
	Env         string `env:"ENV" envDefault:"production"`
	Port        string `env:"PORT" envDefault:"5000"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:8000"`

	StorageBackend StorageBackend `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL    string         `env:"DATABASE_URL"`
	GCPProjectID   string         `env:"GCP_PROJECT_ID"`
	GCPLocation    string         `env:"GCP_LOCATION" envDefault:"us-central1"`

	OracleBackend OracleBackend `env:"ORACLE_BACKEND" envDefault:"openai"`
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	// AIModel left empty means each oracle backend applies its own
	// default (gpt-3.5-turbo for openai, gemini-2.5-flash for gemini).
	AIModel string `env:"AI_MODEL"`

	RateLimitWindowMin int `env:"RATE_LIMIT_WINDOW_MIN" envDefault:"15"`
	RateLimitMax       int `env:"RATE_LIMIT_MAX" envDefault:"100"`
}

// Load parses environment variables and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StorageFirestore:
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when STORAGE_BACKEND=firestore")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.OracleBackend {
	case OracleOpenAI, OracleScript:
		// A missing OPENAI_API_KEY is not a startup error: the adapter
		// reports it as an unconfigured oracle and the fallback responder
		// carries the conversation.
	case OracleGemini:
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when ORACLE_BACKEND=gemini")
		}
	default:
		return fmt.Errorf("unknown ORACLE_BACKEND %q", c.OracleBackend)
	}

	if c.RateLimitWindowMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MIN must be positive, got %d", c.RateLimitWindowMin)
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", c.RateLimitMax)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
