package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort    int
	DatabaseURL string
	AMQPURL     string
	RedisURL    string
	VaultSecret string

	GenAIAPIKey string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	OAuthRevokeURL    string
	GmailEndpoint     string
	SMTPAddr          string

	LogLevel  string
	LogFormat string

	Policy Policy
}

// Policy holds the engine constants. Every field can be overridden from a YAML file.
type Policy struct {
	Cooldown            time.Duration `yaml:"cooldown"`
	SendDelay           time.Duration `yaml:"send_delay"`
	InboundBatchSize    int           `yaml:"inbound_batch_size"`
	DraftCacheTTL       time.Duration `yaml:"draft_cache_ttl"`
	SentimentCacheTTL   time.Duration `yaml:"sentiment_cache_ttl"`
	DefaultDripDays     int           `yaml:"default_drip_days"`
	DefaultMaxFollowups int           `yaml:"default_max_followups"`
	DefaultDailyLimit   int           `yaml:"default_daily_limit"`
	SchedulerInterval   time.Duration `yaml:"scheduler_interval"`
	WorkerConcurrency   int           `yaml:"worker_concurrency"`
	CompletionModel     string        `yaml:"completion_model"`
	Temperature         float32       `yaml:"temperature"`
	MaxTokens           int           `yaml:"max_tokens"`
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:            7 * 24 * time.Hour,
		SendDelay:           2 * time.Second,
		InboundBatchSize:    50,
		DraftCacheTTL:       time.Hour,
		SentimentCacheTTL:   24 * time.Hour,
		DefaultDripDays:     3,
		DefaultMaxFollowups: 3,
		DefaultDailyLimit:   50,
		SchedulerInterval:   5 * time.Minute,
		WorkerConcurrency:   4,
		CompletionModel:     "gemini-2.5-flash",
		Temperature:         0.7,
		MaxTokens:           1024,
	}
}

// Load reads the environment. Call godotenv.Load() first to pick up a .env file.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:       getEnvString("DATABASE_URL", ""),
		AMQPURL:           getEnvString("AMQP_URL", ""),
		RedisURL:          getEnvString("REDIS_URL", ""),
		VaultSecret:       getEnvString("VAULT_SECRET", ""),
		GenAIAPIKey:       getEnvString("GENAI_API_KEY", ""),
		OAuthClientID:     getEnvString("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnvString("OAUTH_CLIENT_SECRET", ""),
		OAuthTokenURL:     getEnvString("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		OAuthRevokeURL:    getEnvString("OAUTH_REVOKE_URL", "https://oauth2.googleapis.com/revoke"),
		GmailEndpoint:     getEnvString("GMAIL_ENDPOINT", ""),
		SMTPAddr:          getEnvString("SMTP_ADDR", "smtp.gmail.com:587"),
		LogLevel:          getEnvString("LOG_LEVEL", "info"),
		LogFormat:         getEnvString("LOG_FORMAT", "json"),
		Policy:            DefaultPolicy(),
	}

	if model := getEnvString("GENAI_MODEL", ""); model != "" {
		cfg.Policy.CompletionModel = model
	}

	if path := getEnvString("POLICY_FILE", ""); path != "" {
		if err := cfg.Policy.LoadFile(path); err != nil {
			return cfg, err
		}
	}

	if len(cfg.VaultSecret) < 16 {
		return cfg, fmt.Errorf("VAULT_SECRET must be at least 16 bytes")
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto p. Keys missing from the file keep their current value.
func (p *Policy) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	return p.validate()
}

func (p *Policy) validate() error {
	switch {
	case p.Cooldown < 0:
		return fmt.Errorf("policy: cooldown must not be negative")
	case p.SendDelay < 0:
		return fmt.Errorf("policy: send_delay must not be negative")
	case p.InboundBatchSize <= 0:
		return fmt.Errorf("policy: inbound_batch_size must be positive")
	case p.WorkerConcurrency <= 0:
		return fmt.Errorf("policy: worker_concurrency must be positive")
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
