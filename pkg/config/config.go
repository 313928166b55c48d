package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Collection prefixes for the production and sandbox namespaces.
const (
	PrefixLive    = ""
	PrefixSandbox = "test_"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Chat     ChatConfig
	Routing  RoutingConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	EventBus EventBusConfig
	Admin    AdminConfig
	Twilio   TwilioConfig
	Sweep    SweepConfig
	Rate     RateLimitConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string
}

// LLMConfig holds settings for the intent-extraction model call.
type LLMConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	TimeoutSeconds  int
	Retries         int
	ContextMessages int // history window sent with each call
	MaxConcurrent   int // bounded semaphore; excess requests get a busy reply
}

// ChatConfig holds the chat provider (WhatsApp Cloud API) integration.
type ChatConfig struct {
	ProviderPhoneID    string
	ProviderToken      string
	WebhookVerifyToken string
	WebhookAppSecret   string
	Sink               string // whatsapp | twilio | log
	MaxHistory         int    // persisted chat history cap per user
}

// RoutingConfig holds the external driving-route engine settings.
type RoutingConfig struct {
	BaseURL        string
	TimeoutSeconds int
	MaxRetries     int
	MaxConcurrent  int
}

// StoreConfig selects and identifies the document store backend.
type StoreConfig struct {
	Backend string // firestore | postgres | memory
	Project string // GCP project for firestore / secret resolution
}

// DatabaseConfig holds Postgres configuration for the JSONB store backend.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration for the notified-matches set.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// EventBusConfig holds optional NATS publishing settings.
type EventBusConfig struct {
	Enabled bool
	URL     string
	Stream  string
}

// AdminConfig holds the administrative surface settings.
type AdminConfig struct {
	Token  string   // bearer token for /admin HTTP endpoints
	Phones []string // phone numbers allowed to use /a chat commands
}

// TwilioConfig holds the alternative chat sink credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SweepConfig controls the optional stale-request sweep.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

// RateLimitConfig holds the per-sender inbound message budget. Requires Redis.
type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
	Burst     int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 60),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		LLM: LLMConfig{
			APIKey:          getEnv("LLM_API_KEY", ""),
			BaseURL:         getEnv("LLM_BASE_URL", "https://api.openai.com"),
			Model:           getEnv("LLM_MODEL", "gpt-4o-mini"),
			TimeoutSeconds:  getEnvAsInt("LLM_TIMEOUT_S", 45),
			Retries:         getEnvAsInt("LLM_RETRY", 1),
			ContextMessages: getEnvAsInt("AI_CONTEXT_MESSAGES", 5),
			MaxConcurrent:   getEnvAsInt("LLM_MAX_CONCURRENT", 16),
		},
		Chat: ChatConfig{
			ProviderPhoneID:    getEnv("CHAT_PROVIDER_PHONE_ID", ""),
			ProviderToken:      getEnv("CHAT_PROVIDER_TOKEN", ""),
			WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
			WebhookAppSecret:   getEnv("WEBHOOK_APP_SECRET", ""),
			Sink:               getEnv("CHAT_SINK", "whatsapp"),
			MaxHistory:         getEnvAsInt("MAX_CHAT_HISTORY", 100),
		},
		Routing: RoutingConfig{
			BaseURL:        getEnv("ROUTING_BASE_URL", "https://router.project-osrm.org"),
			TimeoutSeconds: getEnvAsInt("ROUTE_TIMEOUT_S", 8),
			MaxRetries:     getEnvAsInt("ROUTE_RETRIES", 3),
			MaxConcurrent:  getEnvAsInt("ROUTE_MAX_CONCURRENT", 8),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "firestore"),
			Project: getEnv("DOCUMENT_STORE_PROJECT", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "hiker"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		EventBus: EventBusConfig{
			Enabled: getEnvAsBool("NATS_ENABLED", false),
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:  getEnv("NATS_STREAM", "HIKER"),
		},
		Admin: AdminConfig{
			Token:  getEnv("ADMIN_TOKEN", ""),
			Phones: splitCSV(getEnv("ADMIN_PHONES", "")),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		},
		Sweep: SweepConfig{
			Enabled:  getEnvAsBool("STALE_SWEEP_ENABLED", false),
			Interval: time.Duration(getEnvAsInt("STALE_SWEEP_HOURS", 24)) * time.Hour,
		},
		Rate: RateLimitConfig{
			Enabled:   getEnvAsBool("RATE_LIMIT_ENABLED", false),
			PerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 10),
			Burst:     getEnvAsInt("RATE_LIMIT_BURST", 5),
		},
	}

	if err := resolveSecrets(cfg); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 45
	}
	if cfg.Routing.TimeoutSeconds <= 0 {
		cfg.Routing.TimeoutSeconds = 8
	}
	if cfg.Chat.MaxHistory <= 0 {
		cfg.Chat.MaxHistory = 100
	}
	if cfg.LLM.ContextMessages <= 0 {
		cfg.LLM.ContextMessages = 5
	}

	return cfg, nil
}

// LLMTimeout returns the wall-clock budget for one model call.
func (c LLMConfig) LLMTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RouteTimeout returns the budget for a single routing call.
func (c RoutingConfig) RouteTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsAdminPhone reports whether the phone may run /a chat commands.
func (c AdminConfig) IsAdminPhone(phone string) bool {
	for _, p := range c.Phones {
		if p == phone {
			return true
		}
	}
	return false
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
