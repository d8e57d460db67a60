package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

const devDashboardOrigin = "http://localhost:5173"

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port           string
	Env            string
	PublicBaseURL  string
	AllowedOrigins []string

	// Storage configuration
	Store       string
	DatabaseURL string
	SQLitePath  string

	// Redis configuration
	RedisURL      string
	RedisPassword string

	// Auth configuration
	JWTSecret       string
	RelaySecretHash string
	WebhookSecrets  map[string]string

	// Monzo configuration
	MonzoClientID     string
	MonzoClientSecret string
	MonzoBaseURL      string

	// Plaid configuration
	PlaidClientID     string
	PlaidSecret       string
	PlaidEnv          string
	PlaidAccessTokens map[string]string

	// Gemini configuration
	GeminiAPIKey string
	GeminiModel  string

	// Categorizer rule table
	CategoryRulesPath string

	// Notification push gateway
	NotifyURL   string
	NotifyToken string

	// Polling configuration
	SyncPollInterval time.Duration
	SyncConcurrency  int
	SyncOverlap      time.Duration

	// DefaultPockets maps profile to its explicit fallback pocket.
	DefaultPockets map[string]uuid.UUID
}

// Load loads configuration from environment variables and an optional config file.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration through the given viper instance. Flags bound
// by the CLI take precedence over environment variables.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	// Config file is optional; the CLI sets one with --config
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Port:              v.GetString("PORT"),
		Env:               v.GetString("ENV"),
		PublicBaseURL:     strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		Store:             strings.ToLower(v.GetString("STORE")),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		RedisURL:          v.GetString("REDIS_URL"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		RelaySecretHash:   v.GetString("RELAY_SECRET_HASH"),
		MonzoClientID:     v.GetString("MONZO_CLIENT_ID"),
		MonzoClientSecret: v.GetString("MONZO_CLIENT_SECRET"),
		MonzoBaseURL:      v.GetString("MONZO_BASE_URL"),
		PlaidClientID:     v.GetString("PLAID_CLIENT_ID"),
		PlaidSecret:       v.GetString("PLAID_SECRET"),
		PlaidEnv:          v.GetString("PLAID_ENV"),
		GeminiAPIKey:      v.GetString("GEMINI_API_KEY"),
		GeminiModel:       v.GetString("GEMINI_MODEL"),
		CategoryRulesPath: v.GetString("CATEGORY_RULES_PATH"),
		NotifyURL:         v.GetString("NOTIFY_URL"),
		NotifyToken:       v.GetString("NOTIFY_TOKEN"),
		SyncPollInterval:  v.GetDuration("SYNC_POLL_INTERVAL"),
		SyncConcurrency:   v.GetInt("SYNC_CONCURRENCY"),
		SyncOverlap:       v.GetDuration("SYNC_OVERLAP"),
	}

	var err error
	if cfg.WebhookSecrets, err = parsePairs(v.GetString("WEBHOOK_SECRETS"), "="); err != nil {
		return nil, fmt.Errorf("WEBHOOK_SECRETS: %w", err)
	}
	if cfg.PlaidAccessTokens, err = parsePairs(v.GetString("PLAID_ACCESS_TOKENS"), "="); err != nil {
		return nil, fmt.Errorf("PLAID_ACCESS_TOKENS: %w", err)
	}
	if cfg.DefaultPockets, err = parseDefaultPockets(v.GetString("DEFAULT_POCKETS")); err != nil {
		return nil, fmt.Errorf("DEFAULT_POCKETS: %w", err)
	}

	// Outside production the local dashboard is allowed when nothing is set
	cfg.AllowedOrigins = parseList(v.GetString("ALLOWED_ORIGINS"))
	if len(cfg.AllowedOrigins) == 0 && !cfg.IsProduction() {
		cfg.AllowedOrigins = []string{devDashboardOrigin}
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("SQLITE_PATH", "pocketflow.db")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("MONZO_BASE_URL", "https://api.monzo.com")
	v.SetDefault("PLAID_ENV", "sandbox")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("SYNC_POLL_INTERVAL", 15*time.Minute)
	v.SetDefault("SYNC_CONCURRENCY", 3)
	v.SetDefault("SYNC_OVERLAP", 2*time.Hour)
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreSQLite, c.Store)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1")
	}

	if c.SyncPollInterval <= 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must be positive")
	}

	// Webhooks and the relay are unauthenticated without secrets
	if c.IsProduction() {
		if c.RelaySecretHash == "" {
			return fmt.Errorf("RELAY_SECRET_HASH is required in production")
		}
		if len(c.WebhookSecrets) == 0 {
			return fmt.Errorf("WEBHOOK_SECRETS is required in production")
		}
		for _, origin := range c.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("ALLOWED_ORIGINS must not contain * in production")
			}
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MonzoEnabled reports whether Monzo credentials are configured.
func (c *Config) MonzoEnabled() bool {
	return c.MonzoClientID != "" && c.MonzoClientSecret != ""
}

// PlaidEnabled reports whether Plaid credentials are configured.
func (c *Config) PlaidEnabled() bool {
	return c.PlaidClientID != "" && c.PlaidSecret != ""
}

// parseList parses "a,b" lists, dropping empty items.
func parseList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parsePairs parses "k1=v1,k2=v2" lists.
func parsePairs(raw, sep string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, sep)
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid entry %q", item)
		}
		out[k] = v
	}
	return out, nil
}

func parseDefaultPockets(raw string) (map[string]uuid.UUID, error) {
	pairs, err := parsePairs(raw, ":")
	if err != nil {
		return nil, err
	}
	out := make(map[string]uuid.UUID, len(pairs))
	for profile, id := range pairs {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile, err)
		}
		out[profile] = parsed
	}
	return out, nil
}
