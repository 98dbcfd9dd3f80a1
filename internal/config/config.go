package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port               string `mapstructure:"PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	JWTTTLMinutes      int    `mapstructure:"JWT_TTL_MINUTES"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RateLimitPerMinute int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	EventsExchange     string `mapstructure:"EVENTS_EXCHANGE"`
	AccrualSchedule    string `mapstructure:"ACCRUAL_SCHEDULE"`
	AccrualWindowHours int    `mapstructure:"ACCRUAL_WINDOW_HOURS"`
	DepositAutoConfirm bool   `mapstructure:"DEPOSIT_AUTO_CONFIRM"`
	BootstrapAdmins    string `mapstructure:"BOOTSTRAP_ADMINS"`
	Currency           string `mapstructure:"CURRENCY"`
}

var keys = []string{
	"PORT", "DATABASE_URL", "JWT_SECRET", "JWT_ISSUER", "JWT_TTL_MINUTES",
	"CORS_ALLOWED_ORIGINS", "REDIS_URL", "RATE_LIMIT_PER_MINUTE", "RABBITMQ_URL",
	"EVENTS_EXCHANGE", "ACCRUAL_SCHEDULE", "ACCRUAL_WINDOW_HOURS",
	"DEPOSIT_AUTO_CONFIRM", "BOOTSTRAP_ADMINS", "CURRENCY",
}

// Load reads configuration from the environment and performs minimal validation.
// An empty DATABASE_URL selects the in-memory store.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("JWT_ISSUER", "vip-ledger")
	v.SetDefault("JWT_TTL_MINUTES", 60)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("EVENTS_EXCHANGE", "ledger_events")
	v.SetDefault("ACCRUAL_SCHEDULE", "@every 1h")
	v.SetDefault("ACCRUAL_WINDOW_HOURS", 24)
	v.SetDefault("DEPOSIT_AUTO_CONFIRM", true)
	v.SetDefault("CURRENCY", "NPR")
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.JWTTTLMinutes <= 0 {
		cfg.JWTTTLMinutes = 60
	}
	if cfg.AccrualWindowHours <= 0 {
		cfg.AccrualWindowHours = 24
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// JWTTTL is the lifetime of issued tokens.
func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

// AccrualWindow is the length of one profit day.
func (c Config) AccrualWindow() time.Duration {
	return time.Duration(c.AccrualWindowHours) * time.Hour
}

// CORSOrigins splits CORS_ALLOWED_ORIGINS, defaulting to every origin.
func (c Config) CORSOrigins() []string {
	origins := parseCSV(c.CORSAllowedOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Admins lists the identities granted admin at start-up.
func (c Config) Admins() []string {
	return parseCSV(c.BootstrapAdmins)
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
