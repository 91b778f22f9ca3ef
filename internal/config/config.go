package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（空の場合はプロセス内キャッシュとロックを使用する）
	RedisURL string

	// Auth
	JWTSecret string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeTimeout       time.Duration
	StripeMaxRetries    int
	WebhookTolerance    time.Duration
	WebhookMaxBodyBytes int64

	// Pricing
	SettlementCurrency     string
	ExchangeRateURL        string
	ExchangeRateTTL        time.Duration
	ExchangeRateTimeout    time.Duration
	ExchangeRateMaxRetries int

	// Rate Limit（req/min）
	RateLimitGeneral  int
	RateLimitCheckout int

	// Worker
	RepairInterval            time.Duration
	RepairBatchSize           int
	WebhookEventRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	ClientURL  string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	if cfg.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}

	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	if cfg.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}

	cfg.ClientURL = strings.TrimSuffix(os.Getenv("CLIENT_URL"), "/")
	if cfg.ClientURL == "" {
		missing = append(missing, "CLIENT_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.StripeTimeout = getEnvDuration("STRIPE_TIMEOUT", 10*time.Second)
	cfg.StripeMaxRetries = getEnvInt("STRIPE_MAX_RETRIES", 2)
	cfg.WebhookTolerance = getEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute)
	cfg.WebhookMaxBodyBytes = getEnvInt64("WEBHOOK_MAX_BODY_BYTES", 65536)
	cfg.SettlementCurrency = strings.ToLower(getEnvString("SETTLEMENT_CURRENCY", "usd"))
	cfg.ExchangeRateURL = getEnvString("EXCHANGE_RATE_URL", "https://open.er-api.com/v6/latest")
	cfg.ExchangeRateTTL = getEnvDuration("EXCHANGE_RATE_TTL", time.Hour)
	cfg.ExchangeRateTimeout = getEnvDuration("EXCHANGE_RATE_TIMEOUT", 5*time.Second)
	cfg.ExchangeRateMaxRetries = getEnvInt("EXCHANGE_RATE_MAX_RETRIES", 2)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckout = getEnvInt("RATE_LIMIT_CHECKOUT", 10)
	cfg.RepairInterval = getEnvDuration("REPAIR_INTERVAL", 5*time.Minute)
	cfg.RepairBatchSize = getEnvInt("REPAIR_BATCH_SIZE", 100)
	cfg.WebhookEventRetentionDays = getEnvInt("WEBHOOK_EVENT_RETENTION_DAYS", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.ClientURL)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
