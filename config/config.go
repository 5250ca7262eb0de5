package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Playback PlaybackConfig
	Webhook  WebhookConfig
	Notifier NotifierConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string   // comma-separated, or "*" for all
	TrustedProxies     []string // proxies whose X-Forwarded-For is honoured; empty = none
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL        string // if set, used as-is (e.g. postgres://localhost:5432/stream?sslmode=disable)
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	MaxConns   int32
	MaxRetries int // transaction retries on serialization failure or deadlock
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the secret shared with the identity service that issues tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
	Issuer      string // expected iss claim; empty accepts any
}

// PlaybackConfig holds HLS URL signing and session settings.
type PlaybackConfig struct {
	BaseURL           string
	SecretKey         string
	URLTTLSeconds     int64
	EndAllConcurrency int
	RatePerMinute     int // playback-url requests per user per minute; 0 = unlimited
	HighViewers       int // live count that raises a stream.high_viewers alert; 0 = off
}

// WebhookConfig restricts who may call the encoder webhooks.
type WebhookConfig struct {
	AllowedCIDRs []string // empty = any source
}

// NotifierConfig is used by the worker that forwards events.
type NotifierConfig struct {
	URL             string // empty = events are logged and dropped
	TimeoutSeconds  int
	BreakerFailures int // consecutive failures that open the circuit
	BreakerOpenSec  int // how long the circuit stays open before a trial request
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			TrustedProxies:     splitTrim(os.Getenv("TRUSTED_PROXIES"), ","),
		},
		Database: DatabaseConfig{
			URL:        os.Getenv("DATABASE_URL"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", "postgres"),
			DBName:     getEnv("DB_NAME", "stream"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			MaxConns:   int32(getEnvInt("DB_MAX_CONNS", 20)),
			MaxRetries: getEnvInt("STORE_MAX_RETRIES", 3),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
			Issuer:      os.Getenv("JWT_ISSUER"),
		},
		Playback: PlaybackConfig{
			BaseURL:           getEnv("HLS_BASE_URL", "https://cdn.example.com/hls"),
			SecretKey:         os.Getenv("HLS_SECRET_KEY"),
			URLTTLSeconds:     int64(getEnvInt("PLAYBACK_URL_TTL_SEC", 3600)),
			EndAllConcurrency: getEnvInt("END_ALL_CONCURRENCY", 8),
			RatePerMinute:     getEnvInt("PLAYBACK_RATE_PER_MIN", 30),
			HighViewers:       getEnvInt("HIGH_VIEWERS_THRESHOLD", 0),
		},
		Webhook: WebhookConfig{
			AllowedCIDRs: splitTrim(os.Getenv("WEBHOOK_ALLOWED_CIDRS"), ","),
		},
		Notifier: NotifierConfig{
			URL:             os.Getenv("NOTIFIER_URL"),
			TimeoutSeconds:  getEnvInt("NOTIFIER_TIMEOUT_SEC", 10),
			BreakerFailures: getEnvInt("NOTIFIER_BREAKER_FAILURES", 5),
			BreakerOpenSec:  getEnvInt("NOTIFIER_BREAKER_OPEN_SEC", 30),
		},
	}
	return cfg, nil
}

// Validate reports settings the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Playback.SecretKey == "" {
		errs = append(errs, errors.New("HLS_SECRET_KEY is required"))
	}
	if c.Playback.BaseURL == "" {
		errs = append(errs, errors.New("HLS_BASE_URL is required"))
	}
	if c.Playback.URLTTLSeconds <= 0 {
		errs = append(errs, errors.New("PLAYBACK_URL_TTL_SEC must be positive"))
	}
	if c.Playback.HighViewers < 0 {
		errs = append(errs, errors.New("HIGH_VIEWERS_THRESHOLD must not be negative"))
	}
	if c.Playback.RatePerMinute < 0 {
		errs = append(errs, errors.New("PLAYBACK_RATE_PER_MIN must not be negative"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
