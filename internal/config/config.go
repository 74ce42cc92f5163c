// Package config reads server settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Addr            string
	DBDriver        string
	DatabaseURL     string
	JWTSecret       string
	JWTIssuer       string
	TokenTTL        time.Duration
	RedisAddr       string
	CORSOrigins     []string
	RateLimit       int
	RequireEnvelope bool
	SendBuffer      int
	LogLevel        string
	LogFormat       string
}

const devSecret = "super-secret-key-change-me-in-production"

// Load reads an optional .env file and then the process environment.
// Invalid values fall back to defaults with a warning.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("config: failed to read .env")
	}

	cfg := Config{
		Addr:            envOr("SEALCHAT_ADDR", ":8080"),
		DBDriver:        envOr("SEALCHAT_DB_DRIVER", "sqlite3"),
		DatabaseURL:     envOr("SEALCHAT_DATABASE_URL", "sealchat.db"),
		JWTSecret:       envOr("SEALCHAT_JWT_SECRET", devSecret),
		JWTIssuer:       envOr("SEALCHAT_JWT_ISSUER", "sealchat"),
		TokenTTL:        envDuration("SEALCHAT_TOKEN_TTL", 7*24*time.Hour),
		RedisAddr:       os.Getenv("SEALCHAT_REDIS_ADDR"),
		CORSOrigins:     envList("SEALCHAT_CORS_ORIGINS", []string{"*"}),
		RateLimit:       envInt("SEALCHAT_RATE_LIMIT", 100),
		RequireEnvelope: envBool("SEALCHAT_REQUIRE_ENVELOPE", true),
		SendBuffer:      envInt("SEALCHAT_SEND_BUFFER", 256),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "text"),
	}
	if cfg.DBDriver != "sqlite3" && cfg.DBDriver != "postgres" {
		logrus.WithField("driver", cfg.DBDriver).Warn("config: unknown database driver, defaulting to sqlite3")
		cfg.DBDriver = "sqlite3"
	}
	if cfg.SendBuffer <= 0 {
		logrus.WithField("send_buffer", cfg.SendBuffer).Warn("config: invalid send buffer, defaulting")
		cfg.SendBuffer = 256
	}
	if cfg.JWTSecret == devSecret {
		logrus.Warn("config: SEALCHAT_JWT_SECRET not set, using development secret")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		logrus.WithFields(logrus.Fields{"key": key, "value": v, "default": fallback}).Warn("config: invalid int, using default")
	}
	return fallback
}

// envDuration accepts Go duration strings such as "15m" or "168h".
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
		logrus.WithFields(logrus.Fields{"key": key, "value": v, "default": fallback}).Warn("config: invalid duration, using default")
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		logrus.WithFields(logrus.Fields{"key": key, "value": v, "default": fallback}).Warn("config: invalid bool, using default")
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
