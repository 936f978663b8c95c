// Package config is the one sanctioned package-level singleton in this
// module. Every other collaborator is constructed once in cmd/app/main.go
// and injected. config itself is a single process-wide settings struct
// populated at boot and read through small accessor functions everywhere
// else.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type settings struct {
	dbURL string

	logLevel          string
	enableConsoleLogs bool

	appURL      string
	webhookMode bool

	healthCheckPort int

	defaultBonusExpiryDays int

	adminAPIToken string

	redisURL string

	telegramWebhookSecretToken string

	broadcastConcurrency int
	ledgerMaxRetries     int
}

var conf settings

// Load reads the environment (optionally via a .env file) into the
// package-level settings. It panics on a missing required value, treating
// configuration failure as fatal at boot rather than a recoverable runtime
// error.
func Load() {
	if os.Getenv("DISABLE_ENV_FILE") != "true" {
		if err := loadDotEnv(".env"); err != nil {
			slog.Info("no .env file loaded", "error", err)
		}
	}

	conf.dbURL = requireEnv("DB_URL")
	conf.logLevel = getEnvDefault("LOG_LEVEL", "info")
	conf.enableConsoleLogs = os.Getenv("ENABLE_CONSOLE_LOGS") == "true"

	conf.appURL = os.Getenv("NEXT_PUBLIC_APP_URL")
	lower := strings.ToLower(conf.appURL)
	conf.webhookMode = conf.appURL != "" &&
		!strings.Contains(lower, "localhost") &&
		!strings.Contains(lower, "127.0.0.1")

	conf.healthCheckPort = getEnvInt("HEALTHCHECK_PORT", 8080)
	conf.defaultBonusExpiryDays = getEnvInt("DEFAULT_BONUS_EXPIRY_DAYS", 365)
	conf.adminAPIToken = os.Getenv("ADMIN_API_TOKEN")
	conf.redisURL = os.Getenv("REDIS_URL")
	conf.telegramWebhookSecretToken = os.Getenv("TELEGRAM_WEBHOOK_SECRET_TOKEN")

	conf.broadcastConcurrency = getEnvInt("BROADCAST_CONCURRENCY", 8)
	conf.ledgerMaxRetries = getEnvInt("LEDGER_MAX_RETRIES", 3)

	if conf.redisURL != "" {
		slog.Info("REDIS_URL configured but unused — rate limiting is out of scope for this engine")
	}
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("missing required env var: " + key)
	}
	return v
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func DatabaseURL() string { return conf.dbURL }

func LogLevel() string { return conf.logLevel }

func EnableConsoleLogs() bool { return conf.enableConsoleLogs }

func AppURL() string { return conf.appURL }

// DefaultWebhookMode reports whether the application's own public URL is a
// non-localhost one. Nothing in this module reads it: the supervisor starts
// each bot in the mode stored in that project's bot_settings.webhook_mode.
func DefaultWebhookMode() bool { return conf.webhookMode }

func HealthCheckPort() int { return conf.healthCheckPort }

func DefaultBonusExpiryDays() int { return conf.defaultBonusExpiryDays }

func AdminAPIToken() string { return conf.adminAPIToken }

func TelegramWebhookSecretToken() string { return conf.telegramWebhookSecretToken }

func BroadcastConcurrency() int { return conf.broadcastConcurrency }

func LedgerMaxRetries() int { return conf.ledgerMaxRetries }
