package config

import (
	"log"
	"os"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// State files
	TradesFile   string
	RiskFile     string
	ErrorLogFile string
	JournalPath  string

	// Locking. Backend is "file" or "redis"; redis coordinates executors
	// spread across hosts that share state over a network mount.
	LockBackend   string
	LockDir       string
	RedisAddr     string
	RedisPassword string
	RedisLockTTL  time.Duration

	// Brokerage bridge
	BrokerURL        string
	BrokerClientID   string
	BrokerTOTPSecret string

	// Fill monitor overrides; zero means the built-in policy.
	FillTimeout   time.Duration
	StallTimeout  time.Duration
	CancelConfirm time.Duration

	// Servers
	ListenAddr  string
	MetricsAddr string

	// Alerting; empty values disable the channel.
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		TradesFile:   getEnv("TRADES_FILE", "data/trades.json"),
		RiskFile:     getEnv("RISK_FILE", "data/available_risk.json"),
		ErrorLogFile: getEnv("ERROR_LOG_FILE", "data/error_log.json"),
		JournalPath:  getEnv("JOURNAL_PATH", "data/executions.db"),

		LockBackend:   getEnv("LOCK_BACKEND", "file"),
		LockDir:       getEnv("LOCK_DIR", "data/locks"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisLockTTL:  getDuration("REDIS_LOCK_TTL", 30*time.Second),

		BrokerURL:        getEnv("BROKER_URL", "ws://127.0.0.1:7496/ws"),
		BrokerClientID:   getEnv("BROKER_CLIENT_ID", "1"),
		BrokerTOTPSecret: getEnv("BROKER_TOTP_SECRET", ""),

		FillTimeout:   getDuration("FILL_TIMEOUT", 0),
		StallTimeout:  getDuration("STALL_TIMEOUT", 0),
		CancelConfirm: getDuration("CANCEL_CONFIRM_TIMEOUT", 0),

		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
