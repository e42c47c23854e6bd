// Package config loads process configuration from the environment, with
// .env support for development.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Telegram holds the bot credentials.
type Telegram struct {
	BotToken string
}

// SMTP holds the optional email channel credentials.
type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Config is the full process configuration.
type Config struct {
	Telegram Telegram
	SMTP     SMTP

	AdminUserIDs []string
	DataDir      string
	LogLevel     string
	LogConsole   bool
	OpsAddr      string
}

// Load reads the environment (merging a .env file when present) and
// validates required values.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Telegram: Telegram{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			FromName: getEnv("SMTP_FROM_NAME", "Hawkeye Monitor"),
		},
		DataDir:    getEnv("DATA_DIR", "data"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogConsole: getEnv("LOG_FORMAT", "console") == "console",
		OpsAddr:    getEnv("OPS_LISTEN_ADDR", ":9090"),
	}

	for _, id := range strings.Split(os.Getenv("ADMIN_USER_IDS"), ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			cfg.AdminUserIDs = append(cfg.AdminUserIDs, id)
		}
	}

	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
