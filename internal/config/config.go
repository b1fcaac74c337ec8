package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	StoreDriver string
	DatabaseURI string
	SQLitePath  string

	PollSpec string
	Location *time.Location

	LogLevel  string
	LogFormat string

	TelegramToken      string
	TelegramChatID     int64
	TelegramRatePerSec int

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

func Load() (*Config, error) {
	// .env file is optional in production
	_ = godotenv.Load()

	tz := getEnvOrDefault("TIMEZONE", "Local")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		StoreDriver:       strings.ToLower(getEnvOrDefault("STORE_DRIVER", "postgres")),
		DatabaseURI:       os.Getenv("DATABASE_URI"),
		SQLitePath:        getEnvOrDefault("SQLITE_PATH", "./data/reminders.db"),
		PollSpec:          getEnvOrDefault("POLL_SPEC", "@every 1m"),
		Location:          loc,
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "console"),
		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		SendGridAPIKey:    os.Getenv("SENDGRID_API_KEY"),
		SendGridFromEmail: os.Getenv("SENDGRID_FROM_EMAIL"),
		SendGridFromName:  getEnvOrDefault("SENDGRID_FROM_NAME", "CRM Reminders"),
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		cfg.TelegramChatID = id
	}
	rps, err := strconv.Atoi(getEnvOrDefault("TELEGRAM_RATE_PER_SEC", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_RATE_PER_SEC: %w", err)
	}
	cfg.TelegramRatePerSec = rps

	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURI == "" {
			errs = append(errs, errors.New("DATABASE_URI is required when STORE_DRIVER=postgres"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if strings.TrimSpace(c.PollSpec) == "" {
		errs = append(errs, errors.New("POLL_SPEC must not be empty"))
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set"))
	}
	if c.TelegramRatePerSec <= 0 {
		errs = append(errs, errors.New("TELEGRAM_RATE_PER_SEC must be positive"))
	}
	if c.SendGridAPIKey != "" && c.SendGridFromEmail == "" {
		errs = append(errs, errors.New("SENDGRID_FROM_EMAIL is required when SENDGRID_API_KEY is set"))
	}
	return errors.Join(errs...)
}

// TelegramEnabled reports whether the telegram channel is configured.
func (c *Config) TelegramEnabled() bool { return c.TelegramToken != "" }

// EmailEnabled reports whether the customer email channel is configured.
func (c *Config) EmailEnabled() bool { return c.SendGridAPIKey != "" }

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
