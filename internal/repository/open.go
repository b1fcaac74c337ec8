package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/crm-reminders/internal/database"
	"github.com/hray3182/crm-reminders/internal/logx"
	"github.com/hray3182/crm-reminders/internal/reminder"
)

// Config selects and configures the backing store.
type Config struct {
	Driver      string // postgres | sqlite | memory
	DatabaseURI string
	SQLitePath  string
	BusyTimeout time.Duration
}

// Open initializes the configured store. The returned close func is never nil.
func Open(ctx context.Context, cfg Config, log logx.Logger) (reminder.Store, func() error, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "postgres"
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.DatabaseURI) == "" {
			return nil, noop, errors.New("database uri is required for postgres")
		}
		db, err := database.New(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, noop, err
		}
		if err := db.Migrate(ctx, log); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("store opened")
		return NewReminderRepository(db), func() error { db.Close(); return nil }, nil
	case "sqlite", "sqlite3":
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		st, err := OpenSQLite(ctx, cfg.SQLitePath, busy)
		if err != nil {
			return nil, noop, err
		}
		log.Info("store opened", logx.String("path", cfg.SQLitePath))
		return st, st.Close, nil
	case "memory", "mem":
		log.Warn("using in-memory store; reminders are lost on restart")
		return NewMemoryStore(), noop, nil
	default:
		return nil, noop, errors.New("unknown store driver: " + driver)
	}
}

func noop() error { return nil }
