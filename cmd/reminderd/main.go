package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/crm-reminders/internal/config"
	"github.com/hray3182/crm-reminders/internal/logx"
	"github.com/hray3182/crm-reminders/internal/notify"
	"github.com/hray3182/crm-reminders/internal/reminder"
	"github.com/hray3182/crm-reminders/internal/repository"
	"github.com/hray3182/crm-reminders/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "process due reminders once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logx.New(logx.Config{}).Error("failed to load config", logx.Err(err))
		os.Exit(1)
	}

	log := logx.New(logx.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", logx.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := repository.Open(ctx, repository.Config{
		Driver:      cfg.StoreDriver,
		DatabaseURI: cfg.DatabaseURI,
		SQLitePath:  cfg.SQLitePath,
	}, log)
	if err != nil {
		log.Error("failed to open store", logx.Err(err))
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("close store", logx.Err(err))
		}
	}()

	notifiers := notify.Multi{notify.NewLog(log)}
	if cfg.TelegramEnabled() {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.Error("failed to create telegram api", logx.Err(err))
			os.Exit(1)
		}
		notifiers = append(notifiers, notify.NewTelegram(api, cfg.TelegramChatID, cfg.TelegramRatePerSec, cfg.Location, log))
		log.Info("telegram notifications enabled", logx.Int64("chat_id", cfg.TelegramChatID))
	}
	if cfg.EmailEnabled() {
		notifiers = append(notifiers, notify.NewEmail(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName, cfg.Location, log))
		log.Info("customer email notifications enabled")
	}

	svc := reminder.NewService(store, notifiers,
		reminder.WithLocation(cfg.Location),
		reminder.WithLogger(log.With(logx.String("comp", "reminders"))),
	)

	sched, err := scheduler.New(svc, reminder.SystemClock(), cfg.PollSpec, cfg.Location, log)
	if err != nil {
		log.Error("failed to create scheduler", logx.Err(err))
		os.Exit(1)
	}

	if *once {
		rep, err := sched.RunOnce(ctx)
		if err != nil {
			log.Error("process due reminders", logx.Err(err))
			os.Exit(1)
		}
		log.Info("processed due reminders",
			logx.Int("fired", rep.Fired),
			logx.Int("backlogged", rep.Backlogged),
			logx.Int("failures", len(rep.Failures)),
		)
		return
	}

	if err := sched.Start(ctx); err != nil {
		log.Error("scheduler error", logx.Err(err))
		os.Exit(1)
	}
	log.Info("shutting down")
}
