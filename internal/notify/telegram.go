package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hray3182/crm-reminders/internal/format"
	"github.com/hray3182/crm-reminders/internal/logx"
	"github.com/hray3182/crm-reminders/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts fired reminders to one staff chat.
type Telegram struct {
	api     Sender
	chatID  int64
	loc     *time.Location
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(api Sender, chatID int64, ratePerSec int, loc *time.Location, log logx.Logger) *Telegram {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		api:     api,
		chatID:  chatID,
		loc:     loc,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log.With(logx.String("channel", "telegram")),
	}
}

func (t *Telegram) Notify(ctx context.Context, rec *models.Reminder) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	parsed := format.ParseMarkdown(format.ReminderText(rec, t.loc))
	msg := tgbotapi.NewMessage(t.chatID, parsed.Text)
	msg.Entities = parsed.Entities

	sent, err := t.api.Send(msg)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	t.log.Debug("sent reminder", logx.String("id", rec.ID), logx.Int("msg_id", sent.MessageID))
	return nil
}
