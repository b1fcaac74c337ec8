// Package notify delivers fired reminders to staff and customers.
package notify

import (
	"context"
	"errors"

	"github.com/hray3182/crm-reminders/internal/logx"
	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/reminder"
)

// Multi fans a firing out to every notifier. One failing channel does not
// stop the others; all failures are joined.
type Multi []reminder.Notifier

func (m Multi) Notify(ctx context.Context, rec *models.Reminder) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each firing to the structured log.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, rec *models.Reminder) error {
	l.log.Info("reminder notification",
		logx.String("id", rec.ID),
		logx.String("owner", rec.OwnerID),
		logx.String("message", rec.Message),
		logx.Int("occurrence", rec.CurrentCount),
		logx.Bool("completed", rec.Sent),
	)
	return nil
}
