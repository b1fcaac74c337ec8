package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hray3182/crm-reminders/internal/format"
	"github.com/hray3182/crm-reminders/internal/logx"
	"github.com/hray3182/crm-reminders/internal/models"
)

// MailClient is the part of *sendgrid.Client the notifier uses.
type MailClient interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// Email mails the customer when a reminder asks for it and is a no-op otherwise.
type Email struct {
	client    MailClient
	fromEmail string
	fromName  string
	loc       *time.Location
	log       logx.Logger
}

func NewEmail(apiKey, fromEmail, fromName string, loc *time.Location, log logx.Logger) *Email {
	return NewEmailWithClient(sendgrid.NewSendClient(apiKey), fromEmail, fromName, loc, log)
}

func NewEmailWithClient(client MailClient, fromEmail, fromName string, loc *time.Location, log logx.Logger) *Email {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Email{
		client:    client,
		fromEmail: fromEmail,
		fromName:  fromName,
		loc:       loc,
		log:       log.With(logx.String("channel", "email")),
	}
}

func (e *Email) Notify(ctx context.Context, rec *models.Reminder) error {
	if !rec.NotifyCustomerByEmail || strings.TrimSpace(rec.CustomerEmail) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := mail.NewEmail(e.fromName, e.fromEmail)
	to := mail.NewEmail(rec.CustomerName, rec.CustomerEmail)
	plain := format.EmailBody(rec, e.loc)
	htmlContent := "<p>" + strings.ReplaceAll(html.EscapeString(plain), "\n", "<br>") + "</p>"

	message := mail.NewSingleEmail(from, format.EmailSubject(rec), to, plain, htmlContent)
	resp, err := e.client.Send(message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	e.log.Debug("mailed customer", logx.String("id", rec.ID))
	return nil
}
