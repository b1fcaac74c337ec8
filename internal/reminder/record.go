package reminder

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/recurrence"
)

const MaxMessageLen = 500

// Input is what a client submits on the create and edit forms.
// RepeatDays and RecursionLimit are read only when Recurring is set;
// RecursionLimit accepts the legacy 1000 for "no limit".
type Input struct {
	OwnerID    string
	AssigneeID *string

	RelatedModule models.RelatedModule
	ReferenceID   string
	ReferenceName string
	CustomerName  string
	CustomerEmail string

	Message               string
	TriggerTime           time.Time
	Recurring             bool
	RepeatDays            int
	RecursionLimit        int
	NotifyCustomerByEmail bool
}

// New validates in and builds a fresh reminder with no firings.
func New(id string, in Input, now time.Time) (*models.Reminder, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("reminder id is required")
	}
	msg, rule, err := validate(in, now)
	if err != nil {
		return nil, err
	}
	rec := &models.Reminder{
		ID:                    id,
		OwnerID:               in.OwnerID,
		AssigneeID:            in.AssigneeID,
		RelatedModule:         in.RelatedModule,
		ReferenceID:           in.ReferenceID,
		ReferenceName:         in.ReferenceName,
		CustomerName:          in.CustomerName,
		CustomerEmail:         strings.TrimSpace(in.CustomerEmail),
		Message:               msg,
		TriggerTime:           in.TriggerTime,
		Recurring:             in.Recurring,
		Rule:                  rule,
		NotifyCustomerByEmail: in.NotifyCustomerByEmail,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	return rec, nil
}

// ApplyEdit re-validates in against rec and returns the edited copy.
// Firing progress, identity and Version are carried over; rec is never mutated.
func ApplyEdit(rec *models.Reminder, in Input, now time.Time) (*models.Reminder, error) {
	if rec.Sent {
		return nil, ErrTerminalRecord
	}
	msg, rule, err := validate(in, now)
	if err != nil {
		return nil, err
	}
	if in.Recurring && rule.OccurrenceLimit > 0 && rule.OccurrenceLimit <= rec.CurrentCount {
		// A pending reminder still owes one firing, so the limit must leave room for it.
		return nil, invalidf("recursionLimit", "limit %d leaves no occurrence after the %d already sent", rule.OccurrenceLimit, rec.CurrentCount)
	}

	out := rec.Clone()
	if in.OwnerID != "" {
		out.OwnerID = in.OwnerID
	}
	out.AssigneeID = in.AssigneeID
	out.RelatedModule = in.RelatedModule
	out.ReferenceID = in.ReferenceID
	out.ReferenceName = in.ReferenceName
	out.CustomerName = in.CustomerName
	out.CustomerEmail = strings.TrimSpace(in.CustomerEmail)
	out.Message = msg
	out.TriggerTime = in.TriggerTime
	out.Recurring = in.Recurring
	out.Rule = rule
	out.NotifyCustomerByEmail = in.NotifyCustomerByEmail
	out.UpdatedAt = now
	return out, nil
}

func validate(in Input, now time.Time) (string, models.RecurrenceRule, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return "", models.RecurrenceRule{}, invalidf("message", "must not be empty")
	}
	if n := utf8.RuneCountInString(msg); n > MaxMessageLen {
		return "", models.RecurrenceRule{}, invalidf("message", "%d characters exceeds %d", n, MaxMessageLen)
	}
	if in.TriggerTime.IsZero() {
		return "", models.RecurrenceRule{}, invalidf("triggerTime", "is required")
	}
	if in.TriggerTime.Before(now) {
		return "", models.RecurrenceRule{}, invalidf("triggerTime", "%s is in the past", in.TriggerTime.Format(time.RFC3339))
	}
	if in.RelatedModule != "" && !in.RelatedModule.Valid() {
		return "", models.RecurrenceRule{}, invalidf("relatedModule", "unknown module %q", in.RelatedModule)
	}
	if !in.Recurring {
		return msg, models.RecurrenceRule{}, nil
	}
	rule, err := recurrence.Normalize(in.RepeatDays, in.RecursionLimit)
	if err != nil {
		field := "repeatDays"
		if errors.Is(err, recurrence.ErrInvalidLimit) {
			field = "recursionLimit"
		}
		return "", models.RecurrenceRule{}, invalid(field, err)
	}
	return msg, rule, nil
}
