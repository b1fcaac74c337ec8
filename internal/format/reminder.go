package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/recurrence"
)

const timeLayout = "2006-01-02 15:04 MST"

var moduleLabels = map[models.RelatedModule]string{
	models.ModuleLead:            "Lead",
	models.ModuleProposal:        "Proposal",
	models.ModuleInvoice:         "Invoice",
	models.ModuleProformaInvoice: "Proforma invoice",
}

// ModuleLabel returns the display name of a related module.
func ModuleLabel(m models.RelatedModule) string {
	if l, ok := moduleLabels[m]; ok {
		return l
	}
	return string(m)
}

// ScheduledFor returns the nominal trigger time of the firing that produced rec.
func ScheduledFor(rec *models.Reminder) time.Time {
	if rec.LastTriggerTime != nil {
		return *rec.LastTriggerTime
	}
	// Rows fired before the nominal time was stored.
	if rec.IsRecurring() && !rec.Sent && rec.CurrentCount > 0 {
		return rec.TriggerTime.AddDate(0, 0, -rec.Rule.IntervalDays)
	}
	return rec.TriggerTime
}

// Occurrence renders "occurrence n of m" for a fired recurring reminder.
func Occurrence(rec *models.Reminder) string {
	if !rec.IsRecurring() || rec.CurrentCount == 0 {
		return ""
	}
	if rec.Rule.Unlimited() {
		return fmt.Sprintf("occurrence %d", rec.CurrentCount)
	}
	return fmt.Sprintf("occurrence %d of %d", rec.CurrentCount, rec.Rule.OccurrenceLimit)
}

// ReminderText builds the staff notification for a fired reminder as Markdown
// suitable for ParseMarkdown. User supplied text is escaped.
func ReminderText(rec *models.Reminder, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	b.WriteString("⏰ **Reminder**\n\n")
	b.WriteString(Escape(rec.Message))
	b.WriteString("\n")

	if rec.RelatedModule != "" || rec.ReferenceName != "" {
		b.WriteString("\n📎 ")
		if rec.RelatedModule != "" {
			b.WriteString(ModuleLabel(rec.RelatedModule))
			b.WriteString(": ")
		}
		name := rec.ReferenceName
		if name == "" {
			name = rec.ReferenceID
		}
		b.WriteString("**" + Escape(name) + "**")
		if rec.CustomerName != "" {
			b.WriteString(" (" + Escape(rec.CustomerName) + ")")
		}
	}

	b.WriteString("\n🕒 " + ScheduledFor(rec).In(loc).Format(timeLayout))

	if rec.IsRecurring() {
		b.WriteString("\n🔄 " + recurrence.Describe(rec))
		if occ := Occurrence(rec); occ != "" {
			b.WriteString(" · " + occ)
		}
		if !rec.Sent {
			b.WriteString("\n⏭ next `" + rec.TriggerTime.In(loc).Format(timeLayout) + "`")
		}
	}
	return b.String()
}

// EmailSubject is the subject line of the customer email.
func EmailSubject(rec *models.Reminder) string {
	if rec.ReferenceName != "" {
		return "Reminder: " + rec.ReferenceName
	}
	return "Reminder"
}

// EmailBody is the plain-text customer email.
func EmailBody(rec *models.Reminder, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	if rec.CustomerName != "" {
		fmt.Fprintf(&b, "Hello %s,\n\n", rec.CustomerName)
	} else {
		b.WriteString("Hello,\n\n")
	}
	b.WriteString(rec.Message)
	b.WriteString("\n\n")
	if rec.RelatedModule != "" && rec.ReferenceName != "" {
		fmt.Fprintf(&b, "%s: %s\n", ModuleLabel(rec.RelatedModule), rec.ReferenceName)
	}
	fmt.Fprintf(&b, "Scheduled: %s\n", ScheduledFor(rec).In(loc).Format(timeLayout))
	return b.String()
}
