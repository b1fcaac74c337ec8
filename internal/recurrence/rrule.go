package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/hray3182/crm-reminders/internal/models"
)

// String renders the rule as an RFC 5545 RRULE body, e.g. "FREQ=DAILY;INTERVAL=7;COUNT=3".
func String(rule models.RecurrenceRule) string {
	parts := []string{"FREQ=DAILY"}
	if rule.IntervalDays > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", rule.IntervalDays))
	}
	if rule.OccurrenceLimit > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", rule.OccurrenceLimit))
	}
	return strings.Join(parts, ";")
}

// RRule builds the rrule series for rule anchored at dtstart.
func RRule(rule models.RecurrenceRule, dtstart time.Time) (*rrule.RRule, error) {
	if rule.IntervalDays < 1 {
		return nil, ErrInvalidInterval
	}
	opt := rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: rule.IntervalDays,
		Dtstart:  dtstart,
	}
	if rule.OccurrenceLimit > 0 {
		opt.Count = rule.OccurrenceLimit
	}
	return rrule.NewRRule(opt)
}

// Parse reads a legacy RRULE string (DAILY or WEEKLY only) back into a canonical rule.
func Parse(ruleStr string) (models.RecurrenceRule, error) {
	ruleStr = strings.TrimPrefix(strings.TrimSpace(ruleStr), "RRULE:")
	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return models.RecurrenceRule{}, fmt.Errorf("failed to parse RRULE: %w", err)
	}
	interval := opt.Interval
	if interval == 0 {
		interval = 1
	}
	switch opt.Freq {
	case rrule.DAILY:
	case rrule.WEEKLY:
		interval *= 7
	default:
		return models.RecurrenceRule{}, fmt.Errorf("unsupported RRULE frequency in %q", ruleStr)
	}
	return Normalize(interval, opt.Count)
}

// Upcoming returns up to n nominal trigger times starting with rec.TriggerTime.
// It stops early when the remaining occurrences run out and is empty for sent records.
func Upcoming(rec *models.Reminder, n int) ([]time.Time, error) {
	if rec == nil || rec.Sent || n <= 0 {
		return nil, nil
	}
	if !rec.IsRecurring() {
		return []time.Time{rec.TriggerTime}, nil
	}

	remaining := rec.RemainingOccurrences()
	if remaining == 0 {
		return nil, nil
	}
	// The series restarts at the current trigger, so COUNT is what is left, not the original limit.
	series := models.RecurrenceRule{IntervalDays: rec.Rule.IntervalDays}
	if remaining > 0 {
		series.OccurrenceLimit = remaining
	}
	// rrule works on whole seconds; the sub-second part is added back to each occurrence.
	start := rec.TriggerTime.Truncate(time.Second)
	frac := rec.TriggerTime.Sub(start)
	r, err := RRule(series, start)
	if err != nil {
		return nil, err
	}

	next := r.Iterator()
	var out []time.Time
	for len(out) < n {
		t, ok := next()
		if !ok {
			break
		}
		out = append(out, t.Add(frac))
	}
	return out, nil
}

// Describe returns a short English description of the rule.
func Describe(rec *models.Reminder) string {
	if rec == nil || !rec.IsRecurring() {
		return "once"
	}
	var b strings.Builder
	if rec.Rule.IntervalDays == 1 {
		b.WriteString("every day")
	} else if rec.Rule.IntervalDays%7 == 0 {
		weeks := rec.Rule.IntervalDays / 7
		if weeks == 1 {
			b.WriteString("every week")
		} else {
			fmt.Fprintf(&b, "every %d weeks", weeks)
		}
	} else {
		fmt.Fprintf(&b, "every %d days", rec.Rule.IntervalDays)
	}
	switch lim := rec.Rule.OccurrenceLimit; {
	case lim == 1:
		b.WriteString(", 1 time")
	case lim > 1:
		fmt.Fprintf(&b, ", %d times", lim)
	}
	return b.String()
}
