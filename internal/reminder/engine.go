package reminder

import (
	"time"

	"github.com/hray3182/crm-reminders/internal/models"
)

// StateOf derives the scheduling state of rec at now.
func StateOf(rec *models.Reminder, now time.Time) models.State {
	switch {
	case rec.Sent:
		return models.StateTerminal
	case IsDue(rec, now):
		return models.StateDue
	default:
		return models.StatePending
	}
}

// IsDue reports whether rec should fire at now.
func IsDue(rec *models.Reminder, now time.Time) bool {
	return !rec.Sent && !now.Before(rec.TriggerTime)
}

// IsOverdue is the display flag: not sent and strictly past its trigger time.
func IsOverdue(rec *models.Reminder, now time.Time) bool {
	return !rec.Sent && now.After(rec.TriggerTime)
}

// Fire records one occurrence of rec and returns the next state, advancing in
// the zone TriggerTime carries. See FireIn.
func Fire(rec *models.Reminder, now time.Time) (*models.Reminder, error) {
	return FireIn(rec, now, nil)
}

// FireIn records one occurrence of rec and returns the next state.
//
// A recurring reminder advances by exactly one interval from its previous
// trigger time, so the series stays T0, T0+k, T0+2k... no matter how late the
// firing is processed. When that still leaves it due, the caller evaluates it
// again rather than FireIn skipping intervals.
//
// Days are added on the wall clock of loc, so a 09:00 series stays at 09:00
// across DST changes regardless of the zone the store returned. A nil loc
// uses the zone of rec.TriggerTime.
func FireIn(rec *models.Reminder, now time.Time, loc *time.Location) (*models.Reminder, error) {
	if rec.Sent {
		return nil, ErrTerminalRecord
	}
	out := rec.Clone()
	out.CurrentCount++
	fired := now
	out.LastFiredAt = &fired
	nominal := rec.TriggerTime
	out.LastTriggerTime = &nominal
	out.UpdatedAt = now

	if !out.IsRecurring() {
		out.Sent = true
		return out, nil
	}
	if out.Rule.OccurrenceLimit > 0 && out.CurrentCount >= out.Rule.OccurrenceLimit {
		out.Sent = true
		return out, nil
	}
	base := out.TriggerTime
	if loc != nil {
		base = base.In(loc)
	}
	out.TriggerTime = base.AddDate(0, 0, out.Rule.IntervalDays)
	return out, nil
}

// Behind reports whether a just-fired reminder is still due, i.e. processing
// fell more than one interval behind.
func Behind(rec *models.Reminder, now time.Time) bool {
	return IsDue(rec, now)
}
