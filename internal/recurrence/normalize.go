package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hray3182/crm-reminders/internal/models"
)

// LegacyUnlimited is the limit value older console records use for "no limit".
// It only exists at the serialization boundary; the canonical model uses 0.
const LegacyUnlimited = 1000

var (
	ErrInvalidInterval = errors.New("repeat interval must be a whole number of days >= 1")
	ErrInvalidLimit    = errors.New("recursion limit must be a whole number >= 0")
)

var intervalPresets = map[string]int{
	"daily":     1,
	"weekly":    7,
	"biweekly":  14,
	"monthly":   30,
	"quarterly": 90,
	"yearly":    365,
}

var limitPresets = map[string]int{
	"":          LegacyUnlimited,
	"unlimited": LegacyUnlimited,
	"forever":   LegacyUnlimited,
}

// Normalize turns raw interval/limit values into a canonical rule.
func Normalize(interval, limit int) (models.RecurrenceRule, error) {
	if interval < 1 {
		return models.RecurrenceRule{}, fmt.Errorf("%w: got %d", ErrInvalidInterval, interval)
	}
	if limit < 0 {
		return models.RecurrenceRule{}, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	return models.RecurrenceRule{
		IntervalDays:    interval,
		OccurrenceLimit: FromWireLimit(limit),
	}, nil
}

// NormalizeInput parses the dropdown values (preset names or custom integers) and normalizes them.
func NormalizeInput(intervalRaw, limitRaw string) (models.RecurrenceRule, error) {
	interval, err := ParseInterval(intervalRaw)
	if err != nil {
		return models.RecurrenceRule{}, err
	}
	limit, err := ParseLimit(limitRaw)
	if err != nil {
		return models.RecurrenceRule{}, err
	}
	return Normalize(interval, limit)
}

// ParseInterval resolves a preset name ("weekly") or a decimal day count.
func ParseInterval(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if v, ok := intervalPresets[s]; ok {
		return v, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
	return n, nil
}

// ParseLimit resolves "unlimited" (or empty) to the legacy sentinel, otherwise a decimal count.
func ParseLimit(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if v, ok := limitPresets[s]; ok {
		return v, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	return n, nil
}

// FromWireLimit maps a stored or transmitted recursionLimit to the canonical value.
func FromWireLimit(limit int) int {
	if limit == LegacyUnlimited {
		return 0
	}
	return limit
}

// WireLimit maps the canonical limit back to what existing consumers expect.
func WireLimit(rule models.RecurrenceRule) int {
	if rule.Unlimited() {
		return LegacyUnlimited
	}
	return rule.OccurrenceLimit
}
