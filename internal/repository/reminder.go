package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/crm-reminders/internal/database"
	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/recurrence"
	"github.com/hray3182/crm-reminders/internal/reminder"
)

const reminderColumns = `id, owner_id, assignee_id, related_module, reference_id, reference_name,
	customer_name, customer_email, message, trigger_time, recurring, repeat_days, recursion_limit,
	current_count, sent, notify_customer_by_email, last_fired_at, last_trigger_time, version, created_at, updated_at`

// ReminderRepository is the postgres Store.
type ReminderRepository struct {
	db *database.DB
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func (r *ReminderRepository) Insert(ctx context.Context, rec *models.Reminder) error {
	rec.Version = 1
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO reminders (`+reminderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		rec.ID, rec.OwnerID, rec.AssigneeID, string(rec.RelatedModule), rec.ReferenceID, rec.ReferenceName,
		rec.CustomerName, rec.CustomerEmail, rec.Message, rec.TriggerTime, rec.Recurring, rec.Rule.IntervalDays,
		rec.Rule.OccurrenceLimit, rec.CurrentCount, rec.Sent, rec.NotifyCustomerByEmail, rec.LastFiredAt,
		rec.LastTriggerTime, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (r *ReminderRepository) Load(ctx context.Context, id string) (*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanReminders(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, reminder.ErrNotFound
	}
	return recs[0], nil
}

// Save writes rec only if the stored version still matches rec.Version.
func (r *ReminderRepository) Save(ctx context.Context, rec *models.Reminder) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET owner_id = $1, assignee_id = $2, related_module = $3, reference_id = $4,
		 reference_name = $5, customer_name = $6, customer_email = $7, message = $8, trigger_time = $9,
		 recurring = $10, repeat_days = $11, recursion_limit = $12, current_count = $13, sent = $14,
		 notify_customer_by_email = $15, last_fired_at = $16, last_trigger_time = $17, updated_at = $18,
		 version = version + 1
		 WHERE id = $19 AND version = $20`,
		rec.OwnerID, rec.AssigneeID, string(rec.RelatedModule), rec.ReferenceID, rec.ReferenceName,
		rec.CustomerName, rec.CustomerEmail, rec.Message, rec.TriggerTime, rec.Recurring,
		rec.Rule.IntervalDays, rec.Rule.OccurrenceLimit, rec.CurrentCount, rec.Sent,
		rec.NotifyCustomerByEmail, rec.LastFiredAt, rec.LastTriggerTime, rec.UpdatedAt, rec.ID, rec.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, rec.ID)
	}
	rec.Version++
	return nil
}

func (r *ReminderRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM reminders WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return reminder.ErrConflict
	}
	return reminder.ErrNotFound
}

func (r *ReminderRepository) FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE sent = FALSE AND trigger_time <= $1
		 ORDER BY trigger_time ASC, id ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

func (r *ReminderRepository) List(ctx context.Context, f reminder.Filter) ([]*models.Reminder, error) {
	where, args := filterClause(f, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders`+where+` ORDER BY trigger_time ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

func (r *ReminderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return reminder.ErrNotFound
	}
	return nil
}

// filterClause builds a WHERE clause for f; placeholder renders the n-th bind parameter.
func filterClause(f reminder.Filter, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", placeholder(len(args)), 1))
	}
	if !f.IncludeSent {
		conds = append(conds, "sent = FALSE")
	}
	if f.OwnerID != "" {
		add("owner_id = ?", f.OwnerID)
	}
	if f.RelatedModule != "" {
		add("related_module = ?", string(f.RelatedModule))
	}
	if f.ReferenceID != "" {
		add("reference_id = ?", f.ReferenceID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanReminders(rows pgx.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		rec := &models.Reminder{}
		var module string
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.AssigneeID, &module, &rec.ReferenceID,
			&rec.ReferenceName, &rec.CustomerName, &rec.CustomerEmail, &rec.Message, &rec.TriggerTime,
			&rec.Recurring, &rec.Rule.IntervalDays, &rec.Rule.OccurrenceLimit, &rec.CurrentCount,
			&rec.Sent, &rec.NotifyCustomerByEmail, &rec.LastFiredAt, &rec.LastTriggerTime, &rec.Version,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.RelatedModule = models.RelatedModule(module)
		normalizeLoaded(rec)
		reminders = append(reminders, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reminders, nil
}

// normalizeLoaded maps legacy stored values onto the canonical model.
func normalizeLoaded(rec *models.Reminder) {
	rec.Rule.OccurrenceLimit = recurrence.FromWireLimit(rec.Rule.OccurrenceLimit)
	if !rec.Recurring {
		rec.Rule = models.RecurrenceRule{}
	}
}
