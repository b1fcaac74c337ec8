package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hray3182/crm-reminders/internal/models"
	"github.com/hray3182/crm-reminders/internal/reminder"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore is the Store for single-node deployments. Timestamps are unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes the version checks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	if err := addMissingColumns(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteAddedColumns lists columns newer than the first schema, in the order they were added.
var sqliteAddedColumns = []struct{ name, ddl string }{
	{"last_trigger_time", "ALTER TABLE reminders ADD COLUMN last_trigger_time INTEGER"},
}

func addMissingColumns(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info('reminders')")
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		have[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, col := range sqliteAddedColumns {
		if have[col.name] {
			continue
		}
		if _, err := db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *models.Reminder) error {
	rec.Version = 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (`+reminderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, nullStr(rec.AssigneeID), string(rec.RelatedModule), rec.ReferenceID, rec.ReferenceName,
		rec.CustomerName, rec.CustomerEmail, rec.Message, rec.TriggerTime.UnixNano(), rec.Recurring,
		rec.Rule.IntervalDays, rec.Rule.OccurrenceLimit, rec.CurrentCount, rec.Sent, rec.NotifyCustomerByEmail,
		nullNanos(rec.LastFiredAt), nullNanos(rec.LastTriggerTime), rec.Version, rec.CreatedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanSQLite(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, reminder.ErrNotFound
	}
	return recs[0], nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *models.Reminder) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET owner_id = ?, assignee_id = ?, related_module = ?, reference_id = ?,
		 reference_name = ?, customer_name = ?, customer_email = ?, message = ?, trigger_time = ?,
		 recurring = ?, repeat_days = ?, recursion_limit = ?, current_count = ?, sent = ?,
		 notify_customer_by_email = ?, last_fired_at = ?, last_trigger_time = ?, updated_at = ?,
		 version = version + 1
		 WHERE id = ? AND version = ?`,
		rec.OwnerID, nullStr(rec.AssigneeID), string(rec.RelatedModule), rec.ReferenceID, rec.ReferenceName,
		rec.CustomerName, rec.CustomerEmail, rec.Message, rec.TriggerTime.UnixNano(), rec.Recurring,
		rec.Rule.IntervalDays, rec.Rule.OccurrenceLimit, rec.CurrentCount, rec.Sent,
		rec.NotifyCustomerByEmail, nullNanos(rec.LastFiredAt), nullNanos(rec.LastTriggerTime),
		rec.UpdatedAt.UnixNano(), rec.ID, rec.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reminders WHERE id = ?`, rec.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return reminder.ErrConflict
		}
		return reminder.ErrNotFound
	}
	rec.Version++
	return nil
}

func (s *SQLiteStore) FindDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE sent = 0 AND trigger_time <= ?
		 ORDER BY trigger_time ASC, id ASC`,
		now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLite(rows)
}

func (s *SQLiteStore) List(ctx context.Context, f reminder.Filter) ([]*models.Reminder, error) {
	where, args := filterClause(f, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders`+where+` ORDER BY trigger_time ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLite(rows)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reminder.ErrNotFound
	}
	return nil
}

func scanSQLite(rows *sql.Rows) ([]*models.Reminder, error) {
	var out []*models.Reminder
	for rows.Next() {
		rec := &models.Reminder{}
		var (
			module                    string
			assignee                  sql.NullString
			trigger, created, updated int64
			lastFired, lastTrigger    sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &assignee, &module, &rec.ReferenceID,
			&rec.ReferenceName, &rec.CustomerName, &rec.CustomerEmail, &rec.Message, &trigger,
			&rec.Recurring, &rec.Rule.IntervalDays, &rec.Rule.OccurrenceLimit, &rec.CurrentCount,
			&rec.Sent, &rec.NotifyCustomerByEmail, &lastFired, &lastTrigger, &rec.Version, &created,
			&updated); err != nil {
			return nil, err
		}
		rec.RelatedModule = models.RelatedModule(module)
		if assignee.Valid {
			v := assignee.String
			rec.AssigneeID = &v
		}
		rec.TriggerTime = time.Unix(0, trigger)
		rec.CreatedAt = time.Unix(0, created)
		rec.UpdatedAt = time.Unix(0, updated)
		if lastFired.Valid {
			t := time.Unix(0, lastFired.Int64)
			rec.LastFiredAt = &t
		}
		if lastTrigger.Valid {
			t := time.Unix(0, lastTrigger.Int64)
			rec.LastTriggerTime = &t
		}
		normalizeLoaded(rec)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
