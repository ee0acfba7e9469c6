package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"sugarbot/internal/reminder"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Store is the sqlite-backed persistence layer. It implements
// reminder.Store for the scheduling core and carries the write operations
// the API layer uses.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- reads (reminder.Store) ----

const reminderCols = `id, owner_id, org_id, kind, title, time_of_day, days_mask, interval_minutes, offset_minutes, is_enabled`

func (s *Store) GetReminder(ctx context.Context, id int64) (*reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReminders loads the whole table with owner context joined in: one
// query regardless of table size, no per-row user lookups.
func (s *Store) ListReminders(ctx context.Context) ([]reminder.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.owner_id, r.org_id, r.kind, r.title, r.time_of_day, r.days_mask,
		       r.interval_minutes, r.offset_minutes, r.is_enabled,
		       u.chat_id, u.timezone, u.quiet_start, u.quiet_end
		FROM reminders r
		JOIN users u ON u.id = r.owner_id
		ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Row
	for rows.Next() {
		var (
			r       reminder.Reminder
			kind    string
			tod     sql.NullString
			days    int
			enabled int
			chatID  int64
			tz      string
			qs, qe  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.OrgID, &kind, &r.Title, &tod, &days,
			&r.IntervalMinutes, &r.OffsetMinutes, &enabled,
			&chatID, &tz, &qs, &qe); err != nil {
			return nil, err
		}
		r.Kind = reminder.Kind(kind)
		r.Days = reminder.Weekdays(days)
		r.Enabled = enabled != 0
		if err := applyTimeOfDay(&r, tod); err != nil {
			// Keep the row in the result; the reconciler rejects it per-row
			// instead of this query aborting the whole pass.
			s.log.Warn().Int64("reminder_id", r.ID).Err(err).Msg("bad time_of_day in row")
		}
		uctx := reminder.UserScheduleContext{ChatID: chatID, Timezone: tz}
		applyQuiet(&uctx, qs, qe)
		out = append(out, reminder.Row{Reminder: r, User: uctx})
	}
	return out, rows.Err()
}

func (s *Store) GetUserContext(ctx context.Context, ownerID int64) (reminder.UserScheduleContext, error) {
	var (
		uctx   reminder.UserScheduleContext
		qs, qe sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, timezone, quiet_start, quiet_end FROM users WHERE id = ?`, ownerID).
		Scan(&uctx.ChatID, &uctx.Timezone, &qs, &qe)
	if errors.Is(err, sql.ErrNoRows) {
		return uctx, fmt.Errorf("user %d: %w", ownerID, reminder.ErrNotFound)
	}
	if err != nil {
		return uctx, err
	}
	applyQuiet(&uctx, qs, qe)
	return uctx, nil
}

func (s *Store) RecordTriggerLog(ctx context.Context, e reminder.TriggerLog) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trigger_log(reminder_id, owner_id, action, snooze_minutes, at) VALUES(?,?,?,?,?)`,
		e.ReminderID, e.OwnerID, e.Action, e.SnoozeMinutes, e.At.Format(timeLayout))
	return err
}

// ---- writes (API layer's side of the contract) ----

// UpsertUser stores or refreshes a user's schedule context.
func (s *Store) UpsertUser(ctx context.Context, id int64, uctx reminder.UserScheduleContext) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(id, chat_id, timezone, quiet_start, quiet_end) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET chat_id=excluded.chat_id, timezone=excluded.timezone,
			quiet_start=excluded.quiet_start, quiet_end=excluded.quiet_end`,
		id, uctx.ChatID, defaultTZ(uctx.Timezone), todNull(uctx.QuietStart), todNull(uctx.QuietEnd))
	return err
}

// SaveReminder inserts (ID == 0) or updates a reminder row and returns its
// id. Every save is paired with a Notifier signal by the caller.
func (s *Store) SaveReminder(ctx context.Context, r *reminder.Reminder) (int64, error) {
	now := time.Now().UTC().Format(timeLayout)
	if r.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO reminders(owner_id, org_id, kind, title, time_of_day, days_mask, interval_minutes, offset_minutes, is_enabled, created_at, updated_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			r.OwnerID, r.OrgID, string(r.Kind), r.Title, todNull(r.TimeOfDay), int(r.Days), r.IntervalMinutes, r.OffsetMinutes, boolInt(r.Enabled), now, now)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		r.ID = id
		return id, nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET owner_id=?, org_id=?, kind=?, title=?, time_of_day=?, days_mask=?, interval_minutes=?, offset_minutes=?, is_enabled=?, updated_at=?
		WHERE id=?`,
		r.OwnerID, r.OrgID, string(r.Kind), r.Title, todNull(r.TimeOfDay), int(r.Days), r.IntervalMinutes, r.OffsetMinutes, boolInt(r.Enabled), now, r.ID)
	return r.ID, err
}

func (s *Store) DeleteReminder(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET is_enabled=?, updated_at=? WHERE id=?`,
		boolInt(enabled), time.Now().UTC().Format(timeLayout), id)
	return err
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*reminder.Reminder, error) {
	var (
		r       reminder.Reminder
		kind    string
		tod     sql.NullString
		days    int
		enabled int
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.OrgID, &kind, &r.Title, &tod, &days, &r.IntervalMinutes, &r.OffsetMinutes, &enabled); err != nil {
		return nil, err
	}
	r.Kind = reminder.Kind(kind)
	r.Days = reminder.Weekdays(days)
	r.Enabled = enabled != 0
	if err := applyTimeOfDay(&r, tod); err != nil {
		// Data error, not a transient storage failure: the reconciler
		// removes the row's job instead of retrying.
		return nil, fmt.Errorf("reminder %d: %w: %v", r.ID, reminder.ErrBadScheduleData, err)
	}
	return &r, nil
}

func applyTimeOfDay(r *reminder.Reminder, tod sql.NullString) error {
	if !tod.Valid || strings.TrimSpace(tod.String) == "" {
		return nil
	}
	t, err := reminder.ParseTimeOfDay(tod.String)
	if err != nil {
		return err
	}
	r.TimeOfDay = &t
	return nil
}

func applyQuiet(uctx *reminder.UserScheduleContext, qs, qe sql.NullString) {
	// The quiet window only exists with both edges present and parseable.
	if !qs.Valid || !qe.Valid {
		return
	}
	start, err := reminder.ParseTimeOfDay(qs.String)
	if err != nil {
		return
	}
	end, err := reminder.ParseTimeOfDay(qe.String)
	if err != nil {
		return
	}
	uctx.QuietStart = &start
	uctx.QuietEnd = &end
}

func todNull(t *reminder.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func defaultTZ(tz string) string {
	if strings.TrimSpace(tz) == "" {
		return "UTC"
	}
	return tz
}

var _ reminder.Store = (*Store)(nil)
