package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
)

// ReminderRepo implements ReminderRepository using PostgreSQL.
type ReminderRepo struct{ db *DB }

// NewReminderRepo constructs a reminder repository.
func NewReminderRepo(db *DB) *ReminderRepo { return &ReminderRepo{db: db} }

const reminderCols = `id, user_id, type, remind_time, message, status, created_at`

// ScheduleReminder inserts r and returns its new id.
func (r *ReminderRepo) ScheduleReminder(ctx context.Context, rem model.Reminder) (string, error) {
	const q = `
INSERT INTO reminders (` + reminderCols + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	id := uuid.Must(uuid.NewV4())
	_, err := r.db.Pool.Exec(ctx, q, id, rem.UserID, string(rem.Type), rem.RemindTime.UTC(),
		rem.Message, string(rem.Status), rem.CreatedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("insert reminder: %w", err)
	}
	return id.String(), nil
}

// DueReminders returns pending reminders with remind_time <= now, earliest first.
func (r *ReminderRepo) DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	const q = `
SELECT ` + reminderCols + `
FROM reminders WHERE status=$1 AND remind_time <= $2
ORDER BY remind_time ASC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, string(model.StatusPending), now.UTC(), int64(repository.DueBatchSize))
	if err != nil {
		return nil, fmt.Errorf("select due reminders: %w", err)
	}
	return scanReminders(rows)
}

// SetReminderStatus updates a single reminder by id.
func (r *ReminderRepo) SetReminderStatus(ctx context.Context, id string, status model.ReminderStatus) error {
	rid, err := uuid.FromString(id)
	if err != nil {
		return errs.Validationf("malformed reminder id %q", id)
	}
	const q = `UPDATE reminders SET status=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, rid, string(status))
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListUserReminders returns up to limit reminders of userID, latest remind time first.
func (r *ReminderRepo) ListUserReminders(ctx context.Context, userID string, limit int) ([]model.Reminder, error) {
	const q = `
SELECT ` + reminderCols + `
FROM reminders WHERE user_id=$1
ORDER BY remind_time DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select reminders: %w", err)
	}
	return scanReminders(rows)
}

func scanReminders(rows pgx.Rows) ([]model.Reminder, error) {
	defer rows.Close()
	var out []model.Reminder
	for rows.Next() {
		var (
			rem         model.Reminder
			id          uuid.UUID
			typ, status string
			at, created time.Time
		)
		if err := rows.Scan(&id, &rem.UserID, &typ, &at, &rem.Message, &status, &created); err != nil {
			return nil, err
		}
		rem.ID = id.String()
		rem.Type = model.ReminderType(typ)
		rem.Status = model.ReminderStatus(status)
		rem.RemindTime, rem.CreatedAt = at.UTC(), created.UTC()
		out = append(out, rem)
	}
	return out, rows.Err()
}
