package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
)

var reminderColumns = []string{"id", "user_id", "type", "remind_time", "message", "status", "created_at"}

func TestReminderRepo_Schedule(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReminderRepo(db)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	created := at.Add(-time.Hour)

	mock.ExpectExec(`INSERT INTO reminders \(id, user_id, type, remind_time, message, status, created_at\)`).
		WithArgs(pgxmock.AnyArg(), "u", "call", at, "stretch", "pending", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := r.ScheduleReminder(context.Background(), model.Reminder{
		UserID: "u", Type: model.ReminderCall, RemindTime: at, Message: "stretch", Status: model.StatusPending, CreatedAt: created,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderRepo_Due(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReminderRepo(db)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, user_id, type, remind_time, message, status, created_at FROM reminders WHERE status=\$1 AND remind_time <= \$2 ORDER BY remind_time ASC LIMIT \$3`).
		WithArgs("pending", now, int64(repository.DueBatchSize)).
		WillReturnRows(pgxmock.NewRows(reminderColumns).
			AddRow(id, "u", "sms", now.Add(-time.Hour), "water plants", "pending", now.Add(-2*time.Hour)))

	due, err := r.DueReminders(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, id.String(), due[0].ID)
	require.Equal(t, model.ReminderSMS, due[0].Type)
	require.Equal(t, model.StatusPending, due[0].Status)
	require.True(t, due[0].IsDue(now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderRepo_SetStatus(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReminderRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE reminders SET status=\$2 WHERE id=\$1`).
		WithArgs(id, "sent").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetReminderStatus(ctx, id.String(), model.StatusSent))

	mock.ExpectExec(`UPDATE reminders SET status=\$2 WHERE id=\$1`).
		WithArgs(id, "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetReminderStatus(ctx, id.String(), model.StatusFailed), errs.ErrNotFound)

	require.ErrorIs(t, r.SetReminderStatus(ctx, "nope", model.StatusSent), errs.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderRepo_ListForUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReminderRepo(db)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := int64(50)

	mock.ExpectQuery(`SELECT id, user_id, type, remind_time, message, status, created_at FROM reminders WHERE user_id=\$1 ORDER BY remind_time DESC LIMIT \$2`).
		WithArgs("u", &limit).
		WillReturnRows(pgxmock.NewRows(reminderColumns).
			AddRow(uuid.Must(uuid.NewV4()), "u", "call", now.Add(time.Hour), "later", "pending", now).
			AddRow(uuid.Must(uuid.NewV4()), "u", "sms", now.Add(-time.Hour), "earlier", "sent", now))

	list, err := r.ListUserReminders(context.Background(), "u", 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "later", list[0].Message)
	require.Equal(t, model.StatusSent, list[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
