package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
)

// DefaultReminderListLimit caps ListForUser when no limit is given.
const DefaultReminderListLimit = 50

// ReminderService schedules reminders and serves the delivery poller.
type ReminderService interface {
	// Schedule validates and stores a reminder. Validation problems are
	// returned; a storage failure is logged and reported as ok == false.
	Schedule(ctx context.Context, userID, typ, remindTime, message string) (ok bool, err error)
	// Due returns the next batch of reminders to deliver.
	Due(ctx context.Context) []model.Reminder
	// MarkStatus records a delivery outcome. Failures are logged only.
	MarkStatus(ctx context.Context, id string, status model.ReminderStatus)
	// ListForUser returns a user's reminders, latest remind time first.
	ListForUser(ctx context.Context, userID string, limit int) []model.Reminder
}

type ReminderServiceImpl struct {
	reminders repository.ReminderRepository
	log       *zap.Logger
	now       func() time.Time
}

var _ ReminderService = (*ReminderServiceImpl)(nil)

// NewReminderService constructs ReminderService.
func NewReminderService(reminders repository.ReminderRepository, log *zap.Logger) *ReminderServiceImpl {
	return &ReminderServiceImpl{reminders: reminders, log: log, now: time.Now}
}

func (s *ReminderServiceImpl) Schedule(ctx context.Context, userID, typ, remindTime, message string) (bool, error) {
	r, err := model.NewReminder(userID, typ, remindTime, message, s.now())
	if err != nil {
		return false, err
	}
	id, err := s.reminders.ScheduleReminder(ctx, r)
	if err != nil {
		s.log.Error("schedule reminder", zap.String("user_id", userID), zap.Error(err))
		return false, nil
	}
	s.log.Info("reminder scheduled",
		zap.String("id", id),
		zap.String("user_id", userID),
		zap.Time("remind_time", r.RemindTime),
	)
	return true, nil
}

func (s *ReminderServiceImpl) Due(ctx context.Context) []model.Reminder {
	due, err := s.reminders.DueReminders(ctx, s.now())
	if err != nil {
		s.log.Error("due reminders", zap.Error(err))
		return []model.Reminder{}
	}
	if due == nil {
		due = []model.Reminder{}
	}
	return due
}

func (s *ReminderServiceImpl) MarkStatus(ctx context.Context, id string, status model.ReminderStatus) {
	err := s.reminders.SetReminderStatus(ctx, id, status)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNotFound):
		s.log.Warn("reminder status: unknown id", zap.String("id", id))
	default:
		s.log.Error("reminder status", zap.String("id", id), zap.String("status", string(status)), zap.Error(err))
	}
}

func (s *ReminderServiceImpl) ListForUser(ctx context.Context, userID string, limit int) []model.Reminder {
	if limit <= 0 {
		limit = DefaultReminderListLimit
	}
	list, err := s.reminders.ListUserReminders(ctx, userID, limit)
	if err != nil {
		s.log.Error("list reminders", zap.String("user_id", userID), zap.Error(err))
		return []model.Reminder{}
	}
	if list == nil {
		list = []model.Reminder{}
	}
	return list
}
