// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/talkmate/companion/internal/model"
)

// DueBatchSize bounds a single DueReminders result.
const DueBatchSize = 100

// UserRepository provides access to user accounts.
type UserRepository interface {
	// CreateUser inserts a new user. A taken username yields errs.ErrAlreadyExists
	// and leaves the existing record untouched.
	CreateUser(ctx context.Context, username, hashedPassword string) (string, error)
	// FindUser loads a user by username. A missing user is (zero, false, nil).
	FindUser(ctx context.Context, username string) (model.User, bool, error)
}

// ConversationRepository stores append-only conversation logs.
type ConversationRepository interface {
	// AppendConversation stores log; logs without messages are ignored.
	AppendConversation(ctx context.Context, log model.ConversationLog) error
	// RecentConversations returns up to limit logs of userID, newest first.
	RecentConversations(ctx context.Context, userID string, limit int) ([]model.ConversationLog, error)
	// ListConversations returns up to limit summaries of userID, newest first.
	ListConversations(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error)
}

// ReminderRepository stores scheduled reminders.
type ReminderRepository interface {
	// ScheduleReminder stores r and returns its id.
	ScheduleReminder(ctx context.Context, r model.Reminder) (string, error)
	// DueReminders returns at most DueBatchSize pending reminders with RemindTime <= now.
	DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error)
	// SetReminderStatus updates the status of one reminder.
	SetReminderStatus(ctx context.Context, id string, status model.ReminderStatus) error
	// ListUserReminders returns up to limit reminders of userID, latest remind time first.
	ListUserReminders(ctx context.Context, userID string, limit int) ([]model.Reminder, error)
}

// Gateway is a complete storage backend.
type Gateway interface {
	UserRepository
	ConversationRepository
	ReminderRepository
	// Ping forces initialisation and checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection. Later calls fail with errs.ErrClosed.
	Close(ctx context.Context) error
}
