// Package memory is an in-process storage backend with the same contract as
// the networked ones. It backs tests and memory:// development runs.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
	"github.com/talkmate/companion/internal/repository/conn"
)

type store struct {
	mu            sync.RWMutex
	users         map[string]model.User // by username
	conversations []model.ConversationLog
	reminders     []model.Reminder
}

// Gateway implements repository.Gateway in memory.
type Gateway struct {
	lazy *conn.Lazy[*store]
}

var _ repository.Gateway = (*Gateway)(nil)

// New returns an empty gateway.
func New() *Gateway {
	s := &store{users: map[string]model.User{}}
	return &Gateway{lazy: conn.NewLazy(
		func(context.Context) (*store, error) { return s, nil },
		func(context.Context, *store) error { return nil },
		0,
	)}
}

func newID() string { return uuid.Must(uuid.NewV4()).String() }

// Ping reports whether the gateway is still open.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.lazy.Get(ctx)
	return err
}

// Close marks the gateway closed.
func (g *Gateway) Close(ctx context.Context) error { return g.lazy.Close(ctx) }

// CreateUser inserts a user unless the username is taken.
func (g *Gateway) CreateUser(ctx context.Context, username, hashedPassword string) (string, error) {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return "", errs.ErrAlreadyExists
	}
	u := model.User{ID: newID(), Username: username, HashedPassword: hashedPassword, CreatedAt: time.Now().UTC()}
	s.users[username] = u
	return u.ID, nil
}

// FindUser looks a user up by username.
func (g *Gateway) FindUser(ctx context.Context, username string) (model.User, bool, error) {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return model.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok, nil
}

// AppendConversation stores a copy of log unless it has no messages.
func (g *Gateway) AppendConversation(ctx context.Context, log model.ConversationLog) error {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	if len(log.Messages) == 0 {
		return nil
	}
	log.ID = newID()
	log.Messages = slices.Clone(log.Messages)
	s.mu.Lock()
	s.conversations = append(s.conversations, log)
	s.mu.Unlock()
	return nil
}

// newestLogs returns userID's logs newest first; equal timestamps keep later inserts first.
func (s *store) newestLogs(userID string, limit int) []model.ConversationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ConversationLog
	for i := len(s.conversations) - 1; i >= 0; i-- {
		if s.conversations[i].UserID == userID {
			out = append(out, s.conversations[i])
		}
	}
	slices.SortStableFunc(out, func(a, b model.ConversationLog) int { return b.Timestamp.Compare(a.Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecentConversations returns up to limit logs of userID, newest first.
func (g *Gateway) RecentConversations(ctx context.Context, userID string, limit int) ([]model.ConversationLog, error) {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	logs := s.newestLogs(userID, limit)
	for i := range logs {
		logs[i].Messages = slices.Clone(logs[i].Messages)
	}
	return logs, nil
}

// ListConversations returns up to limit summaries of userID, newest first.
func (g *Gateway) ListConversations(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	logs := s.newestLogs(userID, limit)
	out := make([]model.ConversationSummary, 0, len(logs))
	for _, l := range logs {
		out = append(out, model.ConversationSummary{ID: l.ID, Timestamp: l.Timestamp, Summary: l.Summary})
	}
	return out, nil
}

// ScheduleReminder stores r and returns its new id.
func (g *Gateway) ScheduleReminder(ctx context.Context, r model.Reminder) (string, error) {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return "", err
	}
	r.ID = newID()
	s.mu.Lock()
	s.reminders = append(s.reminders, r)
	s.mu.Unlock()
	return r.ID, nil
}

// DueReminders returns pending reminders whose time has come, earliest first.
func (g *Gateway) DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []model.Reminder
	for _, r := range s.reminders {
		if r.IsDue(now) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b model.Reminder) int { return a.RemindTime.Compare(b.RemindTime) })
	if len(out) > repository.DueBatchSize {
		out = out[:repository.DueBatchSize]
	}
	return out, nil
}

// SetReminderStatus updates one reminder by id.
func (g *Gateway) SetReminderStatus(ctx context.Context, id string, status model.ReminderStatus) error {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reminders {
		if s.reminders[i].ID == id {
			s.reminders[i].Status = status
			return nil
		}
	}
	return errs.ErrNotFound
}

// ListUserReminders returns up to limit reminders of userID, latest remind time first.
func (g *Gateway) ListUserReminders(ctx context.Context, userID string, limit int) ([]model.Reminder, error) {
	s, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []model.Reminder
	for _, r := range s.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b model.Reminder) int { return b.RemindTime.Compare(a.RemindTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
