package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
)

// Default read sizes for conversation memory.
const (
	DefaultContextLimit = 3
	DefaultHistoryLimit = 20
)

// MemoryService keeps long-term conversation memory per user.
type MemoryService interface {
	// SaveConversation stores a finished conversation; empty ones are skipped.
	SaveConversation(ctx context.Context, userID string, messages []model.Message, summary string) error
	// RecentContext renders the latest conversations, oldest first, as "role: content" lines.
	RecentContext(ctx context.Context, userID string, limit int) string
	// History lists conversation summaries, newest first.
	History(ctx context.Context, userID string, limit int) []model.ConversationSummary
}

type MemoryServiceImpl struct {
	convs repository.ConversationRepository
	log   *zap.Logger
	now   func() time.Time
}

var _ MemoryService = (*MemoryServiceImpl)(nil)

// NewMemoryService constructs MemoryService.
func NewMemoryService(convs repository.ConversationRepository, log *zap.Logger) *MemoryServiceImpl {
	return &MemoryServiceImpl{convs: convs, log: log, now: time.Now}
}

func (s *MemoryServiceImpl) SaveConversation(ctx context.Context, userID string, messages []model.Message, summary string) error {
	if len(messages) == 0 {
		return nil
	}
	log, err := model.NewConversationLog(userID, messages, summary, s.now())
	if err != nil {
		return err
	}
	return s.convs.AppendConversation(ctx, log)
}

func (s *MemoryServiceImpl) RecentContext(ctx context.Context, userID string, limit int) string {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	logs, err := s.convs.RecentConversations(ctx, userID, limit)
	if err != nil {
		s.log.Warn("recent context unavailable", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	// Storage returns newest first; the prompt reads oldest first.
	slices.Reverse(logs)
	return RenderContext(logs)
}

// RenderContext flattens logs into one "role: content" line per message.
func RenderContext(logs []model.ConversationLog) string {
	var b strings.Builder
	for _, l := range logs {
		for _, m := range l.Messages {
			role := m.Role
			if role == "" {
				role = "unknown"
			}
			b.WriteString(role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (s *MemoryServiceImpl) History(ctx context.Context, userID string, limit int) []model.ConversationSummary {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	list, err := s.convs.ListConversations(ctx, userID, limit)
	if err != nil {
		s.log.Warn("history unavailable", zap.String("user_id", userID), zap.Error(err))
		return []model.ConversationSummary{}
	}
	if list == nil {
		list = []model.ConversationSummary{}
	}
	return list
}
