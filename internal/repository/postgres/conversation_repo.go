package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/talkmate/companion/internal/model"
)

// ConversationRepo implements ConversationRepository using PostgreSQL.
type ConversationRepo struct{ db *DB }

// NewConversationRepo constructs a conversation repository.
func NewConversationRepo(db *DB) *ConversationRepo { return &ConversationRepo{db: db} }

// AppendConversation inserts log; logs without messages are skipped.
func (r *ConversationRepo) AppendConversation(ctx context.Context, log model.ConversationLog) error {
	if len(log.Messages) == 0 {
		return nil
	}
	msgs, err := json.Marshal(log.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	const q = `
INSERT INTO conversations (id, user_id, messages, summary, ts)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.Pool.Exec(ctx, q, uuid.Must(uuid.NewV4()), log.UserID, msgs, log.Summary, log.Timestamp.UTC()); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// RecentConversations returns up to limit logs of userID, newest first.
func (r *ConversationRepo) RecentConversations(ctx context.Context, userID string, limit int) ([]model.ConversationLog, error) {
	const q = `
SELECT id, user_id, messages, summary, ts
FROM conversations WHERE user_id=$1
ORDER BY ts DESC, seq DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationLog
	for rows.Next() {
		var (
			l   model.ConversationLog
			id  uuid.UUID
			raw []byte
		)
		if err := rows.Scan(&id, &l.UserID, &raw, &l.Summary, &l.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &l.Messages); err != nil {
			return nil, fmt.Errorf("decode messages of %s: %w", id, err)
		}
		l.ID = id.String()
		l.Timestamp = l.Timestamp.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListConversations returns up to limit summaries of userID, newest first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	const q = `
SELECT id, ts, summary
FROM conversations WHERE user_id=$1
ORDER BY ts DESC, seq DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationSummary
	for rows.Next() {
		var (
			s  model.ConversationSummary
			id uuid.UUID
			ts time.Time
		)
		if err := rows.Scan(&id, &ts, &s.Summary); err != nil {
			return nil, err
		}
		s.ID, s.Timestamp = id.String(), ts.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// sqlLimit maps a non-positive limit to NULL, which LIMIT treats as unbounded.
func sqlLimit(limit int) *int64 {
	if limit <= 0 {
		return nil
	}
	v := int64(limit)
	return &v
}
