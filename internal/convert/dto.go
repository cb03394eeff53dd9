// Package convert maps domain values to and from the JSON wire format.
package convert

import (
	"time"

	"github.com/talkmate/companion/internal/model"
)

// --- helpers ---

// TimeLayout is used for every timestamp on the wire.
const TimeLayout = time.RFC3339Nano

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// --- Auth ---

// Credentials is the JSON body of /register and the JSON form of /token.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterResponse acknowledges a new account.
type RegisterResponse struct {
	UserID string `json:"user_id"`
}

// TokenResponse is returned by /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// ToTokenResponse converts issued tokens.
func ToTokenResponse(t model.Tokens) TokenResponse {
	return TokenResponse{AccessToken: t.AccessToken, TokenType: t.TokenType, ExpiresAt: ts(t.ExpiresAt)}
}

// MeResponse describes the caller.
type MeResponse struct {
	Username string `json:"username"`
}

// ToMeResponse converts an identity.
func ToMeResponse(id model.Identity) MeResponse { return MeResponse{Username: id.Username} }

// --- Conversations ---

// SaveConversationRequest is the body of POST /conversations.
type SaveConversationRequest struct {
	Messages []model.Message `json:"messages"`
	Summary  string          `json:"summary"`
}

// ConversationSummary is one history entry.
type ConversationSummary struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Summary   string `json:"summary"`
}

// ToConversationSummaries converts a history listing; never returns nil.
func ToConversationSummaries(in []model.ConversationSummary) []ConversationSummary {
	out := make([]ConversationSummary, 0, len(in))
	for _, s := range in {
		out = append(out, ConversationSummary{ID: s.ID, Timestamp: ts(s.Timestamp), Summary: s.Summary})
	}
	return out
}

// ContextResponse carries rendered conversation context.
type ContextResponse struct {
	Context string `json:"context"`
}

// --- Reminders ---

// ScheduleReminderRequest is the body of POST /reminders.
type ScheduleReminderRequest struct {
	Type       string `json:"type"`
	RemindTime string `json:"remind_time"`
	Message    string `json:"message"`
}

// Reminder is the wire form of a reminder.
type Reminder struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Type       string `json:"type"`
	RemindTime string `json:"remind_time"`
	Message    string `json:"message"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// ToReminder converts a domain reminder.
func ToReminder(r model.Reminder) Reminder {
	return Reminder{
		ID:         r.ID,
		UserID:     r.UserID,
		Type:       string(r.Type),
		RemindTime: ts(r.RemindTime),
		Message:    r.Message,
		Status:     string(r.Status),
		CreatedAt:  ts(r.CreatedAt),
	}
}

// ToReminders converts a listing; never returns nil.
func ToReminders(in []model.Reminder) []Reminder {
	out := make([]Reminder, 0, len(in))
	for _, r := range in {
		out = append(out, ToReminder(r))
	}
	return out
}

// StatusRequest is the body of PUT /internal/reminders/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// OKResponse reports a best-effort outcome.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
