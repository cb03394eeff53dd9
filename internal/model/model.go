// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/talkmate/companion/internal/errs"
)

// Tokens is the outcome of a successful login.
type Tokens struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server. The password is never stored in plaintext.
type User struct {
	ID             string // opaque storage id
	Username       string // unique
	HashedPassword string // bcrypt or PHC argon2id string
	CreatedAt      time.Time
}

// Identity is what an authenticated request knows about its caller.
type Identity struct {
	Username string
}

// Identity drops everything but the username.
func (u User) Identity() Identity { return Identity{Username: u.Username} }

// Message is a single turn of a conversation.
type Message struct {
	Role    string `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// DefaultSummary is stored when a conversation ends without one.
const DefaultSummary = "Conversation ended."

// ConversationLog is an immutable record of one finished conversation session.
type ConversationLog struct {
	ID        string
	UserID    string
	Messages  []Message
	Summary   string
	Timestamp time.Time
}

// NewConversationLog builds a log stamped with now. An empty summary falls back to DefaultSummary.
func NewConversationLog(userID string, messages []Message, summary string, now time.Time) (ConversationLog, error) {
	if strings.TrimSpace(userID) == "" {
		return ConversationLog{}, errs.Validationf("empty user id")
	}
	if summary == "" {
		summary = DefaultSummary
	}
	return ConversationLog{
		UserID:    userID,
		Messages:  append([]Message(nil), messages...),
		Summary:   summary,
		Timestamp: now.UTC(),
	}, nil
}

// ConversationSummary is the history-listing view of a ConversationLog.
type ConversationSummary struct {
	ID        string
	Timestamp time.Time
	Summary   string
}
