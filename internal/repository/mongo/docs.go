package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/talkmate/companion/internal/model"
)

type userDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	Username       string        `bson:"username"`
	HashedPassword string        `bson:"hashed_password"`
	CreatedAt      time.Time     `bson:"created_at"`
}

func (d userDoc) model() model.User {
	return model.User{ID: d.ID.Hex(), Username: d.Username, HashedPassword: d.HashedPassword, CreatedAt: d.CreatedAt.UTC()}
}

type conversationDoc struct {
	ID        bson.ObjectID   `bson:"_id,omitempty"`
	UserID    string          `bson:"user_id"`
	Messages  []model.Message `bson:"messages"`
	Summary   string          `bson:"summary"`
	Timestamp time.Time       `bson:"timestamp"`
}

func (d conversationDoc) model() model.ConversationLog {
	return model.ConversationLog{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Messages:  d.Messages,
		Summary:   d.Summary,
		Timestamp: d.Timestamp.UTC(),
	}
}

type reminderDoc struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	UserID     string        `bson:"user_id"`
	Type       string        `bson:"type"`
	RemindTime time.Time     `bson:"remind_time"`
	Message    string        `bson:"message"`
	Status     string        `bson:"status"`
	CreatedAt  time.Time     `bson:"created_at"`
}

func newReminderDoc(r model.Reminder) reminderDoc {
	return reminderDoc{
		UserID:     r.UserID,
		Type:       string(r.Type),
		RemindTime: r.RemindTime.UTC(),
		Message:    r.Message,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func (d reminderDoc) model() model.Reminder {
	return model.Reminder{
		ID:         d.ID.Hex(),
		UserID:     d.UserID,
		Type:       model.ReminderType(d.Type),
		RemindTime: d.RemindTime.UTC(),
		Message:    d.Message,
		Status:     model.ReminderStatus(d.Status),
		CreatedAt:  d.CreatedAt.UTC(),
	}
}
