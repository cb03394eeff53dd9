package model

import (
	"strings"
	"time"

	"github.com/talkmate/companion/internal/errs"
)

// ReminderType selects how a reminder is delivered.
type ReminderType string

const (
	ReminderSMS  ReminderType = "sms"
	ReminderCall ReminderType = "call"
)

// ParseReminderType lower-cases s and checks it against the known types.
func ParseReminderType(s string) (ReminderType, error) {
	t := ReminderType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ReminderSMS, ReminderCall:
		return t, nil
	}
	return "", errs.Validationf("unknown reminder type %q", s)
}

// ReminderStatus moves one way: pending -> sent | failed.
type ReminderStatus string

const (
	StatusPending ReminderStatus = "pending"
	StatusSent    ReminderStatus = "sent"
	StatusFailed  ReminderStatus = "failed"
)

// ParseReminderStatus validates a status coming from outside.
func ParseReminderStatus(s string) (ReminderStatus, error) {
	st := ReminderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusSent, StatusFailed:
		return st, nil
	}
	return "", errs.Validationf("unknown reminder status %q", s)
}

// Reminder is a scheduled notification for a user.
type Reminder struct {
	ID         string
	UserID     string
	Type       ReminderType
	RemindTime time.Time
	Message    string
	Status     ReminderStatus
	CreatedAt  time.Time
}

// IsDue reports whether the reminder is pending and its time has come.
func (r Reminder) IsDue(now time.Time) bool {
	return r.Status == StatusPending && !r.RemindTime.After(now)
}

// NewReminder validates raw input and builds a pending reminder created at now.
// remindTime must be an ISO-8601 timestamp; naive timestamps are read as UTC.
func NewReminder(userID, typ, remindTime, message string, now time.Time) (Reminder, error) {
	if strings.TrimSpace(userID) == "" {
		return Reminder{}, errs.Validationf("empty user id")
	}
	t, err := ParseReminderType(typ)
	if err != nil {
		return Reminder{}, err
	}
	at, err := ParseRemindTime(remindTime)
	if err != nil {
		return Reminder{}, err
	}
	if strings.TrimSpace(message) == "" {
		return Reminder{}, errs.Validationf("empty reminder message")
	}
	return Reminder{
		UserID:     userID,
		Type:       t,
		RemindTime: at,
		Message:    message,
		Status:     StatusPending,
		CreatedAt:  now.UTC(),
	}, nil
}

var remindTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseRemindTime accepts the ISO-8601 shapes clients send and returns a UTC instant.
func ParseRemindTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errs.Validationf("empty remind_time")
	}
	for _, layout := range remindTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errs.Validationf("remind_time %q is not an ISO-8601 timestamp", s)
}
