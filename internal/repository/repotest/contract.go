// Package repotest is a backend-independent test suite for repository.Gateway.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
)

// Factory returns a fresh, empty gateway. The suite closes it.
type Factory func(t *testing.T) repository.Gateway

// Run executes the whole suite against gateways produced by newGateway.
func Run(t *testing.T, newGateway Factory) {
	t.Helper()
	t.Run("CreateUserRejectsDuplicates", func(t *testing.T) { testDuplicateUser(t, newGateway(t)) })
	t.Run("ConcurrentRegistrationsOneWinner", func(t *testing.T) { testConcurrentCreate(t, newGateway(t)) })
	t.Run("FindUserMissing", func(t *testing.T) { testFindMissing(t, newGateway(t)) })
	t.Run("EmptyConversationIsNoop", func(t *testing.T) { testEmptyConversation(t, newGateway(t)) })
	t.Run("ConversationsNewestFirst", func(t *testing.T) { testConversationOrder(t, newGateway(t)) })
	t.Run("DueReminders", func(t *testing.T) { testDueReminders(t, newGateway(t)) })
	t.Run("DueRemindersBounded", func(t *testing.T) { testDueBatch(t, newGateway(t)) })
	t.Run("StatusRemovesFromDue", func(t *testing.T) { testStatusTransition(t, newGateway(t)) })
	t.Run("UserRemindersNewestFirst", func(t *testing.T) { testUserReminders(t, newGateway(t)) })
	t.Run("ClosedGatewayFails", func(t *testing.T) { testClosed(t, newGateway(t)) })
}

func closeAfter(t *testing.T, g repository.Gateway) {
	t.Cleanup(func() { _ = g.Close(context.Background()) })
}

func testDuplicateUser(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	ctx := context.Background()

	id, err := g.CreateUser(ctx, "bob", "h1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = g.CreateUser(ctx, "bob", "h2")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	u, found, err := g.FindUser(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "h1", u.HashedPassword)
	require.Equal(t, id, u.ID)
}

func testConcurrentCreate(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.CreateUser(ctx, "carol", fmt.Sprintf("h%d", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, dup)
}

func testFindMissing(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	u, found, err := g.FindUser(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, model.User{}, u)
}

func testEmptyConversation(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	ctx := context.Background()

	require.NoError(t, g.AppendConversation(ctx, model.ConversationLog{UserID: "u", Summary: "x", Timestamp: time.Now()}))
	logs, err := g.RecentConversations(ctx, "u", 10)
	require.NoError(t, err)
	require.Empty(t, logs)
	list, err := g.ListConversations(ctx, "u", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func testConversationOrder(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	for i := 1; i <= 3; i++ {
		require.NoError(t, g.AppendConversation(ctx, model.ConversationLog{
			UserID:    "u",
			Messages:  []model.Message{{Role: "user", Content: fmt.Sprintf("T%d", i)}},
			Summary:   fmt.Sprintf("s%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, g.AppendConversation(ctx, model.ConversationLog{
		UserID:    "other",
		Messages:  []model.Message{{Role: "user", Content: "not mine"}},
		Timestamp: base.Add(time.Hour),
	}))

	logs, err := g.RecentConversations(ctx, "u", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "T3", logs[0].Messages[0].Content)
	require.Equal(t, "T2", logs[1].Messages[0].Content)
	require.Equal(t, "user", logs[0].Messages[0].Role)

	list, err := g.ListConversations(ctx, "u", 20)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []string{"s3", "s2", "s1"}, []string{list[0].Summary, list[1].Summary, list[2].Summary})
	require.NotEmpty(t, list[0].ID)
	require.True(t, list[0].Timestamp.Equal(base.Add(3*time.Minute)), "timestamp %v", list[0].Timestamp)
}

func schedule(t *testing.T, g repository.Gateway, userID string, at time.Time, msg string) string {
	t.Helper()
	r, err := model.NewReminder(userID, "sms", at.Format(time.RFC3339Nano), msg, time.Now())
	require.NoError(t, err)
	id, err := g.ScheduleReminder(context.Background(), r)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func dueIDs(t *testing.T, g repository.Gateway) map[string]bool {
	t.Helper()
	due, err := g.DueReminders(context.Background(), time.Now())
	require.NoError(t, err)
	out := map[string]bool{}
	for _, r := range due {
		require.Equal(t, model.StatusPending, r.Status)
		out[r.ID] = true
	}
	return out
}

func testDueReminders(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	now := time.Now().UTC()

	past := schedule(t, g, "u", now.Add(-time.Hour), "past")
	future := schedule(t, g, "u", now.Add(time.Hour), "future")

	due := dueIDs(t, g)
	require.True(t, due[past], "reminder one hour in the past must be due")
	require.False(t, due[future], "reminder one hour ahead must not be due")
}

func testDueBatch(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	now := time.Now().UTC()
	for i := 0; i < repository.DueBatchSize+5; i++ {
		schedule(t, g, "u", now.Add(-time.Duration(i+1)*time.Minute), "m")
	}
	due, err := g.DueReminders(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, repository.DueBatchSize)
}

func testStatusTransition(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	ctx := context.Background()
	now := time.Now().UTC()

	id := schedule(t, g, "u", now.Add(-time.Hour), "ping")
	require.True(t, dueIDs(t, g)[id])

	require.NoError(t, g.SetReminderStatus(ctx, id, model.StatusSent))
	require.False(t, dueIDs(t, g)[id])

	list, err := g.ListUserReminders(ctx, "u", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, model.StatusSent, list[0].Status)
}

func testUserReminders(t *testing.T, g repository.Gateway) {
	closeAfter(t, g)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	schedule(t, g, "u", now.Add(time.Hour), "later")
	schedule(t, g, "u", now.Add(-time.Hour), "earlier")
	schedule(t, g, "u", now.Add(2*time.Hour), "latest")
	schedule(t, g, "someone-else", now, "nope")

	list, err := g.ListUserReminders(ctx, "u", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "latest", list[0].Message)
	require.Equal(t, "later", list[1].Message)
	require.Equal(t, model.ReminderSMS, list[0].Type)
	require.NotEmpty(t, list[0].ID)
	require.True(t, list[0].RemindTime.Equal(now.Add(2*time.Hour)))
	require.False(t, list[0].CreatedAt.IsZero())
}

func testClosed(t *testing.T, g repository.Gateway) {
	ctx := context.Background()
	require.NoError(t, g.Ping(ctx))
	require.NoError(t, g.Close(ctx))

	_, err := g.CreateUser(ctx, "x", "y")
	require.ErrorIs(t, err, errs.ErrClosed)
	_, _, err = g.FindUser(ctx, "x")
	require.ErrorIs(t, err, errs.ErrClosed)
	_, err = g.DueReminders(ctx, time.Now())
	require.ErrorIs(t, err, errs.ErrClosed)
}
