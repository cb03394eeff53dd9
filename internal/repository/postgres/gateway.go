package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/migrate"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
	"github.com/talkmate/companion/internal/repository/conn"
)

// Gateway implements repository.Gateway on a lazily opened pool.
// The schema is migrated once, when the pool is first opened.
type Gateway struct {
	lazy *conn.Lazy[*DB]
}

var _ repository.Gateway = (*Gateway)(nil)

// New returns a gateway that connects and migrates on first use.
func New(dsn string, timeout time.Duration, log *zap.Logger) *Gateway {
	dial := func(ctx context.Context) (*DB, error) {
		db, err := Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		version, err := migrate.Up(ctx, dsn, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info("postgres connected", zap.Int64("schema_version", version))
		return db, nil
	}
	return newGateway(dial, timeout)
}

func newGateway(dial conn.DialFunc[*DB], timeout time.Duration) *Gateway {
	return &Gateway{lazy: conn.NewLazy(dial, func(_ context.Context, db *DB) error {
		db.Close()
		return nil
	}, timeout)}
}

// Ping forces the connection and pings the server.
func (g *Gateway) Ping(ctx context.Context) error {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	return db.Pool.Ping(ctx)
}

// Close closes the pool. Later calls fail with errs.ErrClosed.
func (g *Gateway) Close(ctx context.Context) error { return g.lazy.Close(ctx) }

func (g *Gateway) CreateUser(ctx context.Context, username, hashedPassword string) (string, error) {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return "", err
	}
	return NewUserRepo(db).CreateUser(ctx, username, hashedPassword)
}

func (g *Gateway) FindUser(ctx context.Context, username string) (model.User, bool, error) {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return model.User{}, false, err
	}
	return NewUserRepo(db).FindUser(ctx, username)
}

func (g *Gateway) AppendConversation(ctx context.Context, log model.ConversationLog) error {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	return NewConversationRepo(db).AppendConversation(ctx, log)
}

func (g *Gateway) RecentConversations(ctx context.Context, userID string, limit int) ([]model.ConversationLog, error) {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	return NewConversationRepo(db).RecentConversations(ctx, userID, limit)
}

func (g *Gateway) ListConversations(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	return NewConversationRepo(db).ListConversations(ctx, userID, limit)
}

func (g *Gateway) ScheduleReminder(ctx context.Context, r model.Reminder) (string, error) {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return "", err
	}
	return NewReminderRepo(db).ScheduleReminder(ctx, r)
}

func (g *Gateway) DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	return NewReminderRepo(db).DueReminders(ctx, now)
}

func (g *Gateway) SetReminderStatus(ctx context.Context, id string, status model.ReminderStatus) error {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	return NewReminderRepo(db).SetReminderStatus(ctx, id, status)
}

func (g *Gateway) ListUserReminders(ctx context.Context, userID string, limit int) ([]model.Reminder, error) {
	db, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	return NewReminderRepo(db).ListUserReminders(ctx, userID, limit)
}

// Querier exposes the gateway's pool to other Postgres-backed components,
// such as the login limiter, without forcing an early connection.
func (g *Gateway) Querier() *LazyQuerier { return &LazyQuerier{g: g} }

// LazyQuerier runs statements on the gateway's pool, connecting on first use.
type LazyQuerier struct{ g *Gateway }

// Exec executes a SQL command.
func (q *LazyQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db, err := q.g.lazy.Get(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return db.Pool.Exec(ctx, sql, args...)
}

// QueryRow executes a single-row query. Connection failures surface from Scan.
func (q *LazyQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db, err := q.g.lazy.Get(ctx)
	if err != nil {
		return errRow{err}
	}
	return db.Pool.QueryRow(ctx, sql, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
