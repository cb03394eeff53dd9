// Package mongo implements the storage gateway on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	driver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
	"github.com/talkmate/companion/internal/repository/conn"
)

// DefaultDatabase is used when Config.Database is empty.
const DefaultDatabase = "talkmate"

const (
	usersColl         = "users"
	conversationsColl = "conversations"
	remindersColl     = "reminders"
)

// collection is the subset of *mongo.Collection the gateway uses.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*driver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *driver.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*driver.Cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*driver.UpdateResult, error)
}

var _ collection = (*driver.Collection)(nil)

// handle is a live connection with its collections resolved.
type handle struct {
	client        *driver.Client
	users         collection
	conversations collection
	reminders     collection
}

// Config describes where to connect.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration // bounds dial and server selection
}

// Gateway implements repository.Gateway on MongoDB.
type Gateway struct {
	lazy *conn.Lazy[*handle]
	now  func() time.Time
}

var _ repository.Gateway = (*Gateway)(nil)

// New returns a gateway that connects on first use.
func New(cfg Config, log *zap.Logger) *Gateway {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = conn.DefaultTimeout
	}
	return &Gateway{
		lazy: conn.NewLazy(dial(cfg, log), disconnect, cfg.Timeout),
		now:  time.Now,
	}
}

func dial(cfg Config, log *zap.Logger) conn.DialFunc[*handle] {
	return func(ctx context.Context) (*handle, error) {
		client, err := driver.Connect(options.Client().
			ApplyURI(cfg.URI).
			SetServerSelectionTimeout(cfg.Timeout).
			SetConnectTimeout(cfg.Timeout))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		db := client.Database(cfg.Database)
		if err := ensureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		log.Info("mongo connected", zap.String("database", cfg.Database))
		return &handle{
			client:        client,
			users:         db.Collection(usersColl),
			conversations: db.Collection(conversationsColl),
			reminders:     db.Collection(remindersColl),
		}, nil
	}
}

func disconnect(ctx context.Context, h *handle) error {
	if h.client == nil {
		return nil
	}
	return h.client.Disconnect(ctx)
}

// ensureIndexes declares the indexes the queries rely on. Creating an
// existing index is a no-op on the server.
func ensureIndexes(ctx context.Context, db *driver.Database) error {
	specs := []struct {
		coll  string
		model driver.IndexModel
	}{
		{usersColl, driver.IndexModel{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{conversationsColl, driver.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}}},
		{remindersColl, driver.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "remind_time", Value: 1}}}},
		{remindersColl, driver.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "remind_time", Value: -1}}}},
	}
	for _, s := range specs {
		if _, err := db.Collection(s.coll).Indexes().CreateOne(ctx, s.model); err != nil {
			return fmt.Errorf("mongo index on %s: %w", s.coll, err)
		}
	}
	return nil
}

// Ping forces the connection and reports whether it is usable.
func (g *Gateway) Ping(ctx context.Context) error {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	if h.client == nil {
		return nil
	}
	return h.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client. Later calls fail with errs.ErrClosed.
func (g *Gateway) Close(ctx context.Context) error { return g.lazy.Close(ctx) }

// CreateUser inserts a user relying on the unique username index.
func (g *Gateway) CreateUser(ctx context.Context, username, hashedPassword string) (string, error) {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return "", err
	}
	doc := userDoc{ID: bson.NewObjectID(), Username: username, HashedPassword: hashedPassword, CreatedAt: g.now().UTC()}
	if _, err := h.users.InsertOne(ctx, doc); err != nil {
		if driver.IsDuplicateKeyError(err) {
			return "", errs.ErrAlreadyExists
		}
		return "", fmt.Errorf("insert user: %w", err)
	}
	return doc.ID.Hex(), nil
}

// FindUser loads a user by username.
func (g *Gateway) FindUser(ctx context.Context, username string) (model.User, bool, error) {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return model.User{}, false, err
	}
	var doc userDoc
	err = h.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&doc)
	switch {
	case err == nil:
		return doc.model(), true, nil
	case errors.Is(err, driver.ErrNoDocuments):
		return model.User{}, false, nil
	default:
		return model.User{}, false, fmt.Errorf("find user: %w", err)
	}
}

// AppendConversation inserts log unless it carries no messages.
func (g *Gateway) AppendConversation(ctx context.Context, log model.ConversationLog) error {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	if len(log.Messages) == 0 {
		return nil
	}
	doc := conversationDoc{
		UserID:    log.UserID,
		Messages:  log.Messages,
		Summary:   log.Summary,
		Timestamp: log.Timestamp.UTC(),
	}
	if _, err := h.conversations.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (g *Gateway) findConversations(ctx context.Context, userID string, limit int) ([]conversationDoc, error) {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := h.conversations.Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return docs, nil
}

// RecentConversations returns up to limit logs of userID, newest first.
func (g *Gateway) RecentConversations(ctx context.Context, userID string, limit int) ([]model.ConversationLog, error) {
	docs, err := g.findConversations(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ConversationLog, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// ListConversations returns up to limit summaries of userID, newest first.
func (g *Gateway) ListConversations(ctx context.Context, userID string, limit int) ([]model.ConversationSummary, error) {
	docs, err := g.findConversations(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ConversationSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.ConversationSummary{ID: d.ID.Hex(), Timestamp: d.Timestamp.UTC(), Summary: d.Summary})
	}
	return out, nil
}

// ScheduleReminder inserts r and returns its id.
func (g *Gateway) ScheduleReminder(ctx context.Context, r model.Reminder) (string, error) {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return "", err
	}
	doc := newReminderDoc(r)
	doc.ID = bson.NewObjectID()
	if _, err := h.reminders.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert reminder: %w", err)
	}
	return doc.ID.Hex(), nil
}

func (g *Gateway) findReminders(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]model.Reminder, error) {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := h.reminders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find reminders: %w", err)
	}
	var docs []reminderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode reminders: %w", err)
	}
	out := make([]model.Reminder, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// DueReminders returns pending reminders with remind_time <= now, earliest first.
func (g *Gateway) DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	filter := bson.D{
		{Key: "status", Value: string(model.StatusPending)},
		{Key: "remind_time", Value: bson.D{{Key: "$lte", Value: now.UTC()}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "remind_time", Value: 1}}).
		SetLimit(repository.DueBatchSize)
	return g.findReminders(ctx, filter, opts)
}

// SetReminderStatus updates a single reminder addressed by its hex id.
func (g *Gateway) SetReminderStatus(ctx context.Context, id string, status model.ReminderStatus) error {
	h, err := g.lazy.Get(ctx)
	if err != nil {
		return err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return errs.Validationf("malformed reminder id %q", id)
	}
	res, err := h.reminders.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: string(status)}}}},
	)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListUserReminders returns up to limit reminders of userID, latest remind time first.
func (g *Gateway) ListUserReminders(ctx context.Context, userID string, limit int) ([]model.Reminder, error) {
	opts := options.Find().SetSort(bson.D{{Key: "remind_time", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return g.findReminders(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
}
