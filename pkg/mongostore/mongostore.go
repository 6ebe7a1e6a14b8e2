// Package mongostore is a domain.Store on MongoDB. Live queries re-run when a change stream
// reports a write to their collection. Deployments without change streams (standalone
// servers) fall back to polling.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/pkg/docstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultPollInterval applies when change streams are unavailable.
const DefaultPollInterval = 2 * time.Second

// Store keeps each collection in its own MongoDB collection.
type Store struct {
	client        *mongo.Client
	db            *mongo.Database
	users         *mongo.Collection
	tasks         *mongo.Collection
	groups        *mongo.Collection
	notifications *mongo.Collection

	poll time.Duration
	bus  *docstore.Bus
}

var _ domain.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often live queries re-read without change streams.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Open connects to uri, pings the primary and ensures the indexes exist.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:        client,
		db:            db,
		users:         db.Collection(docstore.CollectionUsers),
		tasks:         db.Collection(docstore.CollectionTasks),
		groups:        db.Collection(docstore.CollectionGroups),
		notifications: db.Collection(docstore.CollectionNotifications),
		poll:          DefaultPollInterval,
		bus:           docstore.NewBus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Tests use it for cleanup.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.groups, mongo.IndexModel{Keys: bson.D{{Key: "invite_code", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.groups, mongo.IndexModel{Keys: bson.D{{Key: "member_ids", Value: 1}}}},
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "provider_id", Value: 1}}, Options: options.Index().SetSparse(true)}},
		{s.tasks, mongo.IndexModel{Keys: bson.D{{Key: "assigned_to", Value: 1}}}},
		{s.tasks, mongo.IndexModel{Keys: bson.D{{Key: "group_id", Value: 1}}}},
		{s.notifications, mongo.IndexModel{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// wrapErr maps driver errors onto domain errors.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w: %v", op, domain.ErrConflict, err)
	case domain.IsPermanent(err):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRemote, err)
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []T
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", coll.Name(), err)
		}
		out = append(out, item)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// triggers merges local write signals with the collection's change stream.
func (s *Store) triggers(ctx context.Context, coll *mongo.Collection, collection string) (<-chan struct{}, time.Duration) {
	out := make(chan struct{}, 1)
	signal := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}

	local, unsubscribe := s.bus.Subscribe(collection)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-local:
				signal()
			}
		}
	}()

	stream, err := coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		logger.DebugLog(ctx, fmt.Sprintf("change stream on %s unavailable, polling every %s: %v", collection, s.poll, err))
		return out, s.poll
	}
	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			signal()
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			logger.WarnLog(ctx, fmt.Sprintf("change stream on %s ended: %v", collection, err))
		}
	}()
	// A slow poll still runs so a broken stream cannot stall the query forever.
	return out, 10 * s.poll
}
