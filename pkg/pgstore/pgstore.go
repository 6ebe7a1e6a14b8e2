// Package pgstore is a domain.Store on PostgreSQL. Records are JSONB documents next to the
// columns the live queries filter on. Statement-level triggers publish every write with
// pg_notify so stores in other processes refresh their live queries.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/pkg/docstore"
)

const (
	// DefaultPollInterval is the fallback refresh for live queries.
	DefaultPollInterval = 5 * time.Second

	notifyChannel   = "store_changes"
	uniqueViolation = "23505"
)

var tableCollections = map[string]string{
	"users":         docstore.CollectionUsers,
	"tasks":         docstore.CollectionTasks,
	"task_groups":   docstore.CollectionGroups,
	"notifications": docstore.CollectionNotifications,
}

// Store is a domain.Store on a *sql.DB opened with lib/pq.
type Store struct {
	db       *sql.DB
	schema   string
	poll     time.Duration
	bus      *docstore.Bus
	listener *pq.Listener
}

var _ domain.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithSchema keeps every table in schema, creating it if needed.
func WithSchema(schema string) Option {
	return func(s *Store) { s.schema = schema }
}

// WithPollInterval sets the fallback refresh for live queries.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Open connects to dsn, migrates the schema and starts listening for changes.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db, schema: "public", poll: DefaultPollInterval, bus: docstore.NewBus()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.listen(ctx, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the listener and closes the pool.
func (s *Store) Close() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return s.db.Close()
}

// DropSchema removes the store's schema with everything in it. Tests use it for cleanup.
func (s *Store) DropSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(s.schema)+" CASCADE")
	return err
}

func (s *Store) table(name string) string {
	return pq.QuoteIdentifier(s.schema) + "." + name
}

func (s *Store) migrate(ctx context.Context) error {
	schema := pq.QuoteIdentifier(s.schema)
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + schema,
		`CREATE TABLE IF NOT EXISTS ` + s.table("users") + ` (
			id          TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL DEFAULT '',
			doc         JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS users_provider_idx ON ` + s.table("users") + ` (provider_id)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("tasks") + ` (
			id          TEXT PRIMARY KEY,
			assigned_to TEXT NOT NULL DEFAULT '',
			group_id    TEXT NOT NULL DEFAULT '',
			doc         JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_assigned_idx ON ` + s.table("tasks") + ` (assigned_to)`,
		`CREATE INDEX IF NOT EXISTS tasks_group_idx ON ` + s.table("tasks") + ` (group_id)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("task_groups") + ` (
			id          TEXT PRIMARY KEY,
			invite_code TEXT NOT NULL UNIQUE,
			member_ids  TEXT[] NOT NULL DEFAULT '{}',
			doc         JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS task_groups_members_idx ON ` + s.table("task_groups") + ` USING GIN (member_ids)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("notifications") + ` (
			id           TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			doc          JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON ` + s.table("notifications") + ` (recipient_id, created_at DESC)`,
		`CREATE OR REPLACE FUNCTION ` + schema + `.notify_change() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('` + notifyChannel + `', TG_TABLE_SCHEMA || '.' || TG_TABLE_NAME);
			RETURN NULL;
		END
		$$ LANGUAGE plpgsql`,
	}
	for name := range tableCollections {
		trigger := pq.QuoteIdentifier(name + "_notify")
		stmts = append(stmts,
			`DROP TRIGGER IF EXISTS `+trigger+` ON `+s.table(name),
			`CREATE TRIGGER `+trigger+` AFTER INSERT OR UPDATE OR DELETE ON `+s.table(name)+
				` FOR EACH STATEMENT EXECUTE PROCEDURE `+schema+`.notify_change()`,
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema %s: %w", s.schema, err)
		}
	}
	return nil
}

// listen forwards notifications for this schema onto the local bus. A nil notification
// means the connection was re-established and anything may have changed.
func (s *Store) listen(ctx context.Context, dsn string) error {
	s.listener = pq.NewListener(dsn, 100*time.Millisecond, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WarnLog(ctx, fmt.Sprintf("postgres listener event %d: %v", ev, err))
		}
	})
	if err := s.listener.Listen(notifyChannel); err != nil {
		_ = s.listener.Close()
		s.listener = nil
		return fmt.Errorf("listen on %s: %w", notifyChannel, err)
	}

	notify := s.listener.Notify
	go func() {
		for n := range notify {
			if n == nil {
				for _, c := range tableCollections {
					s.bus.Publish(c)
				}
				continue
			}
			schema, table, ok := strings.Cut(n.Extra, ".")
			if !ok || schema != s.schema {
				continue
			}
			if c, ok := tableCollections[table]; ok {
				s.bus.Publish(c)
			}
		}
	}()
	return nil
}

func wrapErr(op string, err error) error {
	var pqErr *pq.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrConflict, pqErr.Message)
	case domain.IsPermanent(err):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRemote, err)
}

// exactlyOne turns a zero-row write into ErrNotFound.
func exactlyOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}
