// Package remote guards calls to the hosted document store with a circuit breaker and
// bounded retries, and folds every transient failure into domain.ErrRemote.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/pkg/dataflow"
	"github.com/sony/gobreaker"
)

// Config tunes the guard. Zero values fall back to DefaultConfig.
type Config struct {
	Name           string
	MaxAttempts    int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	MaxFailures    int
	BreakerTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Name:           "document-store",
		MaxAttempts:    3,
		Backoff:        200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxFailures:    5,
		BreakerTimeout: 10 * time.Second,
		RequestTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}

// Guard is a domain.Store that forwards to another one. Requests run through the breaker
// and reads, updates and deletes are retried; ErrNotFound, ErrConflict, ErrForbidden and ErrInvalid pass straight
// through and never count as failures. Watches are forwarded unchanged.
type Guard struct {
	store   domain.Store
	breaker *gobreaker.CircuitBreaker
	cfg     Config
}

var _ domain.Store = (*Guard)(nil)

// New wraps store.
func New(store domain.Store, cfg Config) *Guard {
	cfg = cfg.withDefaults()
	maxFailures := uint32(cfg.MaxFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WarnLog(context.Background(), fmt.Sprintf("circuit breaker %s changed from %s to %s", name, from, to))
		},
	})
	return &Guard{store: store, breaker: breaker, cfg: cfg}
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State { return g.breaker.State() }

func final(err error) bool {
	return domain.IsPermanent(err) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.Canceled)
}

func call[T any](ctx context.Context, g *Guard, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		var zero T
		if g.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
			defer cancel()
		}
		out, err := g.breaker.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if err != nil {
			return zero, err
		}
		return out.(T), nil
	}

	out, err := dataflow.DoValue(ctx, attempt,
		dataflow.WithRetry(g.cfg.MaxAttempts-1, dataflow.CappedBackoff(dataflow.ExponentialBackoff(g.cfg.Backoff), g.cfg.MaxBackoff)),
		dataflow.WithErrorHandler(final),
		dataflow.WithOnRetry(func(n int, err error) {
			logger.DebugLog(ctx, fmt.Sprintf("retrying %s (attempt %d): %v", op, n+1, err))
		}),
	)
	if err == nil || domain.IsPermanent(err) {
		return out, err
	}
	return out, fmt.Errorf("%s: %w: %w", op, domain.ErrRemote, err)
}

// once runs fn through the breaker a single time. Creates and membership changes use it:
// a retry after a lost reply would write a second record or trip over its own write.
func once[T any](ctx context.Context, g *Guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if domain.IsPermanent(err) {
			return zero, err
		}
		return zero, fmt.Errorf("%s: %w: %w", op, domain.ErrRemote, err)
	}
	return out.(T), nil
}

func exec(ctx context.Context, g *Guard, op string, fn func(context.Context) error) error {
	_, err := call(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (g *Guard) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	return call(ctx, g, "get identity", func(ctx context.Context) (*domain.Identity, error) {
		return g.store.GetIdentity(ctx, id)
	})
}

func (g *Guard) FindIdentityByProvider(ctx context.Context, providerID string) (*domain.Identity, error) {
	return call(ctx, g, "find identity by provider", func(ctx context.Context) (*domain.Identity, error) {
		return g.store.FindIdentityByProvider(ctx, providerID)
	})
}

func (g *Guard) CreateIdentity(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	return once(ctx, g, "create identity", func(ctx context.Context) (*domain.Identity, error) {
		return g.store.CreateIdentity(ctx, identity)
	})
}

func (g *Guard) UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error {
	return exec(ctx, g, "update presence", func(ctx context.Context) error {
		return g.store.UpdatePresence(ctx, id, online, at)
	})
}

func (g *Guard) ListIdentities(ctx context.Context, ids []string) ([]domain.Identity, error) {
	return call(ctx, g, "list identities", func(ctx context.Context) ([]domain.Identity, error) {
		return g.store.ListIdentities(ctx, ids)
	})
}

func (g *Guard) ListAllIdentities(ctx context.Context) ([]domain.Identity, error) {
	return call(ctx, g, "list all identities", g.store.ListAllIdentities)
}

func (g *Guard) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	return once(ctx, g, "create task", func(ctx context.Context) (*domain.Task, error) {
		return g.store.CreateTask(ctx, task)
	})
}

func (g *Guard) UpdateTask(ctx context.Context, task *domain.Task) error {
	return exec(ctx, g, "update task", func(ctx context.Context) error {
		return g.store.UpdateTask(ctx, task)
	})
}

func (g *Guard) DeleteTask(ctx context.Context, id string) error {
	return exec(ctx, g, "delete task", func(ctx context.Context) error {
		return g.store.DeleteTask(ctx, id)
	})
}

func (g *Guard) WatchTasksByAssignee(ctx context.Context, assigneeID string) <-chan domain.Snapshot[domain.Task] {
	return g.store.WatchTasksByAssignee(ctx, assigneeID)
}

func (g *Guard) WatchTasksByGroups(ctx context.Context, groupIDs []string) <-chan domain.Snapshot[domain.Task] {
	return g.store.WatchTasksByGroups(ctx, groupIDs)
}

func (g *Guard) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	return once(ctx, g, "create group", func(ctx context.Context) (*domain.Group, error) {
		return g.store.CreateGroup(ctx, group)
	})
}

func (g *Guard) DeleteGroup(ctx context.Context, id string) error {
	return exec(ctx, g, "delete group", func(ctx context.Context) error {
		return g.store.DeleteGroup(ctx, id)
	})
}

func (g *Guard) AddMember(ctx context.Context, groupID, identityID string) (*domain.Group, error) {
	return once(ctx, g, "add member", func(ctx context.Context) (*domain.Group, error) {
		return g.store.AddMember(ctx, groupID, identityID)
	})
}

func (g *Guard) FindGroupByInviteCode(ctx context.Context, code string) (*domain.Group, error) {
	return call(ctx, g, "find group by invite code", func(ctx context.Context) (*domain.Group, error) {
		return g.store.FindGroupByInviteCode(ctx, code)
	})
}

func (g *Guard) WatchGroupsByMember(ctx context.Context, identityID string) <-chan domain.Snapshot[domain.Group] {
	return g.store.WatchGroupsByMember(ctx, identityID)
}

func (g *Guard) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	return once(ctx, g, "create notification", func(ctx context.Context) (*domain.Notification, error) {
		return g.store.CreateNotification(ctx, n)
	})
}

func (g *Guard) MarkNotificationRead(ctx context.Context, id string) error {
	return exec(ctx, g, "mark notification read", func(ctx context.Context) error {
		return g.store.MarkNotificationRead(ctx, id)
	})
}

func (g *Guard) WatchNotifications(ctx context.Context, recipientID string, limit int) <-chan domain.Snapshot[domain.Notification] {
	return g.store.WatchNotifications(ctx, recipientID, limit)
}
