package domain

import (
	"context"
	"time"
)

// Snapshot is one delivery of a live query: the full current result set, or an error.
type Snapshot[T any] struct {
	Items []T
	Err   error
}

// IdentityStore is the remote users collection.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	FindIdentityByProvider(ctx context.Context, providerID string) (*Identity, error)
	// CreateIdentity persists a new identity and returns it with its store-assigned ID.
	CreateIdentity(ctx context.Context, identity *Identity) (*Identity, error)
	UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error
	// ListIdentities returns the identities for ids that exist, in no particular order.
	ListIdentities(ctx context.Context, ids []string) ([]Identity, error)
	ListAllIdentities(ctx context.Context) ([]Identity, error)
}

// TaskStore is the remote tasks collection.
type TaskStore interface {
	// CreateTask persists a new task and returns it with its store-assigned ID.
	CreateTask(ctx context.Context, task *Task) (*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	DeleteTask(ctx context.Context, id string) error
	WatchTasksByAssignee(ctx context.Context, assigneeID string) <-chan Snapshot[Task]
	WatchTasksByGroups(ctx context.Context, groupIDs []string) <-chan Snapshot[Task]
}

// GroupStore is the remote groups collection.
type GroupStore interface {
	// CreateGroup persists a new group and returns it with its store-assigned ID. It fails
	// with ErrConflict when the invite code is already taken.
	CreateGroup(ctx context.Context, group *Group) (*Group, error)
	// DeleteGroup removes the group and every task whose GroupID is the group's ID.
	DeleteGroup(ctx context.Context, id string) error
	// AddMember atomically appends identityID to the group's members. It fails with
	// ErrNotFound for an unknown group and ErrConflict when identityID is already a member.
	AddMember(ctx context.Context, groupID, identityID string) (*Group, error)
	// FindGroupByInviteCode matches the normalized code exactly.
	FindGroupByInviteCode(ctx context.Context, code string) (*Group, error)
	WatchGroupsByMember(ctx context.Context, identityID string) <-chan Snapshot[Group]
}

// NotificationStore is the remote notifications collection.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) (*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	// WatchNotifications delivers the limit most recent notifications for recipientID.
	WatchNotifications(ctx context.Context, recipientID string, limit int) <-chan Snapshot[Notification]
}

// Store is the full remote document store. Watch channels are closed when ctx is done.
type Store interface {
	IdentityStore
	TaskStore
	GroupStore
	NotificationStore
}
