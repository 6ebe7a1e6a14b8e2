// Package memstore is an in-process domain.Store. Every write is published on a change bus
// so live queries behave like the hosted document store's push subscriptions.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/docstore"
)

// Store keeps all four collections in memory.
type Store struct {
	mu            sync.RWMutex
	identities    map[string]domain.Identity
	tasks         map[string]domain.Task
	groups        map[string]domain.Group
	notifications map[string]domain.Notification

	bus *docstore.Bus
}

var _ domain.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		identities:    make(map[string]domain.Identity),
		tasks:         make(map[string]domain.Task),
		groups:        make(map[string]domain.Group),
		notifications: make(map[string]domain.Notification),
		bus:           docstore.NewBus(),
	}
}

func newID() string { return uuid.NewString() }

// --- users ---

func (s *Store) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, domain.ErrNotFound)
	}
	return &identity, nil
}

func (s *Store) FindIdentityByProvider(ctx context.Context, providerID string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, identity := range s.identities {
		if providerID != "" && identity.ProviderID == providerID {
			found := identity
			return &found, nil
		}
	}
	return nil, fmt.Errorf("identity with provider id %s: %w", providerID, domain.ErrNotFound)
}

func (s *Store) CreateIdentity(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	s.mu.Lock()
	created := *identity
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	s.identities[created.ID] = created
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionUsers)
	return &created, nil
}

func (s *Store) UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error {
	s.mu.Lock()
	identity, ok := s.identities[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("identity %s: %w", id, domain.ErrNotFound)
	}
	identity.IsOnline = online
	identity.LastSeen = at
	s.identities[id] = identity
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionUsers)
	return nil
}

func (s *Store) ListIdentities(ctx context.Context, ids []string) ([]domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Identity, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if identity, ok := s.identities[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, identity)
		}
	}
	return out, nil
}

func (s *Store) ListAllIdentities(ctx context.Context) ([]domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, identity)
	}
	return out, nil
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	s.mu.Lock()
	created := task.Clone()
	created.ID = newID()
	created.Normalize()
	s.tasks[created.ID] = created
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionTasks)
	out := created.Clone()
	return &out, nil
}

func (s *Store) UpdateTask(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	if _, ok := s.tasks[task.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", task.ID, domain.ErrNotFound)
	}
	updated := task.Clone()
	updated.Normalize()
	s.tasks[task.ID] = updated
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

func (s *Store) tasksWhere(match func(*domain.Task) bool) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0)
	for _, task := range s.tasks {
		if match(&task) {
			out = append(out, task.Clone())
		}
	}
	domain.SortTasks(out)
	return out
}

func (s *Store) WatchTasksByAssignee(ctx context.Context, assigneeID string) <-chan domain.Snapshot[domain.Task] {
	return docstore.WatchBus(ctx, s.bus, docstore.CollectionTasks, func(context.Context) ([]domain.Task, error) {
		return s.tasksWhere(func(t *domain.Task) bool { return t.AssignedTo == assigneeID }), nil
	}, 0)
}

func (s *Store) WatchTasksByGroups(ctx context.Context, groupIDs []string) <-chan domain.Snapshot[domain.Task] {
	wanted := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = true
	}
	return docstore.WatchBus(ctx, s.bus, docstore.CollectionTasks, func(context.Context) ([]domain.Task, error) {
		return s.tasksWhere(func(t *domain.Task) bool { return t.GroupID != "" && wanted[t.GroupID] }), nil
	}, 0)
}

// --- groups ---

func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	s.mu.Lock()
	code := domain.NormalizeInviteCode(group.InviteCode)
	for _, existing := range s.groups {
		if existing.InviteCode == code {
			s.mu.Unlock()
			return nil, fmt.Errorf("invite code %s: %w", code, domain.ErrConflict)
		}
	}
	created := group.Clone()
	created.ID = newID()
	created.InviteCode = code
	created.Members = nil
	created.EnsureAdminMember()
	s.groups[created.ID] = created
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionGroups)
	out := created.Clone()
	return &out, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.groups[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
	}
	delete(s.groups, id)
	for taskID, task := range s.tasks {
		if task.GroupID == id {
			delete(s.tasks, taskID)
		}
	}
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionGroups)
	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

func (s *Store) AddMember(ctx context.Context, groupID, identityID string) (*domain.Group, error) {
	s.mu.Lock()
	group, ok := s.groups[groupID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	group = group.Clone()
	if !group.AddMember(identityID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s already in group %s: %w", identityID, groupID, domain.ErrConflict)
	}
	s.groups[groupID] = group
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionGroups)
	out := group.Clone()
	return &out, nil
}

func (s *Store) FindGroupByInviteCode(ctx context.Context, code string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, group := range s.groups {
		if group.InviteCode == code {
			out := group.Clone()
			return &out, nil
		}
	}
	return nil, fmt.Errorf("invite code %s: %w", code, domain.ErrNotFound)
}

func (s *Store) WatchGroupsByMember(ctx context.Context, identityID string) <-chan domain.Snapshot[domain.Group] {
	return docstore.WatchBus(ctx, s.bus, docstore.CollectionGroups, func(context.Context) ([]domain.Group, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]domain.Group, 0)
		for _, group := range s.groups {
			if group.HasMember(identityID) {
				out = append(out, group.Clone())
			}
		}
		domain.SortGroups(out)
		return out, nil
	}, 0)
}

// --- notifications ---

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	s.mu.Lock()
	created := *n
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	s.notifications[created.ID] = created
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionNotifications)
	return &created, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	s.mu.Lock()
	n, ok := s.notifications[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	n.IsRead = true
	s.notifications[id] = n
	s.mu.Unlock()

	s.bus.Publish(docstore.CollectionNotifications)
	return nil
}

func (s *Store) WatchNotifications(ctx context.Context, recipientID string, limit int) <-chan domain.Snapshot[domain.Notification] {
	return docstore.WatchBus(ctx, s.bus, docstore.CollectionNotifications, func(context.Context) ([]domain.Notification, error) {
		s.mu.RLock()
		out := make([]domain.Notification, 0)
		for _, n := range s.notifications {
			if n.RecipientID == recipientID {
				out = append(out, n)
			}
		}
		s.mu.RUnlock()

		domain.SortNotifications(out)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}, 0)
}
