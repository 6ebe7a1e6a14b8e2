package googlecloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/docstore"
)

func newID() string { return uuid.NewString() }

// --- User Operations ---

func (c *Client) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	var e userEntity
	if err := c.ds.Get(ctx, c.key(KindUser, id), &e); err != nil {
		return nil, WrapDatastoreError("get identity "+id, err)
	}
	identity := e.identity(id)
	return &identity, nil
}

func (c *Client) FindIdentityByProvider(ctx context.Context, providerID string) (*domain.Identity, error) {
	if providerID == "" {
		return nil, fmt.Errorf("identity with empty provider id: %w", domain.ErrNotFound)
	}
	q := c.query(KindUser).Filter("provider_id =", providerID).Limit(1)
	var found *domain.Identity
	err := run(ctx, c, q, func(key *datastore.Key, e *userEntity) error {
		identity := e.identity(key.Name)
		found = &identity
		return nil
	})
	if err != nil {
		return nil, WrapDatastoreError("find identity by provider", err)
	}
	if found == nil {
		return nil, fmt.Errorf("identity with provider id %s: %w", providerID, domain.ErrNotFound)
	}
	return found, nil
}

func (c *Client) CreateIdentity(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	created := *identity
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	if _, err := c.ds.Put(ctx, c.key(KindUser, created.ID), toUserEntity(&created)); err != nil {
		return nil, WrapDatastoreError("create identity", err)
	}
	c.bus.Publish(docstore.CollectionUsers)
	return &created, nil
}

func (c *Client) UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error {
	_, err := mutate(ctx, c, c.key(KindUser, id), func(e *userEntity) error {
		e.IsOnline = online
		e.LastSeen = at
		return nil
	})
	if err != nil {
		return WrapDatastoreError("update presence of "+id, err)
	}
	c.bus.Publish(docstore.CollectionUsers)
	return nil
}

// ListIdentities uses GetMulti and skips ids that have no entity.
func (c *Client) ListIdentities(ctx context.Context, ids []string) ([]domain.Identity, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]domain.Identity, 0, len(ids))
	var keys []*datastore.Key
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, c.key(KindUser, id))
	}

	for start := 0; start < len(keys); start += maxBatch {
		end := start + maxBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		entities := make([]userEntity, len(batch))
		err := c.ds.GetMulti(ctx, batch, entities)

		var multi datastore.MultiError
		switch {
		case err == nil:
		case errors.As(err, &multi):
			for i, e := range multi {
				if e != nil && !errors.Is(e, datastore.ErrNoSuchEntity) {
					return nil, WrapDatastoreError("list identities", e)
				}
				if e != nil {
					batch[i] = nil
				}
			}
		default:
			return nil, WrapDatastoreError("list identities", err)
		}

		for i, key := range batch {
			if key != nil {
				out = append(out, entities[i].identity(key.Name))
			}
		}
	}
	return out, nil
}

func (c *Client) ListAllIdentities(ctx context.Context) ([]domain.Identity, error) {
	var out []domain.Identity
	err := run(ctx, c, c.query(KindUser), func(key *datastore.Key, e *userEntity) error {
		out = append(out, e.identity(key.Name))
		return nil
	})
	if err != nil {
		return nil, WrapDatastoreError("list all identities", err)
	}
	return out, nil
}

// --- Task Operations ---

func (c *Client) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	created := task.Clone()
	created.ID = newID()
	created.Normalize()
	e, err := toTaskEntity(&created)
	if err != nil {
		return nil, err
	}
	if _, err := c.ds.Put(ctx, c.key(KindTask, created.ID), e); err != nil {
		return nil, WrapDatastoreError("create task", err)
	}
	c.bus.Publish(docstore.CollectionTasks)
	return &created, nil
}

func (c *Client) UpdateTask(ctx context.Context, task *domain.Task) error {
	updated := task.Clone()
	updated.Normalize()
	next, err := toTaskEntity(&updated)
	if err != nil {
		return err
	}
	_, err = mutate(ctx, c, c.key(KindTask, task.ID), func(e *taskEntity) error {
		*e = *next
		return nil
	})
	if err != nil {
		return WrapDatastoreError("update task "+task.ID, err)
	}
	c.bus.Publish(docstore.CollectionTasks)
	return nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.deleteExisting(ctx, c.key(KindTask, id), &taskEntity{}); err != nil {
		return WrapDatastoreError("delete task "+id, err)
	}
	c.bus.Publish(docstore.CollectionTasks)
	return nil
}

func (c *Client) tasksWhere(ctx context.Context, field, value string) ([]domain.Task, error) {
	var out []domain.Task
	q := c.query(KindTask).Filter(field+" =", value)
	err := run(ctx, c, q, func(key *datastore.Key, e *taskEntity) error {
		task, err := e.task(key.Name)
		if err != nil {
			return err
		}
		out = append(out, task)
		return nil
	})
	return out, err
}

// --- Group Operations ---

// CreateGroup reserves the invite code and writes the group in one transaction.
func (c *Client) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	created := group.Clone()
	created.ID = newID()
	created.InviteCode = domain.NormalizeInviteCode(created.InviteCode)
	created.Members = nil
	created.EnsureAdminMember()

	_, err := c.ds.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		codeKey := c.key(KindInviteCode, created.InviteCode)
		var existing inviteCodeEntity
		switch err := tx.Get(codeKey, &existing); {
		case err == nil:
			return fmt.Errorf("invite code %s: %w", created.InviteCode, domain.ErrConflict)
		case !errors.Is(err, datastore.ErrNoSuchEntity):
			return err
		}
		if _, err := tx.Put(codeKey, &inviteCodeEntity{GroupID: created.ID}); err != nil {
			return err
		}
		_, err := tx.Put(c.key(KindGroup, created.ID), toGroupEntity(&created))
		return err
	})
	if err != nil {
		return nil, WrapDatastoreError("create group", err)
	}
	c.bus.Publish(docstore.CollectionGroups)
	return &created, nil
}

// DeleteGroup removes the group with its invite code, then its tasks. The task sweep runs
// after the group transaction commits.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	_, err := c.ds.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		key := c.key(KindGroup, id)
		var e groupEntity
		if err := tx.Get(key, &e); err != nil {
			return err
		}
		keys := []*datastore.Key{key}
		if e.InviteCode != "" {
			keys = append(keys, c.key(KindInviteCode, e.InviteCode))
		}
		return tx.DeleteMulti(keys)
	})
	if err != nil {
		return WrapDatastoreError("delete group "+id, err)
	}
	c.bus.Publish(docstore.CollectionGroups)

	keys, err := c.ds.GetAll(ctx, c.query(KindTask).Filter("group_id =", id).KeysOnly(), nil)
	if err != nil {
		return WrapDatastoreError("list tasks of group "+id, err)
	}
	if err := c.deleteMultiChunked(ctx, keys); err != nil {
		return WrapDatastoreError("delete tasks of group "+id, err)
	}
	if len(keys) > 0 {
		c.bus.Publish(docstore.CollectionTasks)
	}
	return nil
}

func (c *Client) AddMember(ctx context.Context, groupID, identityID string) (*domain.Group, error) {
	e, err := mutate(ctx, c, c.key(KindGroup, groupID), func(e *groupEntity) error {
		g := e.group(groupID)
		if !g.AddMember(identityID) {
			return fmt.Errorf("%s already in group %s: %w", identityID, groupID, domain.ErrConflict)
		}
		e.MemberIDs = g.MemberIDs
		return nil
	})
	if err != nil {
		return nil, WrapDatastoreError("add member to group "+groupID, err)
	}
	c.bus.Publish(docstore.CollectionGroups)
	g := e.group(groupID)
	return &g, nil
}

func (c *Client) FindGroupByInviteCode(ctx context.Context, code string) (*domain.Group, error) {
	code = domain.NormalizeInviteCode(code)
	if code == "" {
		return nil, fmt.Errorf("empty invite code: %w", domain.ErrNotFound)
	}
	var ref inviteCodeEntity
	if err := c.ds.Get(ctx, c.key(KindInviteCode, code), &ref); err != nil {
		return nil, WrapDatastoreError("invite code "+code, err)
	}
	var e groupEntity
	if err := c.ds.Get(ctx, c.key(KindGroup, ref.GroupID), &e); err != nil {
		return nil, WrapDatastoreError("group for invite code "+code, err)
	}
	g := e.group(ref.GroupID)
	return &g, nil
}

func (c *Client) groupsWithMember(ctx context.Context, identityID string) ([]domain.Group, error) {
	var out []domain.Group
	q := c.query(KindGroup).Filter("member_ids =", identityID)
	err := run(ctx, c, q, func(key *datastore.Key, e *groupEntity) error {
		out = append(out, e.group(key.Name))
		return nil
	})
	return out, err
}

// --- Notification Operations ---

func (c *Client) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	created := *n
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	if _, err := c.ds.Put(ctx, c.key(KindNotification, created.ID), toNotificationEntity(&created)); err != nil {
		return nil, WrapDatastoreError("create notification", err)
	}
	c.bus.Publish(docstore.CollectionNotifications)
	return &created, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := mutate(ctx, c, c.key(KindNotification, id), func(e *notificationEntity) error {
		e.IsRead = true
		return nil
	})
	if err != nil {
		return WrapDatastoreError("mark notification "+id+" read", err)
	}
	c.bus.Publish(docstore.CollectionNotifications)
	return nil
}

// recentNotifications needs the composite index in index.yaml.
func (c *Client) recentNotifications(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	q := c.query(KindNotification).Filter("recipient_id =", recipientID).Order("-created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.Notification
	err := run(ctx, c, q, func(key *datastore.Key, e *notificationEntity) error {
		out = append(out, e.notification(key.Name))
		return nil
	})
	return out, err
}
