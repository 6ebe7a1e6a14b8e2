package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/docstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newID() string { return uuid.NewString() }

var byID = options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

// --- users ---

func (s *Store) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	var identity domain.Identity
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&identity); err != nil {
		return nil, wrapErr("get identity "+id, err)
	}
	return &identity, nil
}

func (s *Store) FindIdentityByProvider(ctx context.Context, providerID string) (*domain.Identity, error) {
	if providerID == "" {
		return nil, fmt.Errorf("identity with empty provider id: %w", domain.ErrNotFound)
	}
	var identity domain.Identity
	if err := s.users.FindOne(ctx, bson.M{"provider_id": providerID}).Decode(&identity); err != nil {
		return nil, wrapErr("find identity by provider", err)
	}
	return &identity, nil
}

func (s *Store) CreateIdentity(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	created := *identity
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	if _, err := s.users.InsertOne(ctx, &created); err != nil {
		return nil, wrapErr("create identity", err)
	}
	s.bus.Publish(docstore.CollectionUsers)
	return &created, nil
}

func (s *Store) UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_online": online, "last_seen": at}})
	if err != nil {
		return wrapErr("update presence of "+id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("identity %s: %w", id, domain.ErrNotFound)
	}
	s.bus.Publish(docstore.CollectionUsers)
	return nil
}

func (s *Store) ListIdentities(ctx context.Context, ids []string) ([]domain.Identity, error) {
	if len(ids) == 0 {
		return []domain.Identity{}, nil
	}
	out, err := findAll[domain.Identity](ctx, s.users, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, wrapErr("list identities", err)
	}
	return out, nil
}

func (s *Store) ListAllIdentities(ctx context.Context) ([]domain.Identity, error) {
	out, err := findAll[domain.Identity](ctx, s.users, bson.M{})
	if err != nil {
		return nil, wrapErr("list all identities", err)
	}
	return out, nil
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	created := task.Clone()
	created.ID = newID()
	created.Normalize()
	if _, err := s.tasks.InsertOne(ctx, &created); err != nil {
		return nil, wrapErr("create task", err)
	}
	s.bus.Publish(docstore.CollectionTasks)
	return &created, nil
}

func (s *Store) UpdateTask(ctx context.Context, task *domain.Task) error {
	updated := task.Clone()
	updated.Normalize()
	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": task.ID}, &updated)
	if err != nil {
		return wrapErr("update task "+task.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("task %s: %w", task.ID, domain.ErrNotFound)
	}
	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrapErr("delete task "+id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

// --- groups ---

// CreateGroup relies on the unique invite_code index for conflicts.
func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	created := group.Clone()
	created.ID = newID()
	created.InviteCode = domain.NormalizeInviteCode(created.InviteCode)
	created.Members = nil
	created.EnsureAdminMember()
	if _, err := s.groups.InsertOne(ctx, &created); err != nil {
		return nil, wrapErr("create group", err)
	}
	s.bus.Publish(docstore.CollectionGroups)
	return &created, nil
}

// DeleteGroup removes the group and then sweeps its tasks.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.groups.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrapErr("delete group "+id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
	}
	s.bus.Publish(docstore.CollectionGroups)

	swept, err := s.tasks.DeleteMany(ctx, bson.M{"group_id": id})
	if err != nil {
		return wrapErr("delete tasks of group "+id, err)
	}
	if swept.DeletedCount > 0 {
		s.bus.Publish(docstore.CollectionTasks)
	}
	return nil
}

// AddMember pushes identityID only when it is not already present, in a single update.
func (s *Store) AddMember(ctx context.Context, groupID, identityID string) (*domain.Group, error) {
	filter := bson.M{"_id": groupID, "member_ids": bson.M{"$ne": identityID}}
	update := bson.M{"$push": bson.M{"member_ids": identityID}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var g domain.Group
	err := s.groups.FindOneAndUpdate(ctx, filter, update, opts).Decode(&g)
	if err == mongo.ErrNoDocuments {
		n, countErr := s.groups.CountDocuments(ctx, bson.M{"_id": groupID})
		if countErr != nil {
			return nil, wrapErr("add member to group "+groupID, countErr)
		}
		if n == 0 {
			return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s already in group %s: %w", identityID, groupID, domain.ErrConflict)
	}
	if err != nil {
		return nil, wrapErr("add member to group "+groupID, err)
	}
	s.bus.Publish(docstore.CollectionGroups)
	return &g, nil
}

func (s *Store) FindGroupByInviteCode(ctx context.Context, code string) (*domain.Group, error) {
	code = domain.NormalizeInviteCode(code)
	if code == "" {
		return nil, fmt.Errorf("empty invite code: %w", domain.ErrNotFound)
	}
	var g domain.Group
	if err := s.groups.FindOne(ctx, bson.M{"invite_code": code}).Decode(&g); err != nil {
		return nil, wrapErr("invite code "+code, err)
	}
	return &g, nil
}

// --- notifications ---

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	created := *n
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	if _, err := s.notifications.InsertOne(ctx, &created); err != nil {
		return nil, wrapErr("create notification", err)
	}
	s.bus.Publish(docstore.CollectionNotifications)
	return &created, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.notifications.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return wrapErr("mark notification "+id+" read", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	s.bus.Publish(docstore.CollectionNotifications)
	return nil
}

// --- live queries ---

func (s *Store) WatchTasksByAssignee(ctx context.Context, assigneeID string) <-chan domain.Snapshot[domain.Task] {
	return watchOf(ctx, s, s.tasks, docstore.CollectionTasks, func(ctx context.Context) ([]domain.Task, error) {
		return findAll[domain.Task](ctx, s.tasks, bson.M{"assigned_to": assigneeID}, byID)
	})
}

func (s *Store) WatchTasksByGroups(ctx context.Context, groupIDs []string) <-chan domain.Snapshot[domain.Task] {
	ids := append([]string{}, groupIDs...)
	return watchOf(ctx, s, s.tasks, docstore.CollectionTasks, func(ctx context.Context) ([]domain.Task, error) {
		if len(ids) == 0 {
			return nil, nil
		}
		return findAll[domain.Task](ctx, s.tasks, bson.M{"group_id": bson.M{"$in": ids}}, byID)
	})
}

func (s *Store) WatchGroupsByMember(ctx context.Context, identityID string) <-chan domain.Snapshot[domain.Group] {
	return watchOf(ctx, s, s.groups, docstore.CollectionGroups, func(ctx context.Context) ([]domain.Group, error) {
		return findAll[domain.Group](ctx, s.groups, bson.M{"member_ids": identityID}, byID)
	})
}

func (s *Store) WatchNotifications(ctx context.Context, recipientID string, limit int) <-chan domain.Snapshot[domain.Notification] {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return watchOf(ctx, s, s.notifications, docstore.CollectionNotifications, func(ctx context.Context) ([]domain.Notification, error) {
		return findAll[domain.Notification](ctx, s.notifications, bson.M{"recipient_id": recipientID}, opts)
	})
}
