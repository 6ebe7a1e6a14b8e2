package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/docstore"
)

func newID() string { return uuid.NewString() }

func scanDocs[T any](rows *sql.Rows, post func(*T, []string)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var (
			doc     []byte
			members pq.StringArray
			item    T
		)
		dest := []interface{}{&doc}
		if post != nil {
			dest = append(dest, &members)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		if post != nil {
			post(&item, members)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func withMembers(g *domain.Group, members []string) {
	g.MemberIDs = append([]string(nil), members...)
}

// --- users ---

func (s *Store) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM `+s.table("users")+` WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		return nil, wrapErr("get identity "+id, err)
	}
	var identity domain.Identity
	if err := json.Unmarshal(doc, &identity); err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", id, err)
	}
	return &identity, nil
}

func (s *Store) FindIdentityByProvider(ctx context.Context, providerID string) (*domain.Identity, error) {
	if providerID == "" {
		return nil, fmt.Errorf("identity with empty provider id: %w", domain.ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM `+s.table("users")+` WHERE provider_id = $1 LIMIT 1`, providerID)
	if err != nil {
		return nil, wrapErr("find identity by provider", err)
	}
	found, err := scanDocs[domain.Identity](rows, nil)
	if err != nil {
		return nil, wrapErr("find identity by provider", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("identity with provider id %s: %w", providerID, domain.ErrNotFound)
	}
	return &found[0], nil
}

func (s *Store) CreateIdentity(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	created := *identity
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(&created)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+s.table("users")+` (id, provider_id, doc) VALUES ($1, $2, $3)`,
		created.ID, created.ProviderID, doc)
	if err != nil {
		return nil, wrapErr("create identity", err)
	}
	s.bus.Publish(docstore.CollectionUsers)
	return &created, nil
}

func (s *Store) UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error {
	patch, err := json.Marshal(map[string]interface{}{"is_online": online, "last_seen": at})
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+s.table("users")+` SET doc = doc || $2::jsonb WHERE id = $1`, id, patch)
	if err != nil {
		return wrapErr("update presence of "+id, err)
	}
	if err := exactlyOne(res, "identity "+id); err != nil {
		return err
	}
	s.bus.Publish(docstore.CollectionUsers)
	return nil
}

func (s *Store) ListIdentities(ctx context.Context, ids []string) ([]domain.Identity, error) {
	if len(ids) == 0 {
		return []domain.Identity{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM `+s.table("users")+` WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, wrapErr("list identities", err)
	}
	out, err := scanDocs[domain.Identity](rows, nil)
	return out, wrapErr("list identities", err)
}

func (s *Store) ListAllIdentities(ctx context.Context) ([]domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM `+s.table("users")+` ORDER BY id`)
	if err != nil {
		return nil, wrapErr("list all identities", err)
	}
	out, err := scanDocs[domain.Identity](rows, nil)
	return out, wrapErr("list all identities", err)
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	created := task.Clone()
	created.ID = newID()
	created.Normalize()
	doc, err := json.Marshal(&created)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+s.table("tasks")+` (id, assigned_to, group_id, doc) VALUES ($1, $2, $3, $4)`,
		created.ID, created.AssignedTo, created.GroupID, doc)
	if err != nil {
		return nil, wrapErr("create task", err)
	}
	s.bus.Publish(docstore.CollectionTasks)
	return &created, nil
}

func (s *Store) UpdateTask(ctx context.Context, task *domain.Task) error {
	updated := task.Clone()
	updated.Normalize()
	doc, err := json.Marshal(&updated)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+s.table("tasks")+` SET assigned_to = $2, group_id = $3, doc = $4 WHERE id = $1`,
		task.ID, updated.AssignedTo, updated.GroupID, doc)
	if err != nil {
		return wrapErr("update task "+task.ID, err)
	}
	if err := exactlyOne(res, "task "+task.ID); err != nil {
		return err
	}
	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table("tasks")+` WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete task "+id, err)
	}
	if err := exactlyOne(res, "task "+id); err != nil {
		return err
	}
	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

// --- groups ---

// CreateGroup relies on the unique invite_code column for conflicts.
func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	created := group.Clone()
	created.ID = newID()
	created.InviteCode = domain.NormalizeInviteCode(created.InviteCode)
	created.Members = nil
	created.EnsureAdminMember()
	doc, err := json.Marshal(&created)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+s.table("task_groups")+` (id, invite_code, member_ids, doc) VALUES ($1, $2, $3, $4)`,
		created.ID, created.InviteCode, pq.Array(created.MemberIDs), doc)
	if err != nil {
		return nil, wrapErr("create group", err)
	}
	s.bus.Publish(docstore.CollectionGroups)
	return &created, nil
}

// DeleteGroup removes the group and its tasks in one transaction.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete group "+id, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM `+s.table("task_groups")+` WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete group "+id, err)
	}
	if err := exactlyOne(res, "group "+id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.table("tasks")+` WHERE group_id = $1`, id); err != nil {
		return wrapErr("delete tasks of group "+id, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("delete group "+id, err)
	}
	s.bus.Publish(docstore.CollectionGroups)
	s.bus.Publish(docstore.CollectionTasks)
	return nil
}

// AddMember appends in a single conditional update. When no row matches, a second read tells
// an unknown group from an existing member.
func (s *Store) AddMember(ctx context.Context, groupID, identityID string) (*domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `UPDATE `+s.table("task_groups")+`
		SET member_ids = array_append(member_ids, $2)
		WHERE id = $1 AND NOT ($2 = ANY(member_ids))
		RETURNING doc, member_ids`, groupID, identityID)
	if err != nil {
		return nil, wrapErr("add member to group "+groupID, err)
	}
	updated, err := scanDocs[domain.Group](rows, withMembers)
	if err != nil {
		return nil, wrapErr("add member to group "+groupID, err)
	}
	if len(updated) == 1 {
		s.bus.Publish(docstore.CollectionGroups)
		return &updated[0], nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.table("task_groups")+` WHERE id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return nil, wrapErr("add member to group "+groupID, err)
	}
	if !exists {
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("%s already in group %s: %w", identityID, groupID, domain.ErrConflict)
}

func (s *Store) FindGroupByInviteCode(ctx context.Context, code string) (*domain.Group, error) {
	code = domain.NormalizeInviteCode(code)
	if code == "" {
		return nil, fmt.Errorf("empty invite code: %w", domain.ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc, member_ids FROM `+s.table("task_groups")+` WHERE invite_code = $1`, code)
	if err != nil {
		return nil, wrapErr("invite code "+code, err)
	}
	found, err := scanDocs[domain.Group](rows, withMembers)
	if err != nil {
		return nil, wrapErr("invite code "+code, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("invite code %s: %w", code, domain.ErrNotFound)
	}
	return &found[0], nil
}

// --- notifications ---

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	created := *n
	created.ID = newID()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(&created)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+s.table("notifications")+` (id, recipient_id, created_at, doc) VALUES ($1, $2, $3, $4)`,
		created.ID, created.RecipientID, created.CreatedAt, doc)
	if err != nil {
		return nil, wrapErr("create notification", err)
	}
	s.bus.Publish(docstore.CollectionNotifications)
	return &created, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE `+s.table("notifications")+` SET doc = jsonb_set(doc, '{is_read}', 'true') WHERE id = $1`, id)
	if err != nil {
		return wrapErr("mark notification "+id+" read", err)
	}
	if err := exactlyOne(res, "notification "+id); err != nil {
		return err
	}
	s.bus.Publish(docstore.CollectionNotifications)
	return nil
}

// --- live queries ---

func watchQuery[T any](ctx context.Context, s *Store, collection, op string, post func(*T, []string), query string, args ...interface{}) <-chan domain.Snapshot[T] {
	return docstore.WatchBus(ctx, s.bus, collection, func(ctx context.Context) ([]T, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		items, err := scanDocs[T](rows, post)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		return items, nil
	}, s.poll)
}

func (s *Store) WatchTasksByAssignee(ctx context.Context, assigneeID string) <-chan domain.Snapshot[domain.Task] {
	return watchQuery[domain.Task](ctx, s, docstore.CollectionTasks, "watch tasks by assignee", nil,
		`SELECT doc FROM `+s.table("tasks")+` WHERE assigned_to = $1 ORDER BY id`, assigneeID)
}

func (s *Store) WatchTasksByGroups(ctx context.Context, groupIDs []string) <-chan domain.Snapshot[domain.Task] {
	return watchQuery[domain.Task](ctx, s, docstore.CollectionTasks, "watch tasks by group", nil,
		`SELECT doc FROM `+s.table("tasks")+` WHERE group_id <> '' AND group_id = ANY($1) ORDER BY id`, pq.Array(groupIDs))
}

func (s *Store) WatchGroupsByMember(ctx context.Context, identityID string) <-chan domain.Snapshot[domain.Group] {
	return watchQuery(ctx, s, docstore.CollectionGroups, "watch groups by member", withMembers,
		`SELECT doc, member_ids FROM `+s.table("task_groups")+` WHERE $1 = ANY(member_ids) ORDER BY id`, identityID)
}

func (s *Store) WatchNotifications(ctx context.Context, recipientID string, limit int) <-chan domain.Snapshot[domain.Notification] {
	query := `SELECT doc FROM ` + s.table("notifications") + ` WHERE recipient_id = $1 ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return watchQuery[domain.Notification](ctx, s, docstore.CollectionNotifications, "watch notifications", nil, query, recipientID)
}
