package googlecloud

import (
	"context"
	"sort"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/docstore"
)

// Datastore has no push queries. Live queries re-run on local writes and on the poll
// interval, and only changed results are delivered.

func (c *Client) WatchTasksByAssignee(ctx context.Context, assigneeID string) <-chan domain.Snapshot[domain.Task] {
	return docstore.WatchBus(ctx, c.bus, docstore.CollectionTasks, func(ctx context.Context) ([]domain.Task, error) {
		tasks, err := c.tasksWhere(ctx, "assigned_to", assigneeID)
		if err != nil {
			return nil, WrapDatastoreError("watch tasks by assignee", err)
		}
		sortTasksByID(tasks)
		return tasks, nil
	}, c.poll)
}

// WatchTasksByGroups runs one equality query per group.
func (c *Client) WatchTasksByGroups(ctx context.Context, groupIDs []string) <-chan domain.Snapshot[domain.Task] {
	ids := append([]string(nil), groupIDs...)
	return docstore.WatchBus(ctx, c.bus, docstore.CollectionTasks, func(ctx context.Context) ([]domain.Task, error) {
		var out []domain.Task
		for _, id := range ids {
			tasks, err := c.tasksWhere(ctx, "group_id", id)
			if err != nil {
				return nil, WrapDatastoreError("watch tasks by group", err)
			}
			out = append(out, tasks...)
		}
		sortTasksByID(out)
		return out, nil
	}, c.poll)
}

func (c *Client) WatchGroupsByMember(ctx context.Context, identityID string) <-chan domain.Snapshot[domain.Group] {
	return docstore.WatchBus(ctx, c.bus, docstore.CollectionGroups, func(ctx context.Context) ([]domain.Group, error) {
		groups, err := c.groupsWithMember(ctx, identityID)
		if err != nil {
			return nil, WrapDatastoreError("watch groups by member", err)
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
		return groups, nil
	}, c.poll)
}

func (c *Client) WatchNotifications(ctx context.Context, recipientID string, limit int) <-chan domain.Snapshot[domain.Notification] {
	return docstore.WatchBus(ctx, c.bus, docstore.CollectionNotifications, func(ctx context.Context) ([]domain.Notification, error) {
		ns, err := c.recentNotifications(ctx, recipientID, limit)
		if err != nil {
			return nil, WrapDatastoreError("watch notifications", err)
		}
		return ns, nil
	}, c.poll)
}

func sortTasksByID(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
