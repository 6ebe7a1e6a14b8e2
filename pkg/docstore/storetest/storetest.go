// Package storetest is the behavioral suite every domain.Store backend must pass.
package storetest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) domain.Store

// Run runs the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Identities", func(t *testing.T) { testIdentities(t, newStore(t)) })
	t.Run("Tasks", func(t *testing.T) { testTasks(t, newStore(t)) })
	t.Run("Groups", func(t *testing.T) { testGroups(t, newStore(t)) })
	t.Run("DeleteGroupCascades", func(t *testing.T) { testDeleteGroupCascades(t, newStore(t)) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
	t.Run("WatchTasks", func(t *testing.T) { testWatchTasks(t, newStore(t)) })
	t.Run("WatchGroups", func(t *testing.T) { testWatchGroups(t, newStore(t)) })
}

// Now is a fixed, second-truncated clock value that survives every backend's time encoding.
var Now = time.Date(2025, 6, 25, 9, 0, 0, 0, time.UTC)

func testIdentities(t *testing.T, s domain.Store) {
	ctx := context.Background()

	created, err := s.CreateIdentity(ctx, &domain.Identity{Name: "Ann", Email: "ann@example.com", ProviderID: "apple-1", CreatedAt: Now})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetIdentity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)

	byProvider, err := s.FindIdentityByProvider(ctx, "apple-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byProvider.ID)

	_, err = s.FindIdentityByProvider(ctx, "apple-unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetIdentity(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.UpdatePresence(ctx, created.ID, true, Now.Add(time.Minute)))
	got, err = s.GetIdentity(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.True(t, got.LastSeen.Equal(Now.Add(time.Minute)))
	assert.ErrorIs(t, s.UpdatePresence(ctx, "missing", false, Now), domain.ErrNotFound)

	other, err := s.CreateIdentity(ctx, &domain.Identity{Name: "Bob", CreatedAt: Now})
	require.NoError(t, err)

	listed, err := s.ListIdentities(ctx, []string{created.ID, other.ID, "missing"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{created.ID, other.ID}, identityIDs(listed))

	all, err := s.ListAllIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testTasks(t *testing.T, s domain.Store) {
	ctx := context.Background()
	due := Now.Add(24 * time.Hour)

	created, err := s.CreateTask(ctx, &domain.Task{
		Title:      "Write report",
		Priority:   domain.PriorityHigh,
		DueDate:    &due,
		AssignedTo: "u1",
		CreatedBy:  "u1",
		CreatedAt:  Now,
		UpdatedAt:  Now,
		Tags:       []string{"work"},
		Subtasks:   []domain.Subtask{{ID: "s1", Title: "outline"}},
		Status:     domain.StatusTodo,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	created.SetStatus(domain.StatusCompleted)
	created.Title = "Write final report"
	require.NoError(t, s.UpdateTask(ctx, created))

	missing := *created
	missing.ID = "missing"
	assert.ErrorIs(t, s.UpdateTask(ctx, &missing), domain.ErrNotFound)

	require.NoError(t, s.DeleteTask(ctx, created.ID))
	assert.ErrorIs(t, s.DeleteTask(ctx, created.ID), domain.ErrNotFound)
}

func testGroups(t *testing.T, s domain.Store) {
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, &domain.Group{Name: "Home", AdminID: "u1", InviteCode: "AB12CD34", CreatedAt: Now})
	require.NoError(t, err)
	require.NotEmpty(t, g.ID)
	assert.Equal(t, []string{"u1"}, g.MemberIDs, "admin is always a member")

	_, err = s.CreateGroup(ctx, &domain.Group{Name: "Dup", AdminID: "u9", InviteCode: "AB12CD34", CreatedAt: Now})
	assert.ErrorIs(t, err, domain.ErrConflict)

	found, err := s.FindGroupByInviteCode(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, g.ID, found.ID)
	_, err = s.FindGroupByInviteCode(ctx, "ZZZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	joined, err := s.AddMember(ctx, g.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, joined.MemberIDs)

	_, err = s.AddMember(ctx, g.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = s.AddMember(ctx, "missing", "u2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	found, err = s.FindGroupByInviteCode(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, found.MemberIDs, "rejected join leaves members unchanged")
}

func testDeleteGroupCascades(t *testing.T, s domain.Store) {
	ctx := context.Background()

	keep, err := s.CreateGroup(ctx, &domain.Group{Name: "Keep", AdminID: "u1", InviteCode: "KEEP0001", CreatedAt: Now})
	require.NoError(t, err)
	drop, err := s.CreateGroup(ctx, &domain.Group{Name: "Drop", AdminID: "u1", InviteCode: "DROP0001", CreatedAt: Now})
	require.NoError(t, err)

	for _, gid := range []string{keep.ID, drop.ID, drop.ID, ""} {
		_, err := s.CreateTask(ctx, &domain.Task{Title: "t", AssignedTo: "u1", GroupID: gid, CreatedAt: Now, Status: domain.StatusTodo})
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteGroup(ctx, drop.ID))
	assert.ErrorIs(t, s.DeleteGroup(ctx, drop.ID), domain.ErrNotFound)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snap := first(t, s.WatchTasksByAssignee(watchCtx, "u1"))
	require.NoError(t, snap.Err)
	var groups []string
	for _, task := range snap.Items {
		groups = append(groups, task.GroupID)
	}
	sort.Strings(groups)
	assert.Equal(t, []string{"", keep.ID}, groups)
}

func testNotifications(t *testing.T, s domain.Store) {
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		n, err := s.CreateNotification(ctx, &domain.Notification{
			Title:       "n",
			Type:        domain.NotificationTaskAssigned,
			RecipientID: "u1",
			CreatedAt:   Now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	_, err := s.CreateNotification(ctx, &domain.Notification{Title: "other", RecipientID: "u2", CreatedAt: Now})
	require.NoError(t, err)

	require.NoError(t, s.MarkNotificationRead(ctx, ids[3]))
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "missing"), domain.ErrNotFound)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snap := first(t, s.WatchNotifications(watchCtx, "u1", 3))
	require.NoError(t, snap.Err)
	require.Len(t, snap.Items, 3)
	assert.Equal(t, ids[3], snap.Items[0].ID, "most recent first")
	assert.True(t, snap.Items[0].IsRead)
	assert.Equal(t, ids[1], snap.Items[2].ID)
}

func testWatchTasks(t *testing.T, s domain.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g1, err := s.CreateGroup(ctx, &domain.Group{Name: "G1", AdminID: "u1", InviteCode: "GRP00001", CreatedAt: Now})
	require.NoError(t, err)

	personal := s.WatchTasksByAssignee(ctx, "u1")
	grouped := s.WatchTasksByGroups(ctx, []string{g1.ID})

	snap := first(t, personal)
	require.NoError(t, snap.Err)
	assert.Empty(t, snap.Items)
	snap = first(t, grouped)
	require.NoError(t, snap.Err)
	assert.Empty(t, snap.Items)

	created, err := s.CreateTask(ctx, &domain.Task{Title: "shared", AssignedTo: "u1", GroupID: g1.ID, CreatedAt: Now, Status: domain.StatusTodo})
	require.NoError(t, err)

	waitFor(t, personal, func(items []domain.Task) bool { return len(items) == 1 && items[0].ID == created.ID })
	waitFor(t, grouped, func(items []domain.Task) bool { return len(items) == 1 && items[0].ID == created.ID })

	created.AssignedTo = "u2"
	require.NoError(t, s.UpdateTask(ctx, created))
	waitFor(t, personal, func(items []domain.Task) bool { return len(items) == 0 })
}

func testWatchGroups(t *testing.T, s domain.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := s.CreateGroup(ctx, &domain.Group{Name: "Team", AdminID: "u1", InviteCode: "TEAM0001", CreatedAt: Now})
	require.NoError(t, err)

	watch := s.WatchGroupsByMember(ctx, "u2")
	snap := first(t, watch)
	require.NoError(t, snap.Err)
	assert.Empty(t, snap.Items)

	_, err = s.AddMember(ctx, g.ID, "u2")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-watch:
			require.True(t, ok)
			if snap.Err == nil && len(snap.Items) == 1 {
				assert.Equal(t, g.ID, snap.Items[0].ID)
				assert.Equal(t, []string{"u1", "u2"}, snap.Items[0].MemberIDs)
				return
			}
		case <-deadline:
			t.Fatal("membership change not delivered")
		}
	}
}

func first[T any](t *testing.T, ch <-chan domain.Snapshot[T]) domain.Snapshot[T] {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "watch closed before first snapshot")
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}
	return domain.Snapshot[T]{}
}

func waitFor(t *testing.T, ch <-chan domain.Snapshot[domain.Task], ok func([]domain.Task) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, open := <-ch:
			require.True(t, open, "watch closed")
			if snap.Err == nil && ok(snap.Items) {
				return
			}
		case <-deadline:
			t.Fatal("expected snapshot not delivered")
		}
	}
}

func identityIDs(ids []domain.Identity) []string {
	out := make([]string, 0, len(ids))
	for _, i := range ids {
		out = append(out, i.ID)
	}
	return out
}
