package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/remote"
	"github.com/locvowork/task_management_sample/pkg/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 25, 9, 0, 0, 0, time.UTC)

var errUnavailable = errors.New("unavailable")

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// flakyStore fails or holds selected writes of the embedded in-memory store.
type flakyStore struct {
	*memstore.Store

	mu    sync.Mutex
	fail  map[string]error
	gate  chan struct{}
	feeds map[string]chan domain.Snapshot[domain.Task]
	// landing holds creates after they were written, before they return
	landing chan struct{}
	// loseReplies makes creates commit and then report errUnavailable
	loseReplies atomic.Bool

	notified atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memstore.New(), fail: make(map[string]error)}
}

func (s *flakyStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *flakyStore) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *flakyStore) check(op string) error {
	s.mu.Lock()
	gate, err := s.gate, s.fail[op]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (s *flakyStore) holdLanding() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.landing = make(chan struct{})
	return s.landing
}

func (s *flakyStore) land() {
	s.mu.Lock()
	landing := s.landing
	s.mu.Unlock()
	if landing != nil {
		<-landing
	}
}

func (s *flakyStore) CreateTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	if err := s.check("CreateTask"); err != nil {
		return nil, err
	}
	created, err := s.Store.CreateTask(ctx, task)
	if err == nil {
		s.land()
		if s.loseReplies.Load() {
			return nil, errUnavailable
		}
	}
	return created, err
}

func (s *flakyStore) DeleteTask(ctx context.Context, id string) error {
	if err := s.check("DeleteTask"); err != nil {
		return err
	}
	return s.Store.DeleteTask(ctx, id)
}

func (s *flakyStore) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	if err := s.check("CreateGroup"); err != nil {
		return nil, err
	}
	created, err := s.Store.CreateGroup(ctx, group)
	if err == nil {
		s.land()
		if s.loseReplies.Load() {
			return nil, errUnavailable
		}
	}
	return created, err
}

func (s *flakyStore) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	s.notified.Add(1)
	return s.Store.CreateNotification(ctx, n)
}

func (s *flakyStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	if err := s.check("UpdateTask"); err != nil {
		return err
	}
	return s.Store.UpdateTask(ctx, task)
}

func (s *flakyStore) DeleteGroup(ctx context.Context, id string) error {
	if err := s.check("DeleteGroup"); err != nil {
		return err
	}
	return s.Store.DeleteGroup(ctx, id)
}

func (s *flakyStore) AddMember(ctx context.Context, groupID, identityID string) (*domain.Group, error) {
	if err := s.check("AddMember"); err != nil {
		return nil, err
	}
	return s.Store.AddMember(ctx, groupID, identityID)
}

func (s *flakyStore) WatchTasksByAssignee(ctx context.Context, assigneeID string) <-chan domain.Snapshot[domain.Task] {
	s.mu.Lock()
	feed := s.feeds[assigneeID]
	s.mu.Unlock()
	if feed != nil {
		return feed
	}
	return s.Store.WatchTasksByAssignee(ctx, assigneeID)
}

func seedIdentity(t *testing.T, store domain.Store, name string) domain.Identity {
	t.Helper()
	identity, err := store.CreateIdentity(context.Background(), &domain.Identity{Name: name, ProviderID: "provider-" + name})
	require.NoError(t, err)
	return *identity
}

func listen(t *testing.T, store domain.Store, identity domain.Identity) *Workspace {
	t.Helper()
	ws := New(store, WithClock(func() time.Time { return fixedNow }))
	ws.StartListening(context.Background(), identity)
	t.Cleanup(ws.Close)
	return ws
}

func taskTitles(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func waitTaskCount(t *testing.T, ws *Workspace, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(ws.Tasks()) == n }, waitFor, tick)
}

func TestAddTask_RemoteFailureRestoresList(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	_, err := ws.AddTask(context.Background(), domain.Task{Title: "existing"})
	require.NoError(t, err)
	waitTaskCount(t, ws, 1)

	store.failOn("CreateTask", errUnavailable)
	for i := 0; i < 3; i++ {
		before := ws.Tasks()
		task, err := ws.AddTask(context.Background(), domain.Task{Title: "doomed", Priority: domain.PriorityUrgent})
		assert.Nil(t, task)
		assert.ErrorIs(t, err, domain.ErrRemote)
		assert.ErrorIs(t, err, errUnavailable)
		assert.Equal(t, before, ws.Tasks())
		assert.Zero(t, ws.PendingWrites())
	}
}

func TestAddTask_VisibleBeforeRemoteReturns(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	gate := store.hold()
	done := make(chan error, 1)
	go func() {
		_, err := ws.AddTask(context.Background(), domain.Task{Title: "optimistic"})
		done <- err
	}()

	require.Eventually(t, func() bool { return len(ws.Tasks()) == 1 }, waitFor, tick)
	local := ws.Tasks()[0]
	assert.True(t, strings.HasPrefix(local.ID, localIDPrefix))
	assert.Equal(t, me.ID, local.AssignedTo)
	assert.Equal(t, me.ID, local.CreatedBy)
	assert.Equal(t, domain.StatusTodo, local.Status)

	// a snapshot landing mid-flight keeps the optimistic entry
	_, err := store.Store.CreateTask(context.Background(), &domain.Task{Title: "from elsewhere", AssignedTo: me.ID})
	require.NoError(t, err)
	waitTaskCount(t, ws, 2)

	close(gate)
	require.NoError(t, <-done)
	tasks := ws.Tasks()
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.False(t, isLocalID(task.ID))
	}
	assert.ElementsMatch(t, []string{"optimistic", "from elsewhere"}, taskTitles(tasks))
}

func TestAddTask_Validation(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	_, err := ws.AddTask(context.Background(), domain.Task{Title: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = ws.AddTask(context.Background(), domain.Task{Title: "x", GroupID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	idle := New(store)
	defer idle.Close()
	_, err = idle.AddTask(context.Background(), domain.Task{Title: "x"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestToggleTaskCompletion_TwiceIsIdempotent(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	original, err := ws.AddTask(context.Background(), domain.Task{Title: "flip", Status: domain.StatusTodo})
	require.NoError(t, err)

	first, err := ws.ToggleTaskCompletion(context.Background(), original.ID)
	require.NoError(t, err)
	assert.True(t, first.IsCompleted)
	assert.Equal(t, domain.StatusCompleted, first.Status)

	second, err := ws.ToggleTaskCompletion(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.IsCompleted, second.IsCompleted)
	assert.Equal(t, original.Status, second.Status)

	require.Eventually(t, func() bool {
		got, ok := ws.Task(original.ID)
		return ok && got.Status == original.Status && !got.IsCompleted
	}, waitFor, tick)
}

func TestToggleTaskCompletion_FailureReverts(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	task, err := ws.AddTask(context.Background(), domain.Task{Title: "flip"})
	require.NoError(t, err)

	store.failOn("UpdateTask", errUnavailable)
	_, err = ws.ToggleTaskCompletion(context.Background(), task.ID)
	assert.ErrorIs(t, err, domain.ErrRemote)

	got, ok := ws.Task(task.ID)
	require.True(t, ok)
	assert.False(t, got.IsCompleted)
	assert.Equal(t, domain.StatusTodo, got.Status)
}

func TestTasks_CanonicalOrder(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	today := fixedNow.Add(2 * time.Hour)
	tomorrow := fixedNow.Add(26 * time.Hour)
	for _, task := range []domain.Task{
		{Title: "A", Priority: domain.PriorityHigh, DueDate: &tomorrow},
		{Title: "B", Priority: domain.PriorityHigh, DueDate: &today},
		{Title: "C", Priority: domain.PriorityUrgent, Status: domain.StatusCompleted},
		{Title: "D", Priority: domain.PriorityLow},
	} {
		_, err := ws.AddTask(context.Background(), task)
		require.NoError(t, err)
	}

	waitTaskCount(t, ws, 4)
	assert.Equal(t, []string{"B", "A", "D", "C"}, taskTitles(ws.Tasks()))
}

func TestFilteredTasksAndStats(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	past := fixedNow.Add(-time.Hour)
	for _, task := range []domain.Task{
		{Title: "high", Priority: domain.PriorityHigh},
		{Title: "urgent", Priority: domain.PriorityUrgent, DueDate: &past},
		{Title: "done", Status: domain.StatusCompleted},
	} {
		_, err := ws.AddTask(context.Background(), task)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"high"}, taskTitles(ws.FilteredTasks(FilterHighPriority)))
	assert.Equal(t, []string{"done"}, taskTitles(ws.FilteredTasks(FilterCompleted)))
	assert.Len(t, ws.FilteredTasks(FilterPending), 2)
	assert.Len(t, ws.FilteredTasks(FilterAll), 3)

	assert.Equal(t, Stats{Total: 3, Completed: 1, Pending: 2, Overdue: 1}, ws.Stats())

	f, err := ParseFilter("HighPriority")
	require.NoError(t, err)
	assert.Equal(t, FilterHighPriority, f)
	_, err = ParseFilter("someday")
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestSetTaskStatusAndComments(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	other := seedIdentity(t, store, "bob")
	ws := listen(t, store, me)
	bob := listen(t, store, other)

	task, err := ws.AddTask(context.Background(), domain.Task{Title: "shared", AssignedTo: other.ID})
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := bob.Task(task.ID); return ok }, waitFor, tick)

	_, err = bob.SetTaskStatus(context.Background(), task.ID, "paused")
	assert.ErrorIs(t, err, domain.ErrInvalid)

	moved, err := bob.SetTaskStatus(context.Background(), task.ID, domain.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, moved.Status)
	assert.False(t, moved.IsCompleted)

	commented, err := bob.AddComment(context.Background(), task.ID, "on it")
	require.NoError(t, err)
	require.Len(t, commented.Comments, 1)
	assert.Equal(t, other.ID, commented.Comments[0].AuthorID)

	done, err := bob.SetTaskStatus(context.Background(), task.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)

	require.Eventually(t, func() bool {
		types := map[domain.NotificationType]bool{}
		for _, n := range ws.Notifications() {
			types[n.Type] = true
		}
		return types[domain.NotificationComment] && types[domain.NotificationTaskCompleted]
	}, waitFor, tick)
	assert.Equal(t, ws.UnreadCount(), len(ws.Notifications()))
}

func TestAssignTask_NotifiesAssignee(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	other := seedIdentity(t, store, "bob")
	ws := listen(t, store, me)
	bob := listen(t, store, other)

	task, err := ws.AddTask(context.Background(), domain.Task{Title: "handover"})
	require.NoError(t, err)

	assigned, err := ws.AssignTask(context.Background(), task.ID, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, assigned.AssignedTo)
	assert.Equal(t, fixedNow, assigned.UpdatedAt)

	// personal tasks follow their assignee
	require.Eventually(t, func() bool { _, ok := ws.Task(task.ID); return !ok }, waitFor, tick)

	require.Eventually(t, func() bool {
		ns := bob.Notifications()
		return len(ns) == 1 && ns[0].Type == domain.NotificationTaskAssigned && ns[0].TaskID == task.ID
	}, waitFor, tick)
	_, ok := bob.Task(task.ID)
	assert.True(t, ok)

	_, err = ws.AssignTask(context.Background(), task.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestUpdateAndDeleteTask(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	task, err := ws.AddTask(context.Background(), domain.Task{Title: "draft"})
	require.NoError(t, err)

	edit := *task
	edit.Title = "final"
	edit.CreatedBy = "someone else"
	edit.Tags = []string{"release"}
	updated, err := ws.UpdateTask(context.Background(), edit)
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Title)
	assert.Equal(t, me.ID, updated.CreatedBy)
	assert.Equal(t, []string{"release"}, updated.Tags)

	require.NoError(t, ws.DeleteTask(context.Background(), task.ID))
	require.Eventually(t, func() bool { _, ok := ws.Task(task.ID); return !ok }, waitFor, tick)

	assert.ErrorIs(t, ws.DeleteTask(context.Background(), task.ID), domain.ErrNotFound)
	assert.ErrorIs(t, ws.DeleteTask(context.Background(), newLocalID()), domain.ErrConflict)
}

func TestJoinGroupByInviteCode_Scenario(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	admin := listen(t, store, u1)
	joiner := listen(t, store, u2)

	g, err := admin.AddGroup(context.Background(), domain.Group{Name: "G", InviteCode: "XYZ98765"})
	require.NoError(t, err)
	assert.Equal(t, []string{u1.ID}, g.MemberIDs)

	joined, err := joiner.JoinGroupByInviteCode(context.Background(), "XYZ98765")
	require.NoError(t, err)
	assert.Equal(t, []string{u1.ID, u2.ID}, joined.MemberIDs)
	assert.Equal(t, []domain.Identity{u1, u2}, joined.Members)

	again, err := joiner.JoinGroupByInviteCode(context.Background(), "XYZ98765")
	assert.Nil(t, again)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "You are already a member of this group.", JoinFailureMessage(err))

	stored, err := store.FindGroupByInviteCode(context.Background(), "XYZ98765")
	require.NoError(t, err)
	assert.Equal(t, []string{u1.ID, u2.ID}, stored.MemberIDs)

	local, ok := joiner.Group(g.ID)
	require.True(t, ok)
	assert.Equal(t, []string{u1.ID, u2.ID}, local.MemberIDs)

	require.Eventually(t, func() bool {
		ns := admin.Notifications()
		return len(ns) == 1 && ns[0].Type == domain.NotificationGroupInvite && ns[0].SenderID == u2.ID
	}, waitFor, tick)
}

func TestJoinGroupByInviteCode_CaseInsensitive(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	admin := listen(t, store, u1)
	joiner := listen(t, store, u2)

	g, err := admin.AddGroup(context.Background(), domain.Group{Name: "G", InviteCode: "AB12CD34"})
	require.NoError(t, err)

	joined, err := joiner.JoinGroupByInviteCode(context.Background(), "  ab12cd34 ")
	require.NoError(t, err)
	assert.Equal(t, g.ID, joined.ID)
}

func TestJoinGroupByInviteCode_Failures(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	admin := listen(t, store, u1)
	joiner := listen(t, store, u2)

	_, err := joiner.JoinGroupByInviteCode(context.Background(), "NOPE0000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "Invalid invite code. Please check the code and try again.", JoinFailureMessage(err))

	_, err = admin.AddGroup(context.Background(), domain.Group{Name: "G", InviteCode: "QWERTY12"})
	require.NoError(t, err)

	store.failOn("AddMember", errUnavailable)
	_, err = joiner.JoinGroupByInviteCode(context.Background(), "QWERTY12")
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.Equal(t, "Failed to join group. Please try again.", JoinFailureMessage(err))
	assert.Empty(t, joiner.Groups())
	assert.Zero(t, joiner.PendingWrites())

	idle := New(store)
	defer idle.Close()
	_, err = idle.JoinGroupByInviteCode(context.Background(), "QWERTY12")
	assert.Equal(t, "Please sign in to join a group.", JoinFailureMessage(err))
}

func TestGroupTasksFollowMembership(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	admin := listen(t, store, u1)
	joiner := listen(t, store, u2)

	g, err := admin.AddGroup(context.Background(), domain.Group{Name: "G"})
	require.NoError(t, err)
	require.Len(t, g.InviteCode, domain.InviteCodeLength)
	task, err := admin.AddTask(context.Background(), domain.Task{Title: "team task", GroupID: g.ID})
	require.NoError(t, err)

	assert.Empty(t, joiner.Tasks())
	_, err = joiner.JoinGroupByInviteCode(context.Background(), g.InviteCode)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got := joiner.GroupTasks(g.ID)
		return len(got) == 1 && got[0].ID == task.ID
	}, waitFor, tick)

	members, err := joiner.AssignableIdentities(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{u1, u2}, members)
}

func TestDeleteGroup_CascadesToItsTasksOnly(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	ws := listen(t, store, u1)

	doomed, err := ws.AddGroup(context.Background(), domain.Group{Name: "doomed"})
	require.NoError(t, err)
	kept, err := ws.AddGroup(context.Background(), domain.Group{Name: "kept"})
	require.NoError(t, err)

	for _, task := range []domain.Task{
		{Title: "d1", GroupID: doomed.ID},
		{Title: "d2", GroupID: doomed.ID, AssignedTo: u2.ID},
		{Title: "k1", GroupID: kept.ID, AssignedTo: u2.ID},
		{Title: "personal"},
	} {
		_, err := ws.AddTask(context.Background(), task)
		require.NoError(t, err)
	}
	waitTaskCount(t, ws, 4)

	require.NoError(t, ws.DeleteGroup(context.Background(), doomed.ID))
	_, ok := ws.Group(doomed.ID)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		return len(ws.Groups()) == 1 && len(ws.Tasks()) == 2
	}, waitFor, tick)
	assert.ElementsMatch(t, []string{"k1", "personal"}, taskTitles(ws.Tasks()))
}

func TestDeleteGroup_FailureRestoresGroupAndTasks(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	ws := listen(t, store, u1)

	g, err := ws.AddGroup(context.Background(), domain.Group{Name: "G"})
	require.NoError(t, err)
	_, err = ws.AddTask(context.Background(), domain.Task{Title: "t", GroupID: g.ID})
	require.NoError(t, err)
	waitTaskCount(t, ws, 1)

	store.failOn("DeleteGroup", errUnavailable)
	assert.ErrorIs(t, ws.DeleteGroup(context.Background(), g.ID), domain.ErrRemote)
	assert.Len(t, ws.Groups(), 1)
	assert.Len(t, ws.Tasks(), 1)
}

func TestDeleteGroup_OnlyAdmin(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	admin := listen(t, store, u1)
	member := listen(t, store, u2)

	g, err := admin.AddGroup(context.Background(), domain.Group{Name: "G"})
	require.NoError(t, err)
	_, err = member.JoinGroupByInviteCode(context.Background(), g.InviteCode)
	require.NoError(t, err)

	assert.ErrorIs(t, member.DeleteGroup(context.Background(), g.ID), domain.ErrForbidden)
	assert.ErrorIs(t, member.DeleteGroup(context.Background(), "missing"), domain.ErrNotFound)
}

func TestAddGroup(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	ws := listen(t, store, u1)

	_, err := ws.AddGroup(context.Background(), domain.Group{Name: " "})
	assert.ErrorIs(t, err, domain.ErrInvalid)

	g, err := ws.AddGroup(context.Background(), domain.Group{Name: "G", InviteCode: "ab12cd34"})
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", g.InviteCode)
	assert.Equal(t, u1.ID, g.AdminID)

	_, err = ws.AddGroup(context.Background(), domain.Group{Name: "copy", InviteCode: "AB12CD34"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, ws.Groups(), 1)

	updated, err := ws.AddMemberToGroup(context.Background(), g.ID, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{u1.ID, u2.ID}, updated.MemberIDs)

	_, err = ws.AddMemberToGroup(context.Background(), g.ID, u2.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestMarkNotificationRead(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	ws := listen(t, store, u1)

	n, err := store.CreateNotification(context.Background(), &domain.Notification{
		Title: "hi", Type: domain.NotificationDueSoon, RecipientID: u1.ID, CreatedAt: fixedNow,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ws.UnreadCount() == 1 }, waitFor, tick)

	require.NoError(t, ws.MarkNotificationRead(context.Background(), n.ID))
	assert.Zero(t, ws.UnreadCount())
	assert.NoError(t, ws.MarkNotificationRead(context.Background(), n.ID))
	assert.ErrorIs(t, ws.MarkNotificationRead(context.Background(), "missing"), domain.ErrNotFound)
}

func TestSubscriptionErrorLeavesStateUntouched(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	feed := make(chan domain.Snapshot[domain.Task])
	store.feeds = map[string]chan domain.Snapshot[domain.Task]{u1.ID: feed}
	ws := listen(t, store, u1)
	t.Cleanup(func() { close(feed) })

	feed <- domain.Snapshot[domain.Task]{Items: []domain.Task{{ID: "t1", Title: "kept", AssignedTo: u1.ID}}}
	waitTaskCount(t, ws, 1)

	feed <- domain.Snapshot[domain.Task]{Err: errUnavailable}
	// an unbuffered send completes only after the previous snapshot was applied
	feed <- domain.Snapshot[domain.Task]{Err: errUnavailable}
	assert.Equal(t, []string{"kept"}, taskTitles(ws.Tasks()))
}

func TestStopListeningClearsEverything(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	ws := listen(t, store, u1)

	var changes atomic.Int32
	ws.OnChange(func(Change) { changes.Add(1) })

	_, err := ws.AddGroup(context.Background(), domain.Group{Name: "G"})
	require.NoError(t, err)
	_, err = ws.AddTask(context.Background(), domain.Task{Title: "t"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return changes.Load() > 0 }, waitFor, tick)

	ws.StopListening()
	assert.Empty(t, ws.Tasks())
	assert.Empty(t, ws.Groups())
	assert.Empty(t, ws.Notifications())
	assert.Nil(t, ws.Identity())

	_, err = ws.AddTask(context.Background(), domain.Task{Title: "t"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	ws.StartListening(context.Background(), u1)
	waitTaskCount(t, ws, 1)
	require.Eventually(t, func() bool { return len(ws.Groups()) == 1 }, waitFor, tick)
}

func TestAssignableIdentities_Personal(t *testing.T) {
	store := newFlakyStore()
	ann := seedIdentity(t, store, "ann")
	bob := seedIdentity(t, store, "bob")
	ws := listen(t, store, ann)

	all, err := ws.AssignableIdentities(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{ann, bob}, all)

	_, err = ws.AssignableIdentities(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddTask_SnapshotBeforeReplyShowsOneEntry(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	landing := store.holdLanding()
	done := make(chan error, 1)
	go func() {
		_, err := ws.AddTask(context.Background(), domain.Task{Title: "landed"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		tasks := ws.Tasks()
		return len(tasks) == 1 && !isLocalID(tasks[0].ID)
	}, waitFor, tick)
	assert.Equal(t, 1, ws.PendingWrites(), "create is still in flight")

	close(landing)
	require.NoError(t, <-done)
	tasks := ws.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "landed", tasks[0].Title)
	assert.Zero(t, ws.PendingWrites())
}

func TestAddTask_EarlierIdenticalTaskDoesNotHideCreate(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	_, err := ws.AddTask(context.Background(), domain.Task{Title: "twin"})
	require.NoError(t, err)
	waitTaskCount(t, ws, 1)

	gate := store.hold()
	done := make(chan error, 1)
	go func() {
		_, err := ws.AddTask(context.Background(), domain.Task{Title: "twin"})
		done <- err
	}()

	waitTaskCount(t, ws, 2)
	close(gate)
	require.NoError(t, <-done)
	waitTaskCount(t, ws, 2)
}

func TestAddGroup_SnapshotBeforeReplyShowsOneEntry(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	landing := store.holdLanding()
	done := make(chan error, 1)
	go func() {
		_, err := ws.AddGroup(context.Background(), domain.Group{Name: "G"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		groups := ws.Groups()
		return len(groups) == 1 && !isLocalID(groups[0].ID)
	}, waitFor, tick)

	close(landing)
	require.NoError(t, <-done)
	assert.Len(t, ws.Groups(), 1)
	assert.Zero(t, ws.PendingWrites())
}

func TestAddGroup_RemoteFailureRemovesGroup(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	kept, err := ws.AddGroup(context.Background(), domain.Group{Name: "kept"})
	require.NoError(t, err)

	store.failOn("CreateGroup", errUnavailable)
	g, err := ws.AddGroup(context.Background(), domain.Group{Name: "doomed", InviteCode: "XYZ98765"})
	assert.Nil(t, g)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.NotErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, []string{kept.ID}, groupIDs(ws.Groups()))
	assert.Zero(t, ws.PendingWrites())

	_, err = store.FindGroupByInviteCode(context.Background(), "XYZ98765")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteTask_RemoteFailureRestoresTask(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	ws := listen(t, store, me)

	task, err := ws.AddTask(context.Background(), domain.Task{Title: "survivor"})
	require.NoError(t, err)
	waitTaskCount(t, ws, 1)

	store.failOn("DeleteTask", errUnavailable)
	before := ws.Tasks()
	err = ws.DeleteTask(context.Background(), task.ID)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, before, ws.Tasks())
	assert.Zero(t, ws.PendingWrites())

	got, ok := ws.Task(task.ID)
	require.True(t, ok)
	assert.Equal(t, "survivor", got.Title)
}

func TestAssignTask_RemoteFailureKeepsAssigneeAndSendsNothing(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	other := seedIdentity(t, store, "bob")
	ws := listen(t, store, me)

	task, err := ws.AddTask(context.Background(), domain.Task{Title: "handover"})
	require.NoError(t, err)
	waitTaskCount(t, ws, 1)

	store.failOn("UpdateTask", errUnavailable)
	before := ws.Tasks()
	sent := store.notified.Load()
	assigned, err := ws.AssignTask(context.Background(), task.ID, other.ID)
	assert.Nil(t, assigned)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.Equal(t, before, ws.Tasks())
	assert.Zero(t, ws.PendingWrites())
	assert.Equal(t, sent, store.notified.Load())

	got, ok := ws.Task(task.ID)
	require.True(t, ok)
	assert.Equal(t, me.ID, got.AssignedTo)
}

func TestAddMemberToGroup_RemoteFailureRestoresMembers(t *testing.T) {
	store := newFlakyStore()
	u1 := seedIdentity(t, store, "u1")
	u2 := seedIdentity(t, store, "u2")
	ws := listen(t, store, u1)

	g, err := ws.AddGroup(context.Background(), domain.Group{Name: "G"})
	require.NoError(t, err)

	store.failOn("AddMember", errUnavailable)
	sent := store.notified.Load()
	updated, err := ws.AddMemberToGroup(context.Background(), g.ID, u2.ID)
	assert.Nil(t, updated)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.Equal(t, []string{g.ID}, groupIDs(ws.Groups()))
	assert.Zero(t, ws.PendingWrites())
	assert.Equal(t, sent, store.notified.Load())

	local, ok := ws.Group(g.ID)
	require.True(t, ok)
	assert.Equal(t, []string{u1.ID}, local.MemberIDs)
}

func groupIDs(groups []domain.Group) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.ID
	}
	return out
}

func TestLostCreateReply_ConvergesOnStore(t *testing.T) {
	store := newFlakyStore()
	me := seedIdentity(t, store, "ann")
	guarded := remote.New(store, remote.Config{MaxAttempts: 5, Backoff: time.Millisecond, MaxFailures: 10})
	ws := listen(t, guarded, me)

	store.loseReplies.Store(true)
	_, err := ws.AddTask(context.Background(), domain.Task{Title: "once"})
	assert.ErrorIs(t, err, domain.ErrRemote)

	require.Eventually(t, func() bool {
		tasks := ws.Tasks()
		return len(tasks) == 1 && !isLocalID(tasks[0].ID)
	}, waitFor, tick)
	assert.Zero(t, ws.PendingWrites())

	_, err = ws.AddGroup(context.Background(), domain.Group{Name: "G", InviteCode: "XYZ98765"})
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.NotErrorIs(t, err, domain.ErrConflict)

	require.Eventually(t, func() bool {
		groups := ws.Groups()
		return len(groups) == 1 && groups[0].InviteCode == "XYZ98765" && !isLocalID(groups[0].ID)
	}, waitFor, tick)
	assert.Zero(t, ws.PendingWrites())

	// the task stays single after further snapshots
	require.Never(t, func() bool { return len(ws.Tasks()) != 1 }, 50*time.Millisecond, tick)
}
