// Package workspace mirrors the signed-in identity's tasks, groups and notifications from
// the remote document store into local state. Mutations apply locally first, then write
// remotely, and are reverted when the remote write fails. Live subscriptions keep the local
// collections in step with the store.
package workspace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/pkg/pipeline"
)

// Change tells observers which collections were touched.
type Change struct {
	Tasks         bool
	Groups        bool
	Notifications bool
}

var changeAll = Change{Tasks: true, Groups: true, Notifications: true}

// Workspace is the local view of one identity's data. Construct one per session.
type Workspace struct {
	store             domain.Store
	now               func() time.Time
	notificationLimit int
	newID             func() string

	mu       sync.Mutex
	identity *domain.Identity
	gen      uint64

	// base collections as last delivered by the subscriptions
	personal      map[string]domain.Task
	grouped       map[string]domain.Task
	groups        map[string]domain.Group
	notifications map[string]domain.Notification
	// groupScope is the group-id set of the active group-task subscription
	groupScope map[string]bool

	taskWrites  *overlay[domain.Task]
	groupWrites *overlay[domain.Group]
	readWrites  *overlay[domain.Notification]
	// in-flight creates by local id
	taskCreates  map[string]createClaim
	groupCreates map[string]createClaim

	// materialized views, rebuilt after every change
	taskView         []domain.Task
	groupView        []domain.Group
	notificationView []domain.Notification

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	groupTasks *pipeline.Switch[domain.Snapshot[domain.Task]]

	events      *pipeline.ActionBlock
	observersMu sync.RWMutex
	observers   []func(Change)
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workspace) { w.now = now }
}

// WithNotificationLimit sets how many recent notifications are mirrored.
func WithNotificationLimit(n int) Option {
	return func(w *Workspace) {
		if n > 0 {
			w.notificationLimit = n
		}
	}
}

// WithIDGenerator replaces the generator of local ids for records not yet created remotely.
func WithIDGenerator(fn func() string) Option {
	return func(w *Workspace) { w.newID = fn }
}

// New returns an idle Workspace. Call StartListening once an identity is signed in.
func New(store domain.Store, opts ...Option) *Workspace {
	w := &Workspace{
		store:             store,
		now:               func() time.Time { return time.Now().UTC() },
		notificationLimit: domain.DefaultNotificationLimit,
		newID:             newLocalID,
		personal:          make(map[string]domain.Task),
		grouped:           make(map[string]domain.Task),
		groups:            make(map[string]domain.Group),
		notifications:     make(map[string]domain.Notification),
		groupScope:        make(map[string]bool),
		taskWrites:        newOverlay[domain.Task](),
		groupWrites:       newOverlay[domain.Group](),
		readWrites:        newOverlay[domain.Notification](),
		taskCreates:       make(map[string]createClaim),
		groupCreates:      make(map[string]createClaim),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.events = pipeline.NewActionBlock(w.dispatch,
		pipeline.WithBufferSize(256),
		pipeline.WithErrorHandler(func(_ interface{}, err error) {
			logger.ErrorLog(context.Background(), fmt.Sprintf("workspace observer failed: %v", err))
		}),
	)
	return w
}

// Close stops listening and shuts the observer queue down.
func (w *Workspace) Close() {
	w.StopListening()
	w.events.Complete()
	w.events.Wait()
}

// OnChange registers fn. Observers are called one at a time, in change order, off the
// mutation path.
func (w *Workspace) OnChange(fn func(Change)) {
	w.observersMu.Lock()
	defer w.observersMu.Unlock()
	w.observers = append(w.observers, fn)
}

func (w *Workspace) dispatch(msg interface{}) error {
	change := msg.(Change)
	w.observersMu.RLock()
	observers := append([]func(Change){}, w.observers...)
	w.observersMu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
	return nil
}

func (w *Workspace) emit(change Change) {
	if !w.events.Post(change) {
		logger.DebugLog(context.Background(), "workspace change notification dropped")
	}
}

// Identity returns the identity the workspace is listening for, or nil.
func (w *Workspace) Identity() *domain.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.identity.Clone()
}

func (w *Workspace) actingIdentity() (domain.Identity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.identity == nil {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	return *w.identity, nil
}

// rebuildLocked recomputes the views from base collections and pending writes.
func (w *Workspace) rebuildLocked() {
	groups := make(map[string]domain.Group, len(w.groups))
	for id, g := range w.groups {
		groups[id] = g
	}
	deletedGroups := make(map[string]bool)
	claimedGroups := make(map[string]bool)
	var baseGroupKeys map[string]string
	if len(w.groupCreates) > 0 {
		baseGroupKeys = groupKeys(w.groups)
	}
	w.groupWrites.each(func(id string, g *domain.Group) {
		if g == nil {
			delete(groups, id)
			deletedGroups[id] = true
			return
		}
		if claim, ok := w.groupCreates[id]; ok && claim.landed(baseGroupKeys, claimedGroups) {
			return
		}
		groups[id] = *g
	})
	w.groupView = w.groupView[:0]
	for _, g := range groups {
		w.groupView = append(w.groupView, g.Clone())
	}
	domain.SortGroups(w.groupView)

	tasks := make(map[string]domain.Task, len(w.personal)+len(w.grouped))
	for id, t := range w.personal {
		tasks[id] = t
	}
	for id, t := range w.grouped {
		tasks[id] = t
	}
	claimedTasks := make(map[string]bool)
	var baseKeys map[string]string
	if len(w.taskCreates) > 0 {
		baseKeys = w.baseTaskKeys()
	}
	w.taskWrites.each(func(id string, t *domain.Task) {
		if t == nil {
			delete(tasks, id)
			return
		}
		if claim, ok := w.taskCreates[id]; ok && claim.landed(baseKeys, claimedTasks) {
			return
		}
		tasks[id] = *t
	})
	w.taskView = w.taskView[:0]
	for _, t := range tasks {
		if t.GroupID != "" && deletedGroups[t.GroupID] {
			continue
		}
		w.taskView = append(w.taskView, t.Clone())
	}
	domain.SortTasks(w.taskView)

	notifications := make(map[string]domain.Notification, len(w.notifications))
	for id, n := range w.notifications {
		notifications[id] = n
	}
	w.readWrites.each(func(id string, n *domain.Notification) {
		if _, ok := notifications[id]; ok && n != nil {
			notifications[id] = *n
		}
	})
	w.notificationView = w.notificationView[:0]
	for _, n := range notifications {
		w.notificationView = append(w.notificationView, n)
	}
	domain.SortNotifications(w.notificationView)
	if len(w.notificationView) > w.notificationLimit {
		w.notificationView = w.notificationView[:w.notificationLimit]
	}
}

func (w *Workspace) resetLocked() {
	w.identity = nil
	w.gen++
	w.personal = make(map[string]domain.Task)
	w.grouped = make(map[string]domain.Task)
	w.groups = make(map[string]domain.Group)
	w.notifications = make(map[string]domain.Notification)
	w.groupScope = make(map[string]bool)
	w.taskWrites.reset()
	w.groupWrites.reset()
	w.readWrites.reset()
	w.taskCreates = make(map[string]createClaim)
	w.groupCreates = make(map[string]createClaim)
	w.rebuildLocked()
}

// --- reads ---

// Tasks returns all visible tasks in canonical order.
func (w *Workspace) Tasks() []domain.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneTasks(w.taskView)
}

// Task returns the visible task with id.
func (w *Workspace) Task(id string) (domain.Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.taskLocked(id)
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

func (w *Workspace) taskLocked(id string) (domain.Task, bool) {
	for _, t := range w.taskView {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// GroupTasks returns the visible tasks of one group in canonical order.
func (w *Workspace) GroupTasks(groupID string) []domain.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []domain.Task
	for _, t := range w.taskView {
		if t.GroupID == groupID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Groups returns the visible groups ordered by name.
func (w *Workspace) Groups() []domain.Group {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.Group, len(w.groupView))
	for i, g := range w.groupView {
		out[i] = g.Clone()
	}
	return out
}

// Group returns the visible group with id.
func (w *Workspace) Group(id string) (domain.Group, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	g, ok := w.groupLocked(id)
	if !ok {
		return domain.Group{}, false
	}
	return g.Clone(), true
}

func (w *Workspace) groupLocked(id string) (domain.Group, bool) {
	for _, g := range w.groupView {
		if g.ID == id {
			return g, true
		}
	}
	return domain.Group{}, false
}

// Notifications returns the mirrored notifications, most recent first.
func (w *Workspace) Notifications() []domain.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.Notification(nil), w.notificationView...)
}

// UnreadCount returns how many mirrored notifications are unread.
func (w *Workspace) UnreadCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, notification := range w.notificationView {
		if !notification.IsRead {
			n++
		}
	}
	return n
}

// Stats summarizes the visible collections.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
	Groups    int `json:"groups"`
}

// Stats counts visible tasks and groups.
func (w *Workspace) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	s := Stats{Total: len(w.taskView), Groups: len(w.groupView)}
	for i := range w.taskView {
		t := &w.taskView[i]
		if t.IsCompleted {
			s.Completed++
		} else {
			s.Pending++
		}
		if t.IsOverdue(now) {
			s.Overdue++
		}
	}
	return s
}

// PendingWrites returns the number of optimistic writes not yet confirmed or reverted.
func (w *Workspace) PendingWrites() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.taskWrites.pending() + w.groupWrites.pending() + w.readWrites.pending()
}

// AssignableIdentities lists who a task can be assigned to: the members of groupID, or
// every identity for personal tasks.
func (w *Workspace) AssignableIdentities(ctx context.Context, groupID string) ([]domain.Identity, error) {
	if groupID == "" {
		all, err := w.store.ListAllIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("list identities: %w", err)
		}
		sortIdentities(all)
		return all, nil
	}

	g, ok := w.Group(groupID)
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	if len(g.Members) == len(g.MemberIDs) {
		return g.Members, nil
	}
	members, err := w.store.ListIdentities(ctx, g.MemberIDs)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return orderMembers(g.MemberIDs, members), nil
}

func cloneTasks(in []domain.Task) []domain.Task {
	out := make([]domain.Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

func sortIdentities(ids []domain.Identity) {
	sort.SliceStable(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].ID < ids[j].ID
	})
}

// orderMembers returns identities in member-list order, skipping ids that did not resolve.
func orderMembers(memberIDs []string, identities []domain.Identity) []domain.Identity {
	byID := make(map[string]domain.Identity, len(identities))
	for _, identity := range identities {
		byID[identity.ID] = identity
	}
	out := make([]domain.Identity, 0, len(memberIDs))
	for _, id := range memberIDs {
		if identity, ok := byID[id]; ok {
			out = append(out, identity)
		}
	}
	return out
}
