package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/pkg/pipeline"
)

// StartListening opens the live queries for identity. A running set of subscriptions for a
// different identity is stopped first; calling it again for the same identity is a no-op.
func (w *Workspace) StartListening(ctx context.Context, identity domain.Identity) {
	w.mu.Lock()
	if w.identity != nil && w.identity.ID == identity.ID && w.cancel != nil {
		w.mu.Unlock()
		return
	}
	running := w.cancel != nil
	w.mu.Unlock()
	if running {
		w.StopListening()
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	listenCtx = logger.WithIdentity(listenCtx, identity.ID)

	w.mu.Lock()
	w.resetLocked()
	w.identity = identity.Clone()
	gen := w.gen
	w.cancel = cancel
	w.groupTasks = pipeline.NewSwitch(listenCtx, func(snap domain.Snapshot[domain.Task]) {
		w.applyGroupTasks(listenCtx, gen, snap)
	})
	w.mu.Unlock()

	logger.InfoLog(listenCtx, "workspace listening")

	personal := w.store.WatchTasksByAssignee(listenCtx, identity.ID)
	groups := w.store.WatchGroupsByMember(listenCtx, identity.ID)
	notifications := w.store.WatchNotifications(listenCtx, identity.ID, w.notificationLimit)

	w.wg.Add(3)
	go func() {
		defer w.wg.Done()
		for snap := range personal {
			w.applyPersonalTasks(listenCtx, gen, snap)
		}
	}()
	go func() {
		defer w.wg.Done()
		for snap := range groups {
			w.applyGroups(listenCtx, gen, snap)
		}
	}()
	go func() {
		defer w.wg.Done()
		for snap := range notifications {
			w.applyNotifications(listenCtx, gen, snap)
		}
	}()
}

// StopListening cancels every subscription and clears all collections.
func (w *Workspace) StopListening() {
	w.mu.Lock()
	cancel := w.cancel
	groupTasks := w.groupTasks
	w.cancel = nil
	w.groupTasks = nil
	w.resetLocked()
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	groupTasks.Stop()
	logger.InfoLog(context.Background(), "workspace stopped listening")
	w.emit(changeAll)
}

func (w *Workspace) applyPersonalTasks(ctx context.Context, gen uint64, snap domain.Snapshot[domain.Task]) {
	if snap.Err != nil {
		logger.ErrorLog(ctx, fmt.Sprintf("personal task subscription: %v", snap.Err))
		return
	}
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.personal = indexTasks(snap.Items)
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Tasks: true})
}

func (w *Workspace) applyGroupTasks(ctx context.Context, gen uint64, snap domain.Snapshot[domain.Task]) {
	if snap.Err != nil {
		logger.ErrorLog(ctx, fmt.Sprintf("group task subscription: %v", snap.Err))
		return
	}
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	grouped := make(map[string]domain.Task, len(snap.Items))
	for _, t := range snap.Items {
		if w.groupScope[t.GroupID] {
			grouped[t.ID] = t.Clone()
		}
	}
	w.grouped = grouped
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Tasks: true})
}

func (w *Workspace) applyGroups(ctx context.Context, gen uint64, snap domain.Snapshot[domain.Group]) {
	if snap.Err != nil {
		logger.ErrorLog(ctx, fmt.Sprintf("group subscription: %v", snap.Err))
		return
	}
	groups, err := w.resolveMembers(ctx, snap.Items)
	if err != nil {
		logger.ErrorLog(ctx, fmt.Sprintf("resolve group members: %v", err))
		return
	}

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.groups = make(map[string]domain.Group, len(groups))
	scope := make(map[string]bool, len(groups))
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		w.groups[g.ID] = g
		scope[g.ID] = true
		ids = append(ids, g.ID)
	}
	w.groupScope = scope
	for id, t := range w.grouped {
		if !scope[t.GroupID] {
			delete(w.grouped, id)
		}
	}
	w.rebuildLocked()
	groupTasks := w.groupTasks
	w.mu.Unlock()
	w.emit(Change{Tasks: true, Groups: true})

	if groupTasks != nil {
		w.resubscribeGroupTasks(groupTasks, ids)
	}
}

// resubscribeGroupTasks points the group-task query at ids. Deliveries from the replaced
// query are discarded by the switch.
func (w *Workspace) resubscribeGroupTasks(groupTasks *pipeline.Switch[domain.Snapshot[domain.Task]], ids []string) {
	sort.Strings(ids)
	if len(ids) == 0 {
		groupTasks.Replace("", nil)
		return
	}
	key := strings.Join(ids, ",")
	groupTasks.Replace(key, func(ctx context.Context) <-chan domain.Snapshot[domain.Task] {
		return w.store.WatchTasksByGroups(ctx, ids)
	})
}

func (w *Workspace) applyNotifications(ctx context.Context, gen uint64, snap domain.Snapshot[domain.Notification]) {
	if snap.Err != nil {
		logger.ErrorLog(ctx, fmt.Sprintf("notification subscription: %v", snap.Err))
		return
	}
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.notifications = make(map[string]domain.Notification, len(snap.Items))
	for _, n := range snap.Items {
		w.notifications[n.ID] = n
	}
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Notifications: true})
}

// resolveMembers fills Members on every group with a single identity lookup.
func (w *Workspace) resolveMembers(ctx context.Context, groups []domain.Group) ([]domain.Group, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, g := range groups {
		for _, id := range g.MemberIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	var identities []domain.Identity
	if len(ids) > 0 {
		var err error
		identities, err = w.store.ListIdentities(ctx, ids)
		if err != nil {
			return nil, err
		}
	}
	out := make([]domain.Group, len(groups))
	for i, g := range groups {
		out[i] = g.Clone()
		out[i].Members = orderMembers(g.MemberIDs, identities)
	}
	return out, nil
}

func indexTasks(tasks []domain.Task) map[string]domain.Task {
	out := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t.Clone()
	}
	return out
}
