package workspace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
)

const localIDPrefix = "local-"

func newLocalID() string { return localIDPrefix + uuid.NewString() }

func isLocalID(id string) bool { return strings.HasPrefix(id, localIDPrefix) }

// pendingWrite identifies one staged optimistic write.
type pendingWrite struct {
	id  string
	seq uint64
	gen uint64
}

// remoteErr wraps a store failure. Definite answers keep their own sentinel.
func remoteErr(op string, err error) error {
	if domain.IsPermanent(err) || errors.Is(err, domain.ErrRemote) || errors.Is(err, domain.ErrUnauthenticated) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRemote, err)
}

// createClaim ties an in-flight create to the record it produces. The subscription may
// deliver that record before the create returns; while it is in the base the local entry
// stays hidden. Base records that already carried the key when the create was staged never
// satisfy the claim.
type createClaim struct {
	key  string
	seen map[string]bool
}

func newCreateClaim(key string, base map[string]string) createClaim {
	c := createClaim{key: key, seen: make(map[string]bool)}
	for id, k := range base {
		if k == key {
			c.seen[id] = true
		}
	}
	return c
}

// landed reports whether an unclaimed base record satisfies c, claiming it if so.
func (c createClaim) landed(base map[string]string, claimed map[string]bool) bool {
	for id, k := range base {
		if k == c.key && !c.seen[id] && !claimed[id] {
			claimed[id] = true
			return true
		}
	}
	return false
}

func creationKey(parts ...string) string { return strings.Join(parts, "\x00") }

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func taskKey(t domain.Task) string {
	return creationKey(t.CreatedBy, t.GroupID, t.Title, millis(t.CreatedAt))
}

func groupKey(g domain.Group) string {
	return creationKey(g.AdminID, g.Name, millis(g.CreatedAt))
}

func (w *Workspace) baseTaskKeys() map[string]string {
	keys := make(map[string]string, len(w.personal)+len(w.grouped))
	for id, t := range w.personal {
		keys[id] = taskKey(t)
	}
	for id, t := range w.grouped {
		keys[id] = taskKey(t)
	}
	return keys
}

func groupKeys(groups map[string]domain.Group) map[string]string {
	keys := make(map[string]string, len(groups))
	for id, g := range groups {
		keys[id] = groupKey(g)
	}
	return keys
}

// stageTaskCreate stages value, which carries a local id, as a pending create.
func (w *Workspace) stageTaskCreate(value *domain.Task) pendingWrite {
	w.mu.Lock()
	w.taskCreates[value.ID] = newCreateClaim(taskKey(*value), w.baseTaskKeys())
	w.mu.Unlock()
	return w.stageTask(value.ID, value)
}

func (w *Workspace) stageGroupCreate(value *domain.Group) pendingWrite {
	w.mu.Lock()
	w.groupCreates[value.ID] = newCreateClaim(groupKey(*value), groupKeys(w.groups))
	w.mu.Unlock()
	return w.stageGroup(value.ID, value)
}

func (w *Workspace) stageTask(id string, value *domain.Task) pendingWrite {
	w.mu.Lock()
	p := pendingWrite{id: id, seq: w.taskWrites.put(id, value), gen: w.gen}
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Tasks: true})
	return p
}

// settleTask resolves a staged task write. On success fold is applied to the base under the
// lock, unless a newer write for the same record has already been folded.
func (w *Workspace) settleTask(p pendingWrite, ok bool, fold func()) {
	w.mu.Lock()
	if p.gen != w.gen {
		w.mu.Unlock()
		return
	}
	delete(w.taskCreates, p.id)
	if newer := w.taskWrites.drop(p.id, p.seq); ok && newer && fold != nil {
		fold()
		w.taskWrites.markFolded(p.id, p.seq)
	}
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Tasks: true})
}

func (w *Workspace) stageGroup(id string, value *domain.Group) pendingWrite {
	w.mu.Lock()
	p := pendingWrite{id: id, seq: w.groupWrites.put(id, value), gen: w.gen}
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Tasks: true, Groups: true})
	return p
}

func (w *Workspace) settleGroup(p pendingWrite, ok bool, fold func()) {
	w.mu.Lock()
	if p.gen != w.gen {
		w.mu.Unlock()
		return
	}
	delete(w.groupCreates, p.id)
	if newer := w.groupWrites.drop(p.id, p.seq); ok && newer && fold != nil {
		fold()
		w.groupWrites.markFolded(p.id, p.seq)
	}
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Tasks: true, Groups: true})
}

// foldTaskLocked writes a confirmed task into whichever base collections would carry it.
func (w *Workspace) foldTaskLocked(t domain.Task) {
	delete(w.personal, t.ID)
	delete(w.grouped, t.ID)
	if w.identity != nil && t.AssignedTo == w.identity.ID {
		w.personal[t.ID] = t.Clone()
	}
	if t.GroupID != "" && w.groupKnownLocked(t.GroupID) {
		w.grouped[t.ID] = t.Clone()
	}
}

func (w *Workspace) dropTaskLocked(id string) {
	delete(w.personal, id)
	delete(w.grouped, id)
}

func (w *Workspace) groupKnownLocked(id string) bool {
	if w.groupScope[id] {
		return true
	}
	_, ok := w.groups[id]
	return ok
}

// notify creates a notification for someone else. Failures are logged and never undo the
// mutation that caused them.
func (w *Workspace) notify(ctx context.Context, n domain.Notification) {
	if n.RecipientID == "" || n.RecipientID == n.SenderID {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = w.now()
	}
	if _, err := w.store.CreateNotification(ctx, &n); err != nil {
		logger.WarnLog(ctx, fmt.Sprintf("create %s notification for %s: %v", n.Type, n.RecipientID, err))
	}
}
