package workspace

import (
	"context"
	"fmt"

	"github.com/locvowork/task_management_sample/internal/domain"
)

// MarkNotificationRead marks one of the acting identity's notifications as read.
func (w *Workspace) MarkNotificationRead(ctx context.Context, id string) error {
	if _, err := w.actingIdentity(); err != nil {
		return err
	}

	w.mu.Lock()
	var current *domain.Notification
	for i := range w.notificationView {
		if w.notificationView[i].ID == id {
			n := w.notificationView[i]
			current = &n
			break
		}
	}
	if current == nil {
		w.mu.Unlock()
		return fmt.Errorf("mark notification read: notification %s: %w", id, domain.ErrNotFound)
	}
	if current.IsRead {
		w.mu.Unlock()
		return nil
	}
	current.IsRead = true
	p := pendingWrite{id: id, seq: w.readWrites.put(id, current), gen: w.gen}
	w.rebuildLocked()
	w.mu.Unlock()
	w.emit(Change{Notifications: true})

	err := w.store.MarkNotificationRead(ctx, id)

	w.mu.Lock()
	if p.gen == w.gen {
		if newer := w.readWrites.drop(id, p.seq); err == nil && newer {
			if n, ok := w.notifications[id]; ok {
				n.IsRead = true
				w.notifications[id] = n
			}
			w.readWrites.markFolded(id, p.seq)
		}
		w.rebuildLocked()
	}
	w.mu.Unlock()
	w.emit(Change{Notifications: true})

	if err != nil {
		return remoteErr("mark notification read", err)
	}
	return nil
}
