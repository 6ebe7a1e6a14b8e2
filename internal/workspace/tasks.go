package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/locvowork/task_management_sample/internal/domain"
)

// AddTask creates task for the acting identity. The task shows up immediately under a local
// id, which is replaced by the store-assigned id once the create succeeds.
func (w *Workspace) AddTask(ctx context.Context, task domain.Task) (*domain.Task, error) {
	me, err := w.actingIdentity()
	if err != nil {
		return nil, err
	}
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return nil, fmt.Errorf("add task: title is required: %w", domain.ErrInvalid)
	}
	if task.GroupID != "" {
		if _, ok := w.Group(task.GroupID); !ok {
			return nil, fmt.Errorf("add task: group %s: %w", task.GroupID, domain.ErrNotFound)
		}
	}

	now := w.now()
	task = task.Clone()
	task.ID = w.newID()
	if task.CreatedBy == "" {
		task.CreatedBy = me.ID
	}
	if task.AssignedTo == "" {
		task.AssignedTo = me.ID
	}
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Normalize()

	local := task
	p := w.stageTaskCreate(&local)

	toCreate := task
	toCreate.ID = ""
	created, err := w.store.CreateTask(ctx, &toCreate)
	if err != nil {
		w.settleTask(p, false, nil)
		return nil, remoteErr("add task", err)
	}
	w.settleTask(p, true, func() { w.foldTaskLocked(*created) })

	if created.AssignedTo != me.ID {
		w.notify(ctx, domain.Notification{
			Title:       "New task assigned",
			Message:     fmt.Sprintf("%s assigned you %q", me.Name, created.Title),
			Type:        domain.NotificationTaskAssigned,
			RecipientID: created.AssignedTo,
			SenderID:    me.ID,
			TaskID:      created.ID,
			GroupID:     created.GroupID,
		})
	}
	out := created.Clone()
	return &out, nil
}

// DeleteTask removes a task. Deleting a record the store no longer has counts as success.
func (w *Workspace) DeleteTask(ctx context.Context, id string) error {
	if _, err := w.actingIdentity(); err != nil {
		return err
	}
	if _, err := w.confirmedTask(id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	p := w.stageTask(id, nil)
	err := w.store.DeleteTask(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		w.settleTask(p, false, nil)
		return remoteErr("delete task", err)
	}
	w.settleTask(p, true, func() { w.dropTaskLocked(id) })
	return nil
}

// ToggleTaskCompletion flips a task between todo and completed.
func (w *Workspace) ToggleTaskCompletion(ctx context.Context, id string) (*domain.Task, error) {
	return w.updateTask(ctx, "toggle task", id, func(me domain.Identity, t *domain.Task) error {
		t.SetCompleted(!t.IsCompleted)
		return nil
	})
}

// SetTaskStatus moves a task to status. Any transition between the known statuses is allowed.
func (w *Workspace) SetTaskStatus(ctx context.Context, id string, status domain.Status) (*domain.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("set task status: unknown status %q: %w", status, domain.ErrInvalid)
	}
	return w.updateTask(ctx, "set task status", id, func(me domain.Identity, t *domain.Task) error {
		t.SetStatus(status)
		return nil
	})
}

// UpdateTask replaces the editable fields of an existing task. Creator and creation time are
// kept from the current record.
func (w *Workspace) UpdateTask(ctx context.Context, task domain.Task) (*domain.Task, error) {
	title := strings.TrimSpace(task.Title)
	if title == "" {
		return nil, fmt.Errorf("update task: title is required: %w", domain.ErrInvalid)
	}
	return w.updateTask(ctx, "update task", task.ID, func(me domain.Identity, t *domain.Task) error {
		if task.GroupID != t.GroupID && task.GroupID != "" {
			if _, ok := w.Group(task.GroupID); !ok {
				return fmt.Errorf("group %s: %w", task.GroupID, domain.ErrNotFound)
			}
		}
		next := task.Clone()
		next.Title = title
		next.CreatedBy = t.CreatedBy
		next.CreatedAt = t.CreatedAt
		if next.AssignedTo == "" {
			next.AssignedTo = t.AssignedTo
		}
		next.Normalize()
		*t = next
		return nil
	})
}

// AssignTask hands a task to assigneeID. Membership of the task's group is not checked.
func (w *Workspace) AssignTask(ctx context.Context, taskID, assigneeID string) (*domain.Task, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, fmt.Errorf("assign task: assignee is required: %w", domain.ErrInvalid)
	}
	return w.updateTask(ctx, "assign task", taskID, func(me domain.Identity, t *domain.Task) error {
		t.AssignedTo = assigneeID
		return nil
	})
}

// AddComment appends a comment by the acting identity.
func (w *Workspace) AddComment(ctx context.Context, taskID, content string) (*domain.Task, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("add comment: content is required: %w", domain.ErrInvalid)
	}
	return w.updateTask(ctx, "add comment", taskID, func(me domain.Identity, t *domain.Task) error {
		t.Comments = append(t.Comments, domain.Comment{
			ID:        uuid.NewString(),
			AuthorID:  me.ID,
			Content:   content,
			CreatedAt: w.now(),
		})
		return nil
	})
}

// confirmedTask returns the visible task with id, rejecting ones still waiting for their
// create to land.
func (w *Workspace) confirmedTask(id string) (domain.Task, error) {
	if isLocalID(id) {
		return domain.Task{}, fmt.Errorf("task %s is still being created: %w", id, domain.ErrConflict)
	}
	t, ok := w.Task(id)
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// updateTask is the shared path of every whole-record task write: edit a copy, show it,
// write it, then fold or revert. Notifications follow from the before/after pair.
func (w *Workspace) updateTask(ctx context.Context, op, id string, edit func(me domain.Identity, t *domain.Task) error) (*domain.Task, error) {
	me, err := w.actingIdentity()
	if err != nil {
		return nil, err
	}
	before, err := w.confirmedTask(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	next := before.Clone()
	if err := edit(me, &next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	next.ID = before.ID
	next.UpdatedAt = w.now()

	local := next.Clone()
	p := w.stageTask(id, &local)
	if err := w.store.UpdateTask(ctx, &next); err != nil {
		w.settleTask(p, false, nil)
		return nil, remoteErr(op, err)
	}
	w.settleTask(p, true, func() { w.foldTaskLocked(next) })

	w.notifyTaskChange(ctx, op, me, before, next)
	out := next.Clone()
	return &out, nil
}

func (w *Workspace) notifyTaskChange(ctx context.Context, op string, me domain.Identity, before, after domain.Task) {
	switch {
	case after.AssignedTo != before.AssignedTo:
		w.notify(ctx, domain.Notification{
			Title:       "New task assigned",
			Message:     fmt.Sprintf("%s assigned you %q", me.Name, after.Title),
			Type:        domain.NotificationTaskAssigned,
			RecipientID: after.AssignedTo,
			SenderID:    me.ID,
			TaskID:      after.ID,
			GroupID:     after.GroupID,
		})
	case len(after.Comments) > len(before.Comments):
		comment := after.Comments[len(after.Comments)-1]
		recipients := []string{after.AssignedTo}
		if after.CreatedBy != after.AssignedTo {
			recipients = append(recipients, after.CreatedBy)
		}
		for _, recipient := range recipients {
			w.notify(ctx, domain.Notification{
				Title:       "New comment",
				Message:     fmt.Sprintf("%s commented on %q: %s", me.Name, after.Title, comment.Content),
				Type:        domain.NotificationComment,
				RecipientID: recipient,
				SenderID:    me.ID,
				TaskID:      after.ID,
				GroupID:     after.GroupID,
			})
		}
	case after.IsCompleted && !before.IsCompleted:
		w.notify(ctx, domain.Notification{
			Title:       "Task completed",
			Message:     fmt.Sprintf("%s completed %q", me.Name, after.Title),
			Type:        domain.NotificationTaskCompleted,
			RecipientID: after.CreatedBy,
			SenderID:    me.ID,
			TaskID:      after.ID,
			GroupID:     after.GroupID,
		})
	case op == "update task":
		w.notify(ctx, domain.Notification{
			Title:       "Task updated",
			Message:     fmt.Sprintf("%s updated %q", me.Name, after.Title),
			Type:        domain.NotificationTaskUpdated,
			RecipientID: after.AssignedTo,
			SenderID:    me.ID,
			TaskID:      after.ID,
			GroupID:     after.GroupID,
		})
	}
}
