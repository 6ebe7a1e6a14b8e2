package domain

import "sort"

// TaskLess is the canonical list order: incomplete before complete, higher priority first,
// earlier due date first (tasks without one after those with one), newer first, then id.
func TaskLess(a, b *Task) bool {
	if a.IsCompleted != b.IsCompleted {
		return !a.IsCompleted
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	switch {
	case a.DueDate != nil && b.DueDate == nil:
		return true
	case a.DueDate == nil && b.DueDate != nil:
		return false
	case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
		return a.DueDate.Before(*b.DueDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortTasks sorts tasks in place in canonical order.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return TaskLess(&tasks[i], &tasks[j]) })
}

// SortGroups orders groups by name, then id.
func SortGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})
}

// SortNotifications orders notifications most recent first.
func SortNotifications(ns []Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.After(ns[j].CreatedAt)
		}
		return ns[i].ID < ns[j].ID
	})
}
