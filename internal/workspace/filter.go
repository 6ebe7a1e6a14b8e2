package workspace

import (
	"fmt"
	"strings"

	"github.com/locvowork/task_management_sample/internal/domain"
)

// Filter selects a subset of the task list.
type Filter int

const (
	FilterAll Filter = iota
	FilterPending
	FilterCompleted
	FilterHighPriority
)

var filterNames = map[string]Filter{
	"":             FilterAll,
	"all":          FilterAll,
	"pending":      FilterPending,
	"completed":    FilterCompleted,
	"highpriority": FilterHighPriority,
	"high":         FilterHighPriority,
}

// ParseFilter accepts all, pending, completed and high (or highPriority), case-insensitively.
func ParseFilter(s string) (Filter, error) {
	f, ok := filterNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return FilterAll, fmt.Errorf("unknown filter %q: %w", s, domain.ErrInvalid)
	}
	return f, nil
}

// Match reports whether t passes the filter. High priority means exactly PriorityHigh.
func (f Filter) Match(t *domain.Task) bool {
	switch f {
	case FilterPending:
		return !t.IsCompleted
	case FilterCompleted:
		return t.IsCompleted
	case FilterHighPriority:
		return t.Priority == domain.PriorityHigh
	}
	return true
}

// FilteredTasks returns the visible tasks passing f, in canonical order.
func (w *Workspace) FilteredTasks(f Filter) []domain.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []domain.Task
	for i := range w.taskView {
		if f.Match(&w.taskView[i]) {
			out = append(out, w.taskView[i].Clone())
		}
	}
	return out
}
