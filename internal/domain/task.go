package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders tasks: low < medium < high < urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

var priorityNames = [...]string{"Low", "Medium", "High", "Urgent"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityUrgent {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority accepts the display names case-insensitively.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return PriorityMedium, fmt.Errorf("%w: unknown priority %q", ErrInvalid, s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Subtask is one checklist entry of a task.
type Subtask struct {
	ID          string `json:"id" bson:"id"`
	Title       string `json:"title" bson:"title"`
	IsCompleted bool   `json:"is_completed" bson:"is_completed"`
}

// Attachment references an uploaded file.
type Attachment struct {
	ID         string    `json:"id" bson:"id"`
	Name       string    `json:"name" bson:"name"`
	URL        string    `json:"url" bson:"url"`
	UploadedBy string    `json:"uploaded_by" bson:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at" bson:"uploaded_at"`
}

// Comment is a free-text note left on a task.
type Comment struct {
	ID        string    `json:"id" bson:"id"`
	AuthorID  string    `json:"author_id" bson:"author_id"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Task is a personal task (empty GroupID) or a group-scoped one.
type Task struct {
	ID          string       `json:"id" bson:"_id"`
	Title       string       `json:"title" bson:"title"`
	Description string       `json:"description" bson:"description"`
	IsCompleted bool         `json:"is_completed" bson:"is_completed"`
	Priority    Priority     `json:"priority" bson:"priority"`
	DueDate     *time.Time   `json:"due_date,omitempty" bson:"due_date,omitempty"`
	AssignedTo  string       `json:"assigned_to" bson:"assigned_to"`
	GroupID     string       `json:"group_id,omitempty" bson:"group_id,omitempty"`
	CreatedBy   string       `json:"created_by" bson:"created_by"`
	CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at"`
	Tags        []string     `json:"tags" bson:"tags"`
	Subtasks    []Subtask    `json:"subtasks" bson:"subtasks"`
	Attachments []Attachment `json:"attachments" bson:"attachments"`
	Comments    []Comment    `json:"comments" bson:"comments"`
	Status      Status       `json:"status" bson:"status"`
	Color       string       `json:"color,omitempty" bson:"color,omitempty"`
}

// IsPersonal reports whether the task belongs to no group.
func (t *Task) IsPersonal() bool { return t.GroupID == "" }

// SetStatus moves the task to s and keeps IsCompleted in lockstep. Any transition is allowed.
func (t *Task) SetStatus(s Status) {
	t.Status = s
	t.IsCompleted = s == StatusCompleted
}

// SetCompleted flips between todo and completed, the list-view shorthand.
func (t *Task) SetCompleted(done bool) {
	if done {
		t.SetStatus(StatusCompleted)
		return
	}
	t.SetStatus(StatusTodo)
}

// Normalize repairs a record whose completion flag and status disagree. The status wins
// when it is valid; otherwise the flag decides.
func (t *Task) Normalize() {
	if !t.Status.Valid() {
		t.SetCompleted(t.IsCompleted)
		return
	}
	t.IsCompleted = t.Status == StatusCompleted
}

// Clone returns a deep copy so callers never share slices with the container.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	c.Tags = append([]string(nil), t.Tags...)
	c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	c.Attachments = append([]Attachment(nil), t.Attachments...)
	c.Comments = append([]Comment(nil), t.Comments...)
	return c
}

// IsOverdue reports whether the task is incomplete and past its due date.
func (t *Task) IsOverdue(now time.Time) bool {
	return !t.IsCompleted && t.DueDate != nil && t.DueDate.Before(now)
}

// IsDueSoon reports whether the task is incomplete and due within window from now.
func (t *Task) IsDueSoon(now time.Time, window time.Duration) bool {
	if t.IsCompleted || t.DueDate == nil || t.DueDate.Before(now) {
		return false
	}
	return t.DueDate.Sub(now) <= window
}
