package googlecloud

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
)

const (
	KindUser         = "User"
	KindTask         = "Task"
	KindGroup        = "Group"
	KindInviteCode   = "InviteCode"
	KindNotification = "Notification"
)

// Entities mirror the domain types with Datastore property names. Key names carry the ids.

type userEntity struct {
	Name       string    `datastore:"name"`
	Email      string    `datastore:"email"`
	ProviderID string    `datastore:"provider_id"`
	IsOnline   bool      `datastore:"is_online,noindex"`
	LastSeen   time.Time `datastore:"last_seen,noindex"`
	CreatedAt  time.Time `datastore:"created_at"`
}

func toUserEntity(i *domain.Identity) *userEntity {
	return &userEntity{
		Name:       i.Name,
		Email:      i.Email,
		ProviderID: i.ProviderID,
		IsOnline:   i.IsOnline,
		LastSeen:   i.LastSeen,
		CreatedAt:  i.CreatedAt,
	}
}

func (e *userEntity) identity(id string) domain.Identity {
	return domain.Identity{
		ID:         id,
		Name:       e.Name,
		Email:      e.Email,
		ProviderID: e.ProviderID,
		IsOnline:   e.IsOnline,
		LastSeen:   e.LastSeen.UTC(),
		CreatedAt:  e.CreatedAt.UTC(),
	}
}

// taskDetails holds the nested parts of a task, stored as one unindexed JSON property.
type taskDetails struct {
	Subtasks    []domain.Subtask    `json:"subtasks,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	Comments    []domain.Comment    `json:"comments,omitempty"`
}

type taskEntity struct {
	Title       string    `datastore:"title,noindex"`
	Description string    `datastore:"description,noindex"`
	IsCompleted bool      `datastore:"is_completed"`
	Priority    int       `datastore:"priority"`
	DueDate     time.Time `datastore:"due_date"`
	HasDueDate  bool      `datastore:"has_due_date"`
	AssignedTo  string    `datastore:"assigned_to"`
	GroupID     string    `datastore:"group_id"`
	CreatedBy   string    `datastore:"created_by"`
	CreatedAt   time.Time `datastore:"created_at"`
	UpdatedAt   time.Time `datastore:"updated_at"`
	Tags        []string  `datastore:"tags"`
	Status      string    `datastore:"status"`
	Color       string    `datastore:"color,noindex"`
	Details     string    `datastore:"details,noindex"`
}

func toTaskEntity(t *domain.Task) (*taskEntity, error) {
	details, err := json.Marshal(taskDetails{Subtasks: t.Subtasks, Attachments: t.Attachments, Comments: t.Comments})
	if err != nil {
		return nil, fmt.Errorf("encode task details: %w", err)
	}
	e := &taskEntity{
		Title:       t.Title,
		Description: t.Description,
		IsCompleted: t.IsCompleted,
		Priority:    int(t.Priority),
		AssignedTo:  t.AssignedTo,
		GroupID:     t.GroupID,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Tags:        t.Tags,
		Status:      string(t.Status),
		Color:       t.Color,
		Details:     string(details),
	}
	if t.DueDate != nil {
		e.DueDate = *t.DueDate
		e.HasDueDate = true
	}
	return e, nil
}

func (e *taskEntity) task(id string) (domain.Task, error) {
	var details taskDetails
	if e.Details != "" {
		if err := json.Unmarshal([]byte(e.Details), &details); err != nil {
			return domain.Task{}, fmt.Errorf("decode task %s details: %w", id, err)
		}
	}
	t := domain.Task{
		ID:          id,
		Title:       e.Title,
		Description: e.Description,
		IsCompleted: e.IsCompleted,
		Priority:    domain.Priority(e.Priority),
		AssignedTo:  e.AssignedTo,
		GroupID:     e.GroupID,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt.UTC(),
		UpdatedAt:   e.UpdatedAt.UTC(),
		Tags:        e.Tags,
		Subtasks:    details.Subtasks,
		Attachments: details.Attachments,
		Comments:    details.Comments,
		Status:      domain.Status(e.Status),
		Color:       e.Color,
	}
	if e.HasDueDate {
		due := e.DueDate.UTC()
		t.DueDate = &due
	}
	t.Normalize()
	return t.Clone(), nil
}

type groupEntity struct {
	Name        string    `datastore:"name"`
	Description string    `datastore:"description,noindex"`
	MemberIDs   []string  `datastore:"member_ids"`
	AdminID     string    `datastore:"admin_id"`
	CreatedAt   time.Time `datastore:"created_at"`
	Color       string    `datastore:"color,noindex"`
	InviteCode  string    `datastore:"invite_code"`
	IsPrivate   bool      `datastore:"is_private,noindex"`
}

func toGroupEntity(g *domain.Group) *groupEntity {
	return &groupEntity{
		Name:        g.Name,
		Description: g.Description,
		MemberIDs:   g.MemberIDs,
		AdminID:     g.AdminID,
		CreatedAt:   g.CreatedAt,
		Color:       g.Color,
		InviteCode:  g.InviteCode,
		IsPrivate:   g.IsPrivate,
	}
}

func (e *groupEntity) group(id string) domain.Group {
	return domain.Group{
		ID:          id,
		Name:        e.Name,
		Description: e.Description,
		MemberIDs:   append([]string(nil), e.MemberIDs...),
		AdminID:     e.AdminID,
		CreatedAt:   e.CreatedAt.UTC(),
		Color:       e.Color,
		InviteCode:  e.InviteCode,
		IsPrivate:   e.IsPrivate,
	}
}

// inviteCodeEntity reserves an invite code; its key name is the code.
type inviteCodeEntity struct {
	GroupID string `datastore:"group_id,noindex"`
}

type notificationEntity struct {
	Title       string    `datastore:"title,noindex"`
	Message     string    `datastore:"message,noindex"`
	Type        string    `datastore:"type"`
	RecipientID string    `datastore:"recipient_id"`
	SenderID    string    `datastore:"sender_id"`
	TaskID      string    `datastore:"task_id"`
	GroupID     string    `datastore:"group_id"`
	IsRead      bool      `datastore:"is_read"`
	CreatedAt   time.Time `datastore:"created_at"`
}

func toNotificationEntity(n *domain.Notification) *notificationEntity {
	return &notificationEntity{
		Title:       n.Title,
		Message:     n.Message,
		Type:        string(n.Type),
		RecipientID: n.RecipientID,
		SenderID:    n.SenderID,
		TaskID:      n.TaskID,
		GroupID:     n.GroupID,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
	}
}

func (e *notificationEntity) notification(id string) domain.Notification {
	return domain.Notification{
		ID:          id,
		Title:       e.Title,
		Message:     e.Message,
		Type:        domain.NotificationType(e.Type),
		RecipientID: e.RecipientID,
		SenderID:    e.SenderID,
		TaskID:      e.TaskID,
		GroupID:     e.GroupID,
		IsRead:      e.IsRead,
		CreatedAt:   e.CreatedAt.UTC(),
	}
}
