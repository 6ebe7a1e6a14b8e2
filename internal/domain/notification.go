package domain

import "time"

// NotificationType categorizes a notification.
type NotificationType string

const (
	NotificationTaskAssigned  NotificationType = "taskAssigned"
	NotificationTaskCompleted NotificationType = "taskCompleted"
	NotificationDueSoon       NotificationType = "dueSoon"
	NotificationOverdue       NotificationType = "overdue"
	NotificationGroupInvite   NotificationType = "groupInvite"
	NotificationComment       NotificationType = "comment"
	NotificationTaskUpdated   NotificationType = "taskUpdated"
)

// DefaultNotificationLimit is how many of the most recent notifications a subscription reads.
const DefaultNotificationLimit = 30

// Notification is created as a side effect of assignment or membership events. Only IsRead
// changes after creation.
type Notification struct {
	ID          string           `json:"id" bson:"_id"`
	Title       string           `json:"title" bson:"title"`
	Message     string           `json:"message" bson:"message"`
	Type        NotificationType `json:"type" bson:"type"`
	RecipientID string           `json:"recipient_id" bson:"recipient_id"`
	SenderID    string           `json:"sender_id,omitempty" bson:"sender_id,omitempty"`
	TaskID      string           `json:"task_id,omitempty" bson:"task_id,omitempty"`
	GroupID     string           `json:"group_id,omitempty" bson:"group_id,omitempty"`
	IsRead      bool             `json:"is_read" bson:"is_read"`
	CreatedAt   time.Time        `json:"created_at" bson:"created_at"`
}
