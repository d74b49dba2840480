package dto

import "time"

// Notification categories used by the dashboard.
const (
	NotificationTypeAssignment = "assignment"
	NotificationTypeCompletion = "completion"
	NotificationTypeDueDate    = "due_date"
	NotificationTypeMention    = "mention"
	NotificationTypeChatReply  = "chat_reply"
	NotificationTypeSystem     = "system"
)

// NotificationResponse represents a single notification from either the
// pull endpoint or the push channel.
type NotificationResponse struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Read       bool      `json:"read"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotificationListResponse is the pull endpoint payload: the current unread
// list plus the authoritative unread count.
type NotificationListResponse struct {
	Items       []NotificationResponse `json:"items"`
	UnreadCount int                    `json:"unread_count"`
}
