package dto

import "time"

// Author identifies the sender of a message.
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Attachment references an uploaded file attached to a message.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// MessageResponse is the canonical representation of a chat message as
// returned by the durable write path and echoed over the push channel.
type MessageResponse struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"room_id"`
	Author      Author       `json:"author"`
	Content     string       `json:"content"`
	Edited      bool         `json:"edited"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SendMessageRequest is the payload for creating a message through the
// durable write path.
type SendMessageRequest struct {
	RoomID        string   `json:"room_id" validate:"required,min=1,max=128"`
	Content       string   `json:"content" validate:"required,min=1,max=4000"`
	AttachmentIDs []string `json:"attachment_ids,omitempty" validate:"omitempty,max=10"`
}

// UpdateMessageRequest is the payload for editing an existing message.
type UpdateMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// HistoryQuery carries pagination parameters for a room history fetch.
type HistoryQuery struct {
	RoomID string `json:"room_id" validate:"required,min=1,max=128"`
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `json:"offset" validate:"omitempty,min=0"`
}
