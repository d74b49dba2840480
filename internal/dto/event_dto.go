package dto

// MessageDeletedEvent announces the removal of a message over the push channel.
type MessageDeletedEvent struct {
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
}

// TypingEvent announces that a user started or stopped composing.
type TypingEvent struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// PresenceEvent announces that a user joined or left a room.
type PresenceEvent struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ErrorEvent carries a server-side error pushed over the channel.
type ErrorEvent struct {
	Message string `json:"message"`
}
