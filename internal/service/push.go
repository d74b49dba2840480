package service

import "github.com/taskhive/realtime/internal/transport"

// PushChannel is the slice of the transport handle the engines consume.
// Emits are fire-and-forget; handlers receive raw event payloads.
type PushChannel interface {
	JoinRoom(roomID string)
	LeaveRoom(roomID string)
	Emit(event, roomID string, payload any)
	On(event string, handler transport.Handler)
	Off(event string)
}
