package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskhive/realtime/internal/dto"
	"github.com/taskhive/realtime/internal/transport"
)

func newTestTracker(idleWindow time.Duration) (*PresenceTracker, *fakePush) {
	push := newFakePush()
	tracker := NewPresenceTracker(push, "u0", "Me", idleWindow, 3*time.Second, testLogger())
	tracker.Bind("T1")
	return tracker, push
}

func TestTypingEmitsOncePerTransition(t *testing.T) {
	tracker, push := newTestTracker(time.Hour)

	tracker.StartTyping()
	tracker.StartTyping()
	tracker.StartTyping()
	require.Len(t, push.emitted(transport.EventTypingStart), 1)

	tracker.StopTyping()
	tracker.StopTyping()
	require.Len(t, push.emitted(transport.EventTypingStop), 1)

	tracker.StartTyping()
	require.Len(t, push.emitted(transport.EventTypingStart), 2)
}

func TestTypingIdleWindowStopsExactlyOnce(t *testing.T) {
	tracker, push := newTestTracker(20 * time.Millisecond)

	tracker.StartTyping()
	require.Eventually(t, func() bool {
		return len(push.emitted(transport.EventTypingStop)) == 1
	}, time.Second, 5*time.Millisecond)

	// No further stop after the window has already fired.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, push.emitted(transport.EventTypingStop), 1)
}

func TestRemoteTypingExpiryIsReadTimeFilter(t *testing.T) {
	tracker, push := newTestTracker(time.Hour)

	current := time.Now()
	tracker.now = func() time.Time { return current }

	push.deliver(t, transport.EventTypingStart, dto.TypingEvent{RoomID: "T1", UserID: "u1", Name: "Ana"})
	require.Equal(t, []string{"Ana"}, tracker.TypingUsers())

	// The stop event was lost; the entry ages out instead.
	current = current.Add(5 * time.Second)
	require.Empty(t, tracker.TypingUsers())

	// A late stop for the expired entry is a no-op, not an error.
	push.deliver(t, transport.EventTypingStop, dto.TypingEvent{RoomID: "T1", UserID: "u1"})
	require.Empty(t, tracker.TypingUsers())
}

func TestTypingLabelRendering(t *testing.T) {
	tracker, push := newTestTracker(time.Hour)

	require.Equal(t, "", tracker.TypingLabel())

	push.deliver(t, transport.EventTypingStart, dto.TypingEvent{RoomID: "T1", UserID: "u1", Name: "Ana"})
	require.Equal(t, "Ana is typing…", tracker.TypingLabel())

	push.deliver(t, transport.EventTypingStart, dto.TypingEvent{RoomID: "T1", UserID: "u2", Name: "Ben"})
	require.Equal(t, "Ana and Ben are typing…", tracker.TypingLabel())

	push.deliver(t, transport.EventTypingStart, dto.TypingEvent{RoomID: "T1", UserID: "u3", Name: "Cam"})
	require.Equal(t, "3 people are typing…", tracker.TypingLabel())
}

func TestPresenceIdempotentAndLastWriteWins(t *testing.T) {
	tracker, push := newTestTracker(time.Hour)

	push.deliver(t, transport.EventUserJoined, dto.PresenceEvent{RoomID: "T1", UserID: "u1", Name: "Ana"})
	push.deliver(t, transport.EventUserJoined, dto.PresenceEvent{RoomID: "T1", UserID: "u1", Name: "Ana R."})

	online := tracker.OnlineUsers()
	require.Len(t, online, 1)
	require.Equal(t, "Ana R.", online[0].Name)

	push.deliver(t, transport.EventUserLeft, dto.PresenceEvent{RoomID: "T1", UserID: "u1"})
	require.Empty(t, tracker.OnlineUsers())

	// Removing an absent user is a no-op.
	tracker.RemovePresence("u1")
	require.Empty(t, tracker.OnlineUsers())
}

func TestRoomSwitchClearsStateAndIgnoresStaleEvents(t *testing.T) {
	tracker, push := newTestTracker(time.Hour)

	push.deliver(t, transport.EventUserJoined, dto.PresenceEvent{RoomID: "T1", UserID: "u1", Name: "Ana"})
	push.deliver(t, transport.EventTypingStart, dto.TypingEvent{RoomID: "T1", UserID: "u1", Name: "Ana"})
	require.Len(t, tracker.OnlineUsers(), 1)

	tracker.Unbind()
	require.Empty(t, tracker.OnlineUsers())
	require.Empty(t, tracker.TypingUsers())

	tracker.Bind("T2")

	// Events for the old room never reach the new room's sets.
	push.deliver(t, transport.EventUserJoined, dto.PresenceEvent{RoomID: "T1", UserID: "u2", Name: "Ben"})
	push.deliver(t, transport.EventTypingStart, dto.TypingEvent{RoomID: "T1", UserID: "u2", Name: "Ben"})
	require.Empty(t, tracker.OnlineUsers())
	require.Empty(t, tracker.TypingUsers())

	push.deliver(t, transport.EventUserJoined, dto.PresenceEvent{RoomID: "T2", UserID: "u3", Name: "Cam"})
	require.Len(t, tracker.OnlineUsers(), 1)
}

func TestSelfTypingEventsAreNotMirrored(t *testing.T) {
	tracker, push := newTestTracker(time.Hour)

	// The server echoes our own typing event back; it must not render.
	push.deliver(t, transport.EventTypingStart, dto.TypingEvent{RoomID: "T1", UserID: "u0", Name: "Me"})
	require.Empty(t, tracker.TypingUsers())
}
