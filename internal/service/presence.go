package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskhive/realtime/internal/dto"
	"github.com/taskhive/realtime/internal/transport"
)

// PresenceEntry is a user currently joined to the room.
type PresenceEntry struct {
	UserID string
	Name   string
}

type typingEntry struct {
	name     string
	deadline time.Time
}

// PresenceTracker maintains the online-user set and the typing set for the
// current room. Presence updates are idempotent and keyed by user identity.
// Typing entries carry a soft TTL: a lost stop event self-heals because
// expired entries are filtered at read time, never rendered.
type PresenceTracker struct {
	push       PushChannel
	logger     zerolog.Logger
	idleWindow time.Duration
	remoteTTL  time.Duration
	now        func() time.Time

	mu         sync.Mutex
	roomID     string
	selfID     string
	selfName   string
	selfTyping bool
	idleTimer  *time.Timer
	online     map[string]PresenceEntry
	typing     map[string]typingEntry
}

// NewPresenceTracker creates a tracker for the given local user.
func NewPresenceTracker(push PushChannel, selfID, selfName string, idleWindow, remoteTTL time.Duration, logger zerolog.Logger) *PresenceTracker {
	if idleWindow <= 0 {
		idleWindow = time.Second
	}
	if remoteTTL <= 0 {
		remoteTTL = 3 * time.Second
	}

	return &PresenceTracker{
		push:       push,
		logger:     logger.With().Str("component", "presence_tracker").Logger(),
		idleWindow: idleWindow,
		remoteTTL:  remoteTTL,
		now:        time.Now,
		selfID:     selfID,
		selfName:   selfName,
		online:     make(map[string]PresenceEntry),
		typing:     make(map[string]typingEntry),
	}
}

// Bind subscribes the tracker to a room's presence and typing events,
// clearing any state carried over from a previous room.
func (t *PresenceTracker) Bind(roomID string) {
	t.mu.Lock()
	t.roomID = roomID
	t.online = make(map[string]PresenceEntry)
	t.typing = make(map[string]typingEntry)
	t.mu.Unlock()

	t.push.On(transport.EventUserJoined, t.onUserJoined)
	t.push.On(transport.EventUserLeft, t.onUserLeft)
	t.push.On(transport.EventTypingStart, t.onTypingStart)
	t.push.On(transport.EventTypingStop, t.onTypingStop)
}

// Unbind unsubscribes from the room's events and resets all state. A stop
// emit is sent if the local user was mid-composition.
func (t *PresenceTracker) Unbind() {
	t.StopTyping()

	t.push.Off(transport.EventUserJoined)
	t.push.Off(transport.EventUserLeft)
	t.push.Off(transport.EventTypingStart)
	t.push.Off(transport.EventTypingStop)

	t.mu.Lock()
	t.roomID = ""
	t.online = make(map[string]PresenceEntry)
	t.typing = make(map[string]typingEntry)
	t.mu.Unlock()
}

// AddPresence inserts or refreshes a presence entry; last write wins.
func (t *PresenceTracker) AddPresence(entry PresenceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[entry.UserID] = entry
}

// RemovePresence drops a presence entry; removing an absent user is a no-op.
func (t *PresenceTracker) RemovePresence(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, userID)
}

// StartTyping marks the local user as composing. The start event is emitted
// once per transition; repeated keystrokes only rearm the inactivity timer
// that implicitly stops typing after the idle window.
func (t *PresenceTracker) StartTyping() {
	t.mu.Lock()
	roomID := t.roomID
	emit := !t.selfTyping
	t.selfTyping = true

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idleWindow, t.StopTyping)
	t.mu.Unlock()

	if roomID == "" {
		return
	}

	if emit {
		t.push.Emit(transport.EventTypingStart, roomID, dto.TypingEvent{
			RoomID: roomID,
			UserID: t.selfID,
			Name:   t.selfName,
		})
	}
}

// StopTyping marks the local user as idle, emitting the stop event once per
// transition.
func (t *PresenceTracker) StopTyping() {
	t.mu.Lock()
	roomID := t.roomID
	emit := t.selfTyping
	t.selfTyping = false

	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.mu.Unlock()

	if emit && roomID != "" {
		t.push.Emit(transport.EventTypingStop, roomID, dto.TypingEvent{
			RoomID: roomID,
			UserID: t.selfID,
			Name:   t.selfName,
		})
	}
}

func (t *PresenceTracker) onUserJoined(payload json.RawMessage) {
	event, ok := t.decodePresence(payload)
	if !ok {
		return
	}
	t.AddPresence(PresenceEntry{UserID: event.UserID, Name: event.Name})
}

func (t *PresenceTracker) onUserLeft(payload json.RawMessage) {
	event, ok := t.decodePresence(payload)
	if !ok {
		return
	}

	t.mu.Lock()
	delete(t.online, event.UserID)
	delete(t.typing, event.UserID)
	t.mu.Unlock()
}

func (t *PresenceTracker) onTypingStart(payload json.RawMessage) {
	var event dto.TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.logger.Warn().Err(err).Msg("invalid typing event")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if event.RoomID != t.roomID || event.UserID == t.selfID {
		return
	}

	// Insertion replaces any prior entry, refreshing the deadline.
	t.typing[event.UserID] = typingEntry{name: event.Name, deadline: t.now().Add(t.remoteTTL)}
}

func (t *PresenceTracker) onTypingStop(payload json.RawMessage) {
	var event dto.TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.logger.Warn().Err(err).Msg("invalid typing event")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if event.RoomID != t.roomID {
		return
	}
	delete(t.typing, event.UserID)
}

func (t *PresenceTracker) decodePresence(payload json.RawMessage) (dto.PresenceEvent, bool) {
	var event dto.PresenceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.logger.Warn().Err(err).Msg("invalid presence event")
		return dto.PresenceEvent{}, false
	}

	t.mu.Lock()
	match := event.RoomID == t.roomID
	t.mu.Unlock()

	return event, match
}

// OnlineUsers returns the presence set sorted by name.
func (t *PresenceTracker) OnlineUsers() []PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PresenceEntry, 0, len(t.online))
	for _, entry := range t.online {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TypingUsers returns the names of remote users whose typing entries have
// not expired, sorted for stable rendering.
func (t *PresenceTracker) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	names := make([]string, 0, len(t.typing))
	for _, entry := range t.typing {
		if entry.deadline.After(now) {
			names = append(names, entry.name)
		}
	}
	sort.Strings(names)
	return names
}

// TypingLabel renders the typing indicator text for the current typing set.
func (t *PresenceTracker) TypingLabel() string {
	names := t.TypingUsers()
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing…", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing…", names[0], names[1])
	default:
		return fmt.Sprintf("%d people are typing…", len(names))
	}
}
