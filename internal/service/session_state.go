package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/taskhive/realtime/internal/transport"
)

// ErrInvalidToken indicates the access token could not be decoded or lacks
// a subject claim.
var ErrInvalidToken = errors.New("invalid access token")

// Identity is the authenticated user extracted from the access token.
type Identity struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
}

// IdentityFromToken decodes the access token's claims without verifying the
// signature; verification belongs to the backend, the client only needs the
// subject for presence and typing attribution.
func IdentityFromToken(token string) (Identity, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	identity := Identity{}
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key].(string); ok && value != "" {
			identity.UserID = value
			break
		}
	}
	if identity.UserID == "" {
		return Identity{}, ErrInvalidToken
	}

	for _, key := range []string{"name", "username", "preferred_username"} {
		if value, ok := claims[key].(string); ok && value != "" {
			identity.Name = value
			break
		}
	}

	if expiry, err := claims.GetExpirationTime(); err == nil && expiry != nil {
		identity.ExpiresAt = expiry.Time
	}

	return identity, nil
}

// SessionState is the process-wide state container scoped to one
// authenticated session. It holds the connection status and, through the
// tracker, the current room's presence and typing sets, for any UI surface
// to read. It is reset on logout and rehydrated on reconnect; it never
// outlives the process.
type SessionState struct {
	logger zerolog.Logger

	mu          sync.Mutex
	active      bool
	identity    Identity
	status      transport.Status
	currentRoom string
	presence    *PresenceTracker
	onRehydrate func()
}

// NewSessionState creates an empty, inactive session container.
func NewSessionState(logger zerolog.Logger) *SessionState {
	return &SessionState{
		logger: logger.With().Str("component", "session_state").Logger(),
	}
}

// Init activates the session for the given identity.
func (s *SessionState) Init(identity Identity, presence *PresenceTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = true
	s.identity = identity
	s.presence = presence
	s.status = transport.StatusDisconnected
	s.currentRoom = ""
}

// Reset clears all session state on logout or teardown.
func (s *SessionState) Reset() {
	s.mu.Lock()
	presence := s.presence
	s.active = false
	s.identity = Identity{}
	s.status = transport.StatusDisconnected
	s.currentRoom = ""
	s.presence = nil
	s.mu.Unlock()

	if presence != nil {
		presence.Unbind()
	}
}

// OnRehydrate registers the hook invoked after a reconnect, once the
// transport has re-joined its rooms. Engines use it to re-derive state.
func (s *SessionState) OnRehydrate(hook func()) {
	s.mu.Lock()
	s.onRehydrate = hook
	s.mu.Unlock()
}

// SetStatus applies a transport status transition. A disconnected-to-
// connected transition on an active session triggers rehydration.
func (s *SessionState) SetStatus(status transport.Status) {
	s.mu.Lock()
	reconnected := s.active && status == transport.StatusConnected && s.status != transport.StatusConnected
	s.status = status
	hook := s.onRehydrate
	s.mu.Unlock()

	if reconnected {
		s.logger.Debug().Msg("session reconnected, rehydrating")
		if hook != nil {
			hook()
		}
	}
}

// SetCurrentRoom records the room the UI is currently viewing.
func (s *SessionState) SetCurrentRoom(roomID string) {
	s.mu.Lock()
	s.currentRoom = roomID
	s.mu.Unlock()
}

// Status returns the current connection status.
func (s *SessionState) Status() transport.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Identity returns the authenticated user, zero when logged out.
func (s *SessionState) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// CurrentRoom returns the room the UI is viewing, empty when none.
func (s *SessionState) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

// Active reports whether a session is established.
func (s *SessionState) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// OnlineUsers returns the presence set of the current room.
func (s *SessionState) OnlineUsers() []PresenceEntry {
	s.mu.Lock()
	presence := s.presence
	s.mu.Unlock()

	if presence == nil {
		return nil
	}
	return presence.OnlineUsers()
}

// TypingUsers returns the active typing set of the current room.
func (s *SessionState) TypingUsers() []string {
	s.mu.Lock()
	presence := s.presence
	s.mu.Unlock()

	if presence == nil {
		return nil
	}
	return presence.TypingUsers()
}
