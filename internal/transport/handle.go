package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/taskhive/realtime/internal/observability"
)

// Event names carried on the push channel.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventNewMessage     = "new_message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventNotification   = "notification"
	EventError          = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Status describes the connection state of the push channel.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns a human readable status label.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Envelope frames every event crossing the push channel.
type Envelope struct {
	Event         string          `json:"event"`
	RoomID        string          `json:"room_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes the raw payload of a named event.
type Handler func(payload json.RawMessage)

// StatusHandler observes connection status transitions.
type StatusHandler func(status Status)

// Handle is a single long-lived push channel connection. It owns the
// websocket for the lifetime of the authenticated session: callers join and
// leave rooms, emit fire-and-forget events, and subscribe to named inbound
// events. Missed events are not buffered or replayed; listeners re-derive
// state on reconnect.
type Handle struct {
	url        string
	token      string
	dialer     *websocket.Dialer
	logger     zerolog.Logger
	sessionID  string
	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	status   Status
	joined   map[string]struct{}
	handlers map[string]Handler
	onStatus StatusHandler

	send      chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

// Option configures a Handle.
type Option func(*Handle)

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(h *Handle) {
		if min > 0 {
			h.minBackoff = min
		}
		if max > 0 {
			h.maxBackoff = max
		}
	}
}

// NewHandle creates a push channel handle for the given websocket URL.
func NewHandle(url, token string, logger zerolog.Logger, opts ...Option) *Handle {
	h := &Handle{
		url:        url,
		token:      token,
		dialer:     websocket.DefaultDialer,
		logger:     logger.With().Str("component", "push_transport").Logger(),
		sessionID:  uuid.NewString(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		joined:     make(map[string]struct{}),
		handlers:   make(map[string]Handler),
		send:       make(chan Envelope, sendBufferSize),
		closed:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// SessionID returns the identifier stamped on every emitted envelope source.
func (h *Handle) SessionID() string {
	return h.sessionID
}

// Status reports the current connection status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// OnStatusChange registers the status observer. Only one observer is
// supported; the session state store fans out to interested consumers.
func (h *Handle) OnStatusChange(handler StatusHandler) {
	h.mu.Lock()
	h.onStatus = handler
	h.mu.Unlock()
}

// Connect dials the push channel and starts the read/write pumps. The
// handle keeps itself connected until Close, redialing with capped backoff
// and re-joining all joined rooms after each successful redial. A failed
// initial dial is returned to the caller, but the handle still enters the
// redial loop and attaches as soon as the endpoint answers.
func (h *Handle) Connect(ctx context.Context) error {
	h.setStatus(StatusConnecting)

	conn, err := h.dial(ctx)
	if err != nil {
		h.setStatus(StatusDisconnected)
		conn = nil
	} else {
		h.attach(conn)
	}

	go h.writePump()
	go h.supervise(ctx, conn)

	return err
}

func (h *Handle) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if h.token != "" {
		header.Set("Authorization", "Bearer "+h.token)
	}

	conn, resp, err := h.dialer.DialContext(ctx, h.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (h *Handle) attach(conn *websocket.Conn) {
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	h.setStatus(StatusConnected)
	h.rejoinRooms()
}

// supervise runs the read pump and redials whenever it exits. A nil conn
// means the initial dial failed; supervise goes straight to redialing.
func (h *Handle) supervise(ctx context.Context, conn *websocket.Conn) {
	for {
		if conn != nil {
			h.readPump(conn)

			select {
			case <-h.closed:
				return
			case <-ctx.Done():
				h.Close()
				return
			default:
			}

			h.setStatus(StatusDisconnected)
			h.logger.Warn().Msg("push channel lost, reconnecting")
		}

		var err error
		conn, err = h.redial(ctx)
		if err != nil {
			return
		}

		observability.Reconnects().Inc()
		h.attach(conn)
	}
}

func (h *Handle) redial(ctx context.Context) (*websocket.Conn, error) {
	backoff := h.minBackoff
	for {
		select {
		case <-h.closed:
			return nil, context.Canceled
		case <-ctx.Done():
			h.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		conn, err := h.dial(ctx)
		if err == nil {
			return conn, nil
		}

		h.logger.Debug().Err(err).Dur("backoff", backoff).Msg("push channel redial failed")
		backoff *= 2
		if backoff > h.maxBackoff {
			backoff = h.maxBackoff
		}
	}
}

func (h *Handle) readPump(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("push channel read loop ended")
			}
			return
		}

		h.dispatch(envelope)
	}
}

func (h *Handle) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.closed:
			return
		case envelope := <-h.send:
			conn := h.currentConn()
			if conn == nil {
				observability.EmitsDropped().Inc()
				h.logger.Debug().Str("event", envelope.Event).Msg("dropping emit, channel detached")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(envelope); err != nil {
				observability.EmitsDropped().Inc()
				h.logger.Debug().Err(err).Str("event", envelope.Event).Msg("push emit failed")
			}
		case <-ticker.C:
			conn := h.currentConn()
			if conn == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug().Err(err).Msg("push channel ping failed")
			}
		}
	}
}

func (h *Handle) currentConn() *websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusConnected {
		return nil
	}
	return h.conn
}

func (h *Handle) dispatch(envelope Envelope) {
	h.mu.Lock()
	handler := h.handlers[envelope.Event]
	h.mu.Unlock()

	observability.PushEvents().WithLabelValues(envelope.Event).Inc()

	if handler == nil {
		h.logger.Debug().Str("event", envelope.Event).Msg("no handler for push event")
		return
	}

	handler(envelope.Payload)
}

// JoinRoom subscribes to a room's events. Joining a room twice is a no-op.
func (h *Handle) JoinRoom(roomID string) {
	if roomID == "" {
		return
	}

	h.mu.Lock()
	if _, ok := h.joined[roomID]; ok {
		h.mu.Unlock()
		return
	}
	h.joined[roomID] = struct{}{}
	h.mu.Unlock()

	h.Emit(EventJoinRoom, roomID, nil)
}

// LeaveRoom unsubscribes from a room's events. Leaving an unjoined room is
// a no-op.
func (h *Handle) LeaveRoom(roomID string) {
	h.mu.Lock()
	if _, ok := h.joined[roomID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.joined, roomID)
	h.mu.Unlock()

	h.Emit(EventLeaveRoom, roomID, nil)
}

func (h *Handle) rejoinRooms() {
	h.mu.Lock()
	rooms := make([]string, 0, len(h.joined))
	for roomID := range h.joined {
		rooms = append(rooms, roomID)
	}
	h.mu.Unlock()

	for _, roomID := range rooms {
		h.Emit(EventJoinRoom, roomID, nil)
	}
}

// Emit sends a fire-and-forget event. While disconnected the event is
// dropped and logged, never queued and never an error: the durable write
// path, not the push channel, is the system of record.
func (h *Handle) Emit(event, roomID string, payload any) {
	if h.Status() != StatusConnected {
		observability.EmitsDropped().Inc()
		h.logger.Debug().Str("event", event).Str("room_id", roomID).Msg("dropping emit while disconnected")
		return
	}

	envelope := Envelope{
		Event:         event,
		RoomID:        roomID,
		CorrelationID: uuid.NewString(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			h.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal emit payload")
			return
		}
		envelope.Payload = raw
	}

	select {
	case h.send <- envelope:
	default:
		observability.EmitsDropped().Inc()
		h.logger.Warn().Str("event", event).Msg("emit queue full, dropping event")
	}
}

// On registers the handler for a named event, replacing any prior handler.
func (h *Handle) On(event string, handler Handler) {
	h.mu.Lock()
	h.handlers[event] = handler
	h.mu.Unlock()
}

// Off unregisters the handler for a named event.
func (h *Handle) Off(event string) {
	h.mu.Lock()
	delete(h.handlers, event)
	h.mu.Unlock()
}

func (h *Handle) setStatus(status Status) {
	h.mu.Lock()
	changed := h.status != status
	h.status = status
	handler := h.onStatus
	h.mu.Unlock()

	if changed && handler != nil {
		handler(status)
	}
}

// Close tears down the connection and stops the pumps.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)

		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		h.setStatus(StatusDisconnected)
	})
}
