package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskhive/realtime/internal/dto"
	"github.com/taskhive/realtime/internal/observability"
	"github.com/taskhive/realtime/internal/repository"
	"github.com/taskhive/realtime/internal/transport"
)

// ErrEmptyMessage indicates the body was empty after trimming and
// sanitization; no durable write is issued for it.
var ErrEmptyMessage = errors.New("message body is empty")

// ErrRoomClosed indicates the room session was closed and no longer accepts
// operations.
var ErrRoomClosed = errors.New("room session closed")

// RoomState is the lifecycle state of a room's message sequence.
type RoomState int

const (
	RoomUninitialized RoomState = iota
	RoomLoading
	RoomReady
)

// ChatSync reconciles one room's message sequence across the durable
// request/response path and the best-effort push channel. Writes go through
// the durable path first; the push echo and the write confirmation race, and
// identity-keyed dedup makes the race safe. The sequence never holds two
// entries with the same identity.
type ChatSync struct {
	roomID    string
	repo      repository.ChatRepository
	push      PushChannel
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	pageSize  int

	mu           sync.Mutex
	state        RoomState
	messages     []dto.MessageResponse
	known        map[string]struct{}
	historyCount int
	hasMore      bool
	loadErr      error
	closed       bool
}

// NewChatSync creates the engine for a room, joins the room on the push
// channel and subscribes to its message events. Call Load to fetch history
// and Close when the view unmounts.
func NewChatSync(roomID string, repo repository.ChatRepository, push PushChannel, validate *validator.Validate, pageSize int, logger zerolog.Logger) *ChatSync {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	if pageSize <= 0 {
		pageSize = 50
	}

	s := &ChatSync{
		roomID:    roomID,
		repo:      repo,
		push:      push,
		validator: validate,
		sanitizer: sanitizer,
		logger:    logger.With().Str("component", "chat_sync").Str("room_id", roomID).Logger(),
		tracer:    otel.Tracer("github.com/taskhive/realtime/internal/service/chat"),
		pageSize:  pageSize,
		known:     make(map[string]struct{}),
		hasMore:   true,
	}

	push.JoinRoom(roomID)
	push.On(transport.EventNewMessage, s.onNewMessage)
	push.On(transport.EventMessageUpdated, s.onMessageUpdated)
	push.On(transport.EventMessageDeleted, s.onMessageDeleted)

	return s
}

// Load fetches the newest history page. A failed load leaves the engine in
// an error state distinct from an empty room; callers retry via Load.
func (s *ChatSync) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrRoomClosed
	}
	s.state = RoomLoading
	s.loadErr = nil
	s.mu.Unlock()

	messages, err := s.fetchPage(ctx, 0)
	if err != nil {
		s.mu.Lock()
		s.state = RoomUninitialized
		s.loadErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRoomClosed
	}

	s.mergeHistory(messages, true)
	s.state = RoomReady
	s.hasMore = len(messages) == s.pageSize
	return nil
}

// LoadMore fetches the next older page and prepends it. A short page means
// the history is exhausted.
func (s *ChatSync) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrRoomClosed
	}
	if s.state != RoomReady || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	offset := s.historyCount
	s.mu.Unlock()

	messages, err := s.fetchPage(ctx, offset)
	if err != nil {
		s.mu.Lock()
		s.loadErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRoomClosed
	}

	s.mergeHistory(messages, true)
	s.hasMore = len(messages) == s.pageSize
	return nil
}

// Resync re-fetches the newest page after a reconnect and merges it by
// identity, closing the window where a push echo was missed while the
// channel was down.
func (s *ChatSync) Resync(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.state != RoomReady {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	messages, err := s.fetchPage(ctx, 0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history resync failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.mergeHistory(messages, false)
}

func (s *ChatSync) fetchPage(ctx context.Context, offset int) ([]dto.MessageResponse, error) {
	query := dto.HistoryQuery{RoomID: s.roomID, Limit: s.pageSize, Offset: offset}
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.history", trace.WithAttributes(
		attribute.String("chat.room_id", s.roomID),
		attribute.Int("chat.offset", offset),
	))
	defer span.End()

	messages, err := s.repo.History(spanCtx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for i := range messages {
		messages[i].Content = s.sanitizer.Sanitize(messages[i].Content)
	}
	return messages, nil
}

// mergeHistory inserts unseen history items. Older pages are prepended so
// the sequence stays in list order; pushed items keep their append position.
func (s *ChatSync) mergeHistory(messages []dto.MessageResponse, prepend bool) {
	fresh := make([]dto.MessageResponse, 0, len(messages))
	for _, message := range messages {
		if _, ok := s.known[message.ID]; ok {
			observability.DuplicatesSuppressed().WithLabelValues("history").Inc()
			continue
		}
		s.known[message.ID] = struct{}{}
		fresh = append(fresh, message)
	}

	if prepend {
		// Pagination offsets count server-side rows, duplicates included.
		s.historyCount += len(messages)
	}

	if len(fresh) == 0 {
		return
	}

	if prepend {
		s.messages = append(fresh, s.messages...)
	} else {
		s.messages = append(s.messages, fresh...)
	}
}

// Send validates and durable-writes the message, reflects the canonical
// response locally unless the push echo won the race, then best-effort emits
// it for low-latency fan-out. A write failure is returned to the caller and
// leaves local state untouched.
func (s *ChatSync) Send(ctx context.Context, content string, attachmentIDs []string) (dto.MessageResponse, error) {
	if s.isClosed() {
		return dto.MessageResponse{}, ErrRoomClosed
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(content))
	if clean == "" {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	req := dto.SendMessageRequest{RoomID: s.roomID, Content: clean, AttachmentIDs: attachmentIDs}
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.room_id", s.roomID),
	))
	defer span.End()

	message, err := s.repo.Send(spanCtx, req)
	if err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	s.insertIfAbsent(message, "durable")
	s.push.Emit(transport.EventNewMessage, s.roomID, message)
	observability.MessagesSent().WithLabelValues(s.roomID).Inc()

	return message, nil
}

// Edit durable-writes the new body, replaces the entry by identity and
// best-effort emits the update.
func (s *ChatSync) Edit(ctx context.Context, messageID, content string) (dto.MessageResponse, error) {
	if s.isClosed() {
		return dto.MessageResponse{}, ErrRoomClosed
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(content))
	if clean == "" {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	req := dto.UpdateMessageRequest{Content: clean}
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.edit", trace.WithAttributes(
		attribute.String("chat.message_id", messageID),
	))
	defer span.End()

	message, err := s.repo.Update(spanCtx, messageID, req)
	if err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	s.replaceByID(message)
	s.push.Emit(transport.EventMessageUpdated, s.roomID, message)

	return message, nil
}

// Delete durable-deletes the message, removes it by identity and
// best-effort emits the removal.
func (s *ChatSync) Delete(ctx context.Context, messageID string) error {
	if s.isClosed() {
		return ErrRoomClosed
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.delete", trace.WithAttributes(
		attribute.String("chat.message_id", messageID),
	))
	defer span.End()

	if err := s.repo.Delete(spanCtx, messageID); err != nil {
		span.RecordError(err)
		return err
	}

	s.removeByID(messageID)
	s.push.Emit(transport.EventMessageDeleted, s.roomID, dto.MessageDeletedEvent{ID: messageID, RoomID: s.roomID})

	return nil
}

func (s *ChatSync) onNewMessage(payload json.RawMessage) {
	var message dto.MessageResponse
	if err := json.Unmarshal(payload, &message); err != nil {
		s.logger.Warn().Err(err).Msg("invalid new message event")
		return
	}

	if message.RoomID != s.roomID {
		return
	}

	message.Content = s.sanitizer.Sanitize(message.Content)
	s.insertIfAbsent(message, "push")
}

func (s *ChatSync) onMessageUpdated(payload json.RawMessage) {
	var message dto.MessageResponse
	if err := json.Unmarshal(payload, &message); err != nil {
		s.logger.Warn().Err(err).Msg("invalid message update event")
		return
	}

	if message.RoomID != s.roomID {
		return
	}

	message.Content = s.sanitizer.Sanitize(message.Content)
	s.replaceByID(message)
}

func (s *ChatSync) onMessageDeleted(payload json.RawMessage) {
	var event dto.MessageDeletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid message delete event")
		return
	}

	if event.RoomID != s.roomID {
		return
	}

	s.removeByID(event.ID)
}

// insertIfAbsent appends the message unless its identity is already in the
// sequence. Whichever of the write confirmation and the push echo arrives
// first wins the insert; the second is a no-op.
func (s *ChatSync) insertIfAbsent(message dto.MessageResponse, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if _, ok := s.known[message.ID]; ok {
		observability.DuplicatesSuppressed().WithLabelValues(source).Inc()
		return
	}

	s.known[message.ID] = struct{}{}
	s.messages = append(s.messages, message)
}

func (s *ChatSync) replaceByID(message dto.MessageResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for i := range s.messages {
		if s.messages[i].ID == message.ID {
			s.messages[i] = message
			return
		}
	}
}

func (s *ChatSync) removeByID(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if _, ok := s.known[messageID]; !ok {
		return
	}

	delete(s.known, messageID)
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// Messages returns a copy of the current sequence.
func (s *ChatSync) Messages() []dto.MessageResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]dto.MessageResponse, len(s.messages))
	copy(out, s.messages)
	return out
}

// State reports the room lifecycle state.
func (s *ChatSync) State() RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last history load error, distinct from an empty room.
func (s *ChatSync) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// HasMore reports whether older history pages remain.
func (s *ChatSync) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// RoomID returns the room this engine is bound to.
func (s *ChatSync) RoomID() string {
	return s.roomID
}

func (s *ChatSync) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close leaves the room and unregisters the event handlers. Late durable
// responses against a closed room are discarded.
func (s *ChatSync) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.messages = nil
	s.known = make(map[string]struct{})
	s.mu.Unlock()

	s.push.Off(transport.EventNewMessage)
	s.push.Off(transport.EventMessageUpdated)
	s.push.Off(transport.EventMessageDeleted)
	s.push.LeaveRoom(s.roomID)
}
