package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/realtime/internal/dto"
	"github.com/taskhive/realtime/internal/transport"
)

type chatRepoStub struct {
	pages      map[int][]dto.MessageResponse
	historyErr error
	histories  int
	sendFn     func(req dto.SendMessageRequest) (dto.MessageResponse, error)
	updateErr  error
	deleteErr  error
	sent       []dto.SendMessageRequest
}

func (r *chatRepoStub) History(_ context.Context, query dto.HistoryQuery) ([]dto.MessageResponse, error) {
	r.histories++
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	return r.pages[query.Offset], nil
}

func (r *chatRepoStub) Send(_ context.Context, req dto.SendMessageRequest) (dto.MessageResponse, error) {
	r.sent = append(r.sent, req)
	if r.sendFn != nil {
		return r.sendFn(req)
	}
	return dto.MessageResponse{ID: "m1", RoomID: req.RoomID, Content: req.Content, CreatedAt: time.Now()}, nil
}

func (r *chatRepoStub) Update(_ context.Context, messageID string, req dto.UpdateMessageRequest) (dto.MessageResponse, error) {
	if r.updateErr != nil {
		return dto.MessageResponse{}, r.updateErr
	}
	return dto.MessageResponse{ID: messageID, RoomID: "T1", Content: req.Content, Edited: true}, nil
}

func (r *chatRepoStub) Delete(_ context.Context, _ string) error {
	return r.deleteErr
}

func newTestChatSync(t *testing.T, repo *chatRepoStub) (*ChatSync, *fakePush) {
	t.Helper()

	push := newFakePush()
	validate := validator.New(validator.WithRequiredStructEnabled())
	engine := NewChatSync("T1", repo, push, validate, 2, testLogger())
	return engine, push
}

func message(id, room, content string) dto.MessageResponse {
	return dto.MessageResponse{ID: id, RoomID: room, Content: content}
}

func TestChatSyncSendThenEchoKeepsOneEntry(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{}}
	engine, push := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	sent, err := engine.Send(context.Background(), "Hello", nil)
	require.NoError(t, err)
	require.Equal(t, "m1", sent.ID)

	messages := engine.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "Hello", messages[0].Content)

	// The push echo for the same identity arrives after the confirmation.
	push.deliver(t, transport.EventNewMessage, message("m1", "T1", "Hello"))

	require.Len(t, engine.Messages(), 1)
	require.Len(t, push.emitted(transport.EventNewMessage), 1)
}

func TestChatSyncEchoBeforeConfirmationKeepsOneEntry(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{}}
	var engine *ChatSync
	var push *fakePush

	// The echo wins the race: it is delivered while the durable write is
	// still in flight.
	repo.sendFn = func(req dto.SendMessageRequest) (dto.MessageResponse, error) {
		push.deliver(t, transport.EventNewMessage, message("m1", "T1", req.Content))
		return message("m1", "T1", req.Content), nil
	}

	engine, push = newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	_, err := engine.Send(context.Background(), "Hello", nil)
	require.NoError(t, err)
	require.Len(t, engine.Messages(), 1)
}

func TestChatSyncEmptyBodyNeverWrites(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{}}
	engine, _ := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	for _, body := range []string{"", "   ", "\n\t"} {
		_, err := engine.Send(context.Background(), body, nil)
		require.ErrorIs(t, err, ErrEmptyMessage)
	}

	require.Empty(t, repo.sent)
}

func TestChatSyncSendFailureLeavesStateUntouched(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{}}
	repo.sendFn = func(dto.SendMessageRequest) (dto.MessageResponse, error) {
		return dto.MessageResponse{}, errors.New("rejected")
	}

	engine, push := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	_, err := engine.Send(context.Background(), "Hello", nil)
	require.Error(t, err)
	require.Empty(t, engine.Messages())
	require.Empty(t, push.emitted(transport.EventNewMessage))
}

func TestChatSyncPaginationPreservesOrderWithoutDuplicates(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{
		0: {message("m3", "T1", "c"), message("m4", "T1", "d")},
		2: {message("m1", "T1", "a"), message("m2", "T1", "b")},
		4: {},
	}}

	engine, _ := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))
	require.True(t, engine.HasMore())

	require.NoError(t, engine.LoadMore(context.Background()))
	require.True(t, engine.HasMore())

	require.NoError(t, engine.LoadMore(context.Background()))
	require.False(t, engine.HasMore())

	messages := engine.Messages()
	require.Len(t, messages, 4)
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		require.Equal(t, id, messages[i].ID)
	}
}

func TestChatSyncLoadErrorDistinctFromEmpty(t *testing.T) {
	repo := &chatRepoStub{historyErr: errors.New("boom")}
	engine, _ := newTestChatSync(t, repo)

	require.Error(t, engine.Load(context.Background()))
	require.Error(t, engine.Err())
	require.NotEqual(t, RoomReady, engine.State())

	repo.historyErr = nil
	repo.pages = map[int][]dto.MessageResponse{}
	require.NoError(t, engine.Load(context.Background()))
	require.NoError(t, engine.Err())
	require.Equal(t, RoomReady, engine.State())
	require.Empty(t, engine.Messages())
}

func TestChatSyncInboundEditAndDeleteByIdentity(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{
		0: {message("m1", "T1", "a"), message("m2", "T1", "b")},
	}}
	engine, push := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	edited := message("m1", "T1", "a2")
	edited.Edited = true
	push.deliver(t, transport.EventMessageUpdated, edited)

	messages := engine.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "a2", messages[0].Content)
	require.True(t, messages[0].Edited)

	push.deliver(t, transport.EventMessageDeleted, dto.MessageDeletedEvent{ID: "m2", RoomID: "T1"})
	messages = engine.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "m1", messages[0].ID)

	// A second delete for the same identity is a no-op.
	push.deliver(t, transport.EventMessageDeleted, dto.MessageDeletedEvent{ID: "m2", RoomID: "T1"})
	require.Len(t, engine.Messages(), 1)
}

func TestChatSyncLocalEditAndDelete(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{
		0: {message("m1", "T1", "a")},
	}}
	engine, push := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	updated, err := engine.Edit(context.Background(), "m1", "a2")
	require.NoError(t, err)
	require.True(t, updated.Edited)
	require.Equal(t, "a2", engine.Messages()[0].Content)
	require.Len(t, push.emitted(transport.EventMessageUpdated), 1)

	require.NoError(t, engine.Delete(context.Background(), "m1"))
	require.Empty(t, engine.Messages())
	require.Len(t, push.emitted(transport.EventMessageDeleted), 1)
}

func TestChatSyncIgnoresOtherRoomsAndClosedState(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{}}
	engine, push := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	push.deliver(t, transport.EventNewMessage, message("x1", "T2", "other room"))
	require.Empty(t, engine.Messages())

	engine.Close()
	require.Contains(t, push.left, "T1")

	_, err := engine.Send(context.Background(), "late", nil)
	require.ErrorIs(t, err, ErrRoomClosed)

	// Handlers are unregistered; a late event is not applied.
	push.deliver(t, transport.EventNewMessage, message("x2", "T1", "late"))
	require.Empty(t, engine.Messages())
}

func TestChatSyncResyncMergesMissedMessages(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{
		0: {message("m1", "T1", "a")},
	}}
	engine, _ := newTestChatSync(t, repo)
	require.NoError(t, engine.Load(context.Background()))

	// A message was written while the channel was down; the next resync
	// picks it up and dedup keeps m1 single.
	repo.pages[0] = []dto.MessageResponse{message("m1", "T1", "a"), message("m2", "T1", "b")}
	engine.Resync(context.Background())

	messages := engine.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "m2", messages[1].ID)
}

func TestChatSyncResyncBeforeLoadIsNoOp(t *testing.T) {
	repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{
		0: {message("m1", "T1", "a")},
	}}
	engine, _ := newTestChatSync(t, repo)

	// A reconnect can complete before the initial history load; the
	// resync must not fetch against an uninitialized room.
	engine.Resync(context.Background())
	require.Zero(t, repo.histories)
	require.Empty(t, engine.Messages())

	require.NoError(t, engine.Load(context.Background()))
	require.Equal(t, RoomReady, engine.State())
	require.Len(t, engine.Messages(), 1)
}

func TestChatSyncDedupAcrossManyInterleavings(t *testing.T) {
	for seed := 0; seed < 4; seed++ {
		repo := &chatRepoStub{pages: map[int][]dto.MessageResponse{}}
		var engine *ChatSync
		var push *fakePush

		id := fmt.Sprintf("m%d", seed)
		echoFirst := seed%2 == 0
		repo.sendFn = func(req dto.SendMessageRequest) (dto.MessageResponse, error) {
			if echoFirst {
				push.deliver(t, transport.EventNewMessage, message(id, "T1", req.Content))
			}
			return message(id, "T1", req.Content), nil
		}

		engine, push = newTestChatSync(t, repo)
		require.NoError(t, engine.Load(context.Background()))

		_, err := engine.Send(context.Background(), "hi", nil)
		require.NoError(t, err)
		if !echoFirst {
			push.deliver(t, transport.EventNewMessage, message(id, "T1", "hi"))
		}
		push.deliver(t, transport.EventNewMessage, message(id, "T1", "hi"))

		require.Len(t, engine.Messages(), 1, "seed %d", seed)
	}
}
