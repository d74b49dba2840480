package repository

import (
	"context"
	"fmt"
	"net/url"

	"github.com/taskhive/realtime/internal/dto"
)

// ChatRepository is the durable path for room messages. The response of each
// write carries the canonical, server-assigned message identity.
type ChatRepository interface {
	History(ctx context.Context, query dto.HistoryQuery) ([]dto.MessageResponse, error)
	Send(ctx context.Context, req dto.SendMessageRequest) (dto.MessageResponse, error)
	Update(ctx context.Context, messageID string, req dto.UpdateMessageRequest) (dto.MessageResponse, error)
	Delete(ctx context.Context, messageID string) error
}

type chatRepository struct {
	client *Client
}

// NewChatRepository creates the HTTP-backed chat repository.
func NewChatRepository(client *Client) ChatRepository {
	return &chatRepository{client: client}
}

func (r *chatRepository) History(ctx context.Context, query dto.HistoryQuery) ([]dto.MessageResponse, error) {
	params := url.Values{}
	if query.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", query.Offset))
	}

	path := fmt.Sprintf("/api/rooms/%s/messages", url.PathEscape(query.RoomID))
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var messages []dto.MessageResponse
	if err := r.client.doJSON(ctx, "GET", path, nil, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *chatRepository) Send(ctx context.Context, req dto.SendMessageRequest) (dto.MessageResponse, error) {
	var message dto.MessageResponse
	path := fmt.Sprintf("/api/rooms/%s/messages", url.PathEscape(req.RoomID))
	if err := r.client.doJSON(ctx, "POST", path, req, &message); err != nil {
		return dto.MessageResponse{}, err
	}

	return message, nil
}

func (r *chatRepository) Update(ctx context.Context, messageID string, req dto.UpdateMessageRequest) (dto.MessageResponse, error) {
	var message dto.MessageResponse
	path := fmt.Sprintf("/api/messages/%s", url.PathEscape(messageID))
	if err := r.client.doJSON(ctx, "PATCH", path, req, &message); err != nil {
		return dto.MessageResponse{}, err
	}

	return message, nil
}

func (r *chatRepository) Delete(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/api/messages/%s", url.PathEscape(messageID))
	return r.client.doJSON(ctx, "DELETE", path, nil, nil)
}
