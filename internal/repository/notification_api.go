package repository

import (
	"context"
	"fmt"
	"net/url"

	"github.com/taskhive/realtime/internal/dto"
)

// NotificationRepository is the durable path for the notification feed.
type NotificationRepository interface {
	List(ctx context.Context, limit int) (dto.NotificationListResponse, error)
	MarkRead(ctx context.Context, notificationID string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, notificationID string) error
}

type notificationRepository struct {
	client *Client
}

// NewNotificationRepository creates the HTTP-backed notification repository.
func NewNotificationRepository(client *Client) NotificationRepository {
	return &notificationRepository{client: client}
}

func (r *notificationRepository) List(ctx context.Context, limit int) (dto.NotificationListResponse, error) {
	path := "/api/notifications"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var list dto.NotificationListResponse
	if err := r.client.doJSON(ctx, "GET", path, nil, &list); err != nil {
		return dto.NotificationListResponse{}, err
	}

	return list, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, notificationID string) error {
	path := fmt.Sprintf("/api/notifications/%s/read", url.PathEscape(notificationID))
	return r.client.doJSON(ctx, "PATCH", path, nil, nil)
}

func (r *notificationRepository) MarkAllRead(ctx context.Context) error {
	return r.client.doJSON(ctx, "POST", "/api/notifications/read-all", nil, nil)
}

func (r *notificationRepository) Delete(ctx context.Context, notificationID string) error {
	path := fmt.Sprintf("/api/notifications/%s", url.PathEscape(notificationID))
	return r.client.doJSON(ctx, "DELETE", path, nil, nil)
}
