package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskhive/realtime/internal/dto"
)

func TestNotificationListReturnsItemsAndCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/notifications", r.URL.Path)
		require.Equal(t, "10", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode(dto.NotificationListResponse{
			Items:       []dto.NotificationResponse{{ID: "n1", Type: dto.NotificationTypeMention}},
			UnreadCount: 7,
		})
	}))
	defer server.Close()

	repo := NewNotificationRepository(newTestClient(server))
	list, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, 7, list.UnreadCount)
}

func TestNotificationWriteEndpoints(t *testing.T) {
	type call struct{ method, path string }
	var calls []call

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	repo := NewNotificationRepository(newTestClient(server))

	require.NoError(t, repo.MarkRead(context.Background(), "n1"))
	require.NoError(t, repo.MarkAllRead(context.Background()))
	require.NoError(t, repo.Delete(context.Background(), "n1"))

	require.Equal(t, []call{
		{http.MethodPatch, "/api/notifications/n1/read"},
		{http.MethodPost, "/api/notifications/read-all"},
		{http.MethodDelete, "/api/notifications/n1"},
	}, calls)
}

func TestIsUnavailableClassification(t *testing.T) {
	require.True(t, IsUnavailable(ErrUnavailable))
	require.True(t, IsUnavailable(&APIError{Status: http.StatusNotFound}))
	require.False(t, IsUnavailable(&APIError{Status: http.StatusInternalServerError}))
	require.False(t, IsUnavailable(&APIError{Status: http.StatusUnauthorized}))
	require.False(t, IsUnavailable(nil))
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing is listening anymore

	repo := NewNotificationRepository(newTestClient(server))
	_, err := repo.List(context.Background(), 10)
	require.Error(t, err)
	require.True(t, IsUnavailable(err))
}

func TestNotFoundEndpointIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	repo := NewNotificationRepository(newTestClient(server))
	_, err := repo.List(context.Background(), 10)
	require.True(t, IsUnavailable(err))
}
