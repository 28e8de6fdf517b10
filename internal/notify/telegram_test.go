package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTelegramAlertEscapesHTML(t *testing.T) {
	got := formatTelegramAlert("Health factor critical", "position <pos-1> on aave-v3 & friends")
	assert.Equal(t, "<b>Health factor critical</b>\nposition &lt;pos-1&gt; on aave-v3 &amp; friends", got)
}

func TestTelegramSendPostsToChat(t *testing.T) {
	var captured telegramSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken-1/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(telegramSendResponse{OK: true})
	}))
	defer srv.Close()

	s := NewTelegramSender("token-1", "chat-9")
	s.baseURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "Health factor critical", "pos-1 fell to 1.2"))
	assert.Equal(t, "chat-9", captured.ChatID)
	assert.Equal(t, "HTML", captured.ParseMode)
	assert.Equal(t, "<b>Health factor critical</b>\npos-1 fell to 1.2", captured.Text)
}

func TestTelegramSendSurfacesAPIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(telegramSendResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	s := NewTelegramSender("token-1", "chat-9")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}
