package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"towing/internal/config"
	"towing/internal/domain"
	"towing/internal/middleware"
	"towing/internal/tracking"
)

const streamTestSecret = "stream-secret"

func newInteractionRouter(t *testing.T, h *StreamHandler) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	token, err := middleware.SignToken(domain.Actor{ID: "client-1", Role: domain.RoleClient}, []byte(streamTestSecret), time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/requests/:id/track/interaction", middleware.Authenticate(streamTestSecret), h.TrackInteraction)
	return r, token
}

func postInteraction(r http.Handler, token, requestID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/requests/"+requestID+"/track/interaction", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTrackInteraction_PausesAndResumesFollow(t *testing.T) {
	h := NewStreamHandler(nil, nil, nil, config.TrackingConfig{}, nil)
	r, token := newInteractionRouter(t, h)

	key := followKey("client-1", "req-1")
	follow := h.follows.open(key, time.Hour)
	defer h.follows.close(key, follow)

	w := postInteraction(r, token, "req-1", `{"action":"start"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"follow":false}`, w.Body.String())

	w = postInteraction(r, token, "req-1", `{"action":"end"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, follow.Following(), "cooldown keeps following paused")

	w = postInteraction(r, token, "req-1", `{"action":"recenter"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"follow":true}`, w.Body.String())
}

func TestTrackInteraction_Rejects(t *testing.T) {
	h := NewStreamHandler(nil, nil, nil, config.TrackingConfig{}, nil)
	r, token := newInteractionRouter(t, h)

	key := followKey("client-1", "req-1")
	follow := h.follows.open(key, time.Hour)
	defer h.follows.close(key, follow)

	assert.Equal(t, http.StatusBadRequest, postInteraction(r, token, "req-1", `{"action":"zoom"}`).Code)
	assert.Equal(t, http.StatusNotFound, postInteraction(r, token, "req-2", `{"action":"start"}`).Code)
}

func TestFollowViews_CloseKeepsReplacement(t *testing.T) {
	views := &followViews{views: make(map[string]*tracking.Follow)}
	key := followKey("client-1", "req-1")

	first := views.open(key, time.Hour)
	second := views.open(key, time.Hour)

	views.close(key, first)
	got, ok := views.get(key)
	require.True(t, ok)
	assert.Same(t, second, got)

	views.close(key, second)
	_, ok = views.get(key)
	assert.False(t, ok)
}
