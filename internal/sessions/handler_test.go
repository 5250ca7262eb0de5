package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-stream/backend/internal/auth"
	"github.com/aura-stream/backend/internal/middleware"
	"github.com/aura-stream/backend/internal/models"
)

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	MaxQuality string          `json:"max_quality"`
}

func newTestRouter(t *testing.T, f *fixture) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSvc := auth.NewJWTService("test-secret", 1)
	h := NewHandler(f.manager, nil)

	r := gin.New()
	api := r.Group("/api/v1", middleware.JWT(jwtSvc))
	api.POST("/streams/:id/playback-url", h.PlaybackURL)
	api.GET("/sessions/:id", h.Get)
	api.POST("/sessions/:id/heartbeat", h.Heartbeat)
	api.POST("/sessions/:id/end", h.End)
	api.GET("/users/me/stats", h.Stats)
	return r, jwtSvc
}

func do(t *testing.T, r http.Handler, token, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestHandler_playbackFlow(t *testing.T) {
	f := newFixture(t)
	r, jwtSvc := newTestRouter(t, f)
	u := f.user(models.TierPremium)
	token, err := jwtSvc.Generate(u.ID, u.Email)
	require.NoError(t, err)

	w, env := do(t, r, token, http.MethodPost, "/api/v1/streams/"+f.stream.ID.String()+"/playback-url", `{"quality":"720p","device_type":"mobile"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var grant PlaybackResponse
	require.NoError(t, json.Unmarshal(env.Data, &grant))
	assert.Equal(t, "720p", grant.Quality)
	assert.Equal(t, DefaultURLTTL, grant.ExpiresIn)
	assert.Contains(t, grant.StreamURL, "signature=")
	assert.Equal(t, 1, f.streamState(t).CurrentViewers)

	w, _ = do(t, r, token, http.MethodPost, "/api/v1/sessions/"+grant.SessionID+"/heartbeat", `{"buffer_count":2,"data_consumed":1024}`)
	assert.Equal(t, http.StatusOK, w.Code)

	f.clock.Advance(2 * time.Minute)
	w, env = do(t, r, token, http.MethodPost, "/api/v1/sessions/"+grant.SessionID+"/end", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ended EndResponse
	require.NoError(t, json.Unmarshal(env.Data, &ended))
	assert.Equal(t, "ended", ended.Status)
	assert.Equal(t, int64(120), ended.WatchDuration)
	assert.Equal(t, int64(1024), ended.DataConsumed)

	w, env = do(t, r, token, http.MethodGet, "/api/v1/users/me/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats UserStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, int64(120), stats.TotalWatchTime)
}

func TestHandler_emptyBodyUsesAuto(t *testing.T) {
	f := newFixture(t)
	r, jwtSvc := newTestRouter(t, f)
	u := f.user(models.TierFree)
	token, _ := jwtSvc.Generate(u.ID, u.Email)

	w, env := do(t, r, token, http.MethodPost, "/api/v1/streams/"+f.stream.ID.String()+"/playback-url", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var grant PlaybackResponse
	require.NoError(t, json.Unmarshal(env.Data, &grant))
	assert.Equal(t, "auto", grant.Quality)
	assert.Contains(t, grant.StreamURL, "/abc/master.m3u8?")
}

func TestHandler_qualityForbidden(t *testing.T) {
	f := newFixture(t)
	r, jwtSvc := newTestRouter(t, f)
	u := f.user(models.TierBasic)
	token, _ := jwtSvc.Generate(u.ID, u.Email)

	w, env := do(t, r, token, http.MethodPost, "/api/v1/streams/"+f.stream.ID.String()+"/playback-url", `{"quality":"1080p"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "480p", env.MaxQuality)
}

func TestHandler_errors(t *testing.T) {
	f := newFixture(t)
	r, jwtSvc := newTestRouter(t, f)
	u := f.user(models.TierFree)
	token, _ := jwtSvc.Generate(u.ID, u.Email)

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		body   string
		want   int
	}{
		{"no token", "", http.MethodGet, "/api/v1/users/me/stats", "", http.StatusUnauthorized},
		{"bad token", "garbage", http.MethodGet, "/api/v1/users/me/stats", "", http.StatusUnauthorized},
		{"bad stream id", token, http.MethodPost, "/api/v1/streams/nope/playback-url", "", http.StatusBadRequest},
		{"unknown stream", token, http.MethodPost, "/api/v1/streams/00000000-0000-0000-0000-000000000001/playback-url", "", http.StatusNotFound},
		{"unknown session", token, http.MethodGet, "/api/v1/sessions/missing", "", http.StatusNotFound},
		{"malformed body", token, http.MethodPost, "/api/v1/streams/" + f.stream.ID.String() + "/playback-url", `{"quality":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, tt.token, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestHandler_offlineStream(t *testing.T) {
	f := newFixture(t)
	r, jwtSvc := newTestRouter(t, f)
	u := f.user(models.TierFree)
	token, _ := jwtSvc.Generate(u.ID, u.Email)
	_, err := f.registry.Transition(context.Background(), f.stream.ID, models.StreamOffline, f.clock.Now())
	require.NoError(t, err)

	w, env := do(t, r, token, http.MethodPost, "/api/v1/streams/"+f.stream.ID.String()+"/playback-url", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrStreamOffline.Error(), env.Error)
}

func TestHandler_sessionOfOtherUserIsHidden(t *testing.T) {
	f := newFixture(t)
	r, jwtSvc := newTestRouter(t, f)
	owner := f.user(models.TierFree)
	other := f.user(models.TierFree)
	sess, err := f.manager.StartSession(context.Background(), StartParams{UserID: owner.ID, StreamID: f.stream.ID})
	require.NoError(t, err)
	token, _ := jwtSvc.Generate(other.ID, other.Email)

	w, _ := do(t, r, token, http.MethodPost, "/api/v1/sessions/"+sess.SessionID+"/end", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	got, err := f.manager.Get(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.State())
}

func TestHandler_negativeHeartbeat(t *testing.T) {
	f := newFixture(t)
	r, jwtSvc := newTestRouter(t, f)
	u := f.user(models.TierFree)
	sess, err := f.manager.StartSession(context.Background(), StartParams{UserID: u.ID, StreamID: f.stream.ID})
	require.NoError(t, err)
	token, _ := jwtSvc.Generate(u.ID, u.Email)

	w, env := do(t, r, token, http.MethodPost, "/api/v1/sessions/"+sess.SessionID+"/heartbeat", `{"buffer_count":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrInvalidHeartbeat.Error(), env.Error)
}
