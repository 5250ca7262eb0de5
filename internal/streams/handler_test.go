package streams

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-stream/backend/internal/models"
)

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg, mem := newTestRegistry(t)
	live := mem.PutStream(&models.Stream{StreamKey: "a", Name: "Alpha"})
	mem.PutStream(&models.Stream{StreamKey: "b", Name: "Beta"})
	_, err := reg.Transition(context.Background(), live.ID, models.StreamOnline, time.Now())
	require.NoError(t, err)

	h := NewHandler(reg, nil)
	r := gin.New()
	r.GET("/streams", h.List)
	r.GET("/streams/live", h.Live)
	r.GET("/streams/:id", h.GetByID)

	type listBody struct {
		Success bool `json:"success"`
		Data    struct {
			Streams []models.Stream `json:"streams"`
		} `json:"data"`
	}
	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	tests := []struct {
		path  string
		code  int
		names []string
	}{
		{"/streams", http.StatusOK, []string{"Alpha", "Beta"}},
		{"/streams?status=OFFLINE", http.StatusOK, []string{"Beta"}},
		{"/streams/live", http.StatusOK, []string{"Alpha"}},
		{"/streams?status=BOGUS", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(tt.path)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var body listBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			var names []string
			for _, s := range body.Data.Streams {
				names = append(names, s.Name)
			}
			assert.Equal(t, tt.names, names)
		})
	}

	w := get("/streams/" + live.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var one struct {
		Data models.Stream `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, models.StreamOnline, one.Data.Status)

	assert.Equal(t, http.StatusBadRequest, get("/streams/xyz").Code)
	assert.Equal(t, http.StatusNotFound, get("/streams/00000000-0000-0000-0000-000000000009").Code)
}
