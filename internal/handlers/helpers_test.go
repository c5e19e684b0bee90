package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/seqlog/internal/common"
)

func TestGetLimitParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 200},
		{"?limit=5", 5},
		{"?limit=0", 200},
		{"?limit=-3", 200},
		{"?limit=abc", 200},
		{"?limit=999999", 10000},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/logs/sessions/x"+tt.query, nil)
		assert.Equal(t, tt.want, GetLimitParam(req, 200, 10000), tt.query)
	}
}

func TestPathID(t *testing.T) {
	assert.Equal(t, "abc", PathID("/api/logs/sessions/abc", sessionsPath))
	assert.Equal(t, "", PathID("/api/logs/sessions/", sessionsPath))
	assert.Equal(t, "", PathID("/api/logs/sessions/a/b", sessionsPath))
	assert.Equal(t, "", PathID("/other/abc", sessionsPath))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusTeapot, "short and stout")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"error":"short and stout"}`, rec.Body.String())
}

func TestSessionLimiter(t *testing.T) {
	var disabled *sessionLimiter
	assert.Nil(t, newSessionLimiter(0, 10))
	assert.True(t, disabled.Allow("a"))

	limiter := newSessionLimiter(0.001, 2)
	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"), "sessions have independent buckets")
}

func TestSessionLimiter_AllowAllIsAtomic(t *testing.T) {
	var disabled *sessionLimiter
	_, ok := disabled.AllowAll([]string{"a", "b"})
	assert.True(t, ok)

	limiter := newSessionLimiter(0.001, 1)
	_, ok = limiter.AllowAll([]string{"b"})
	assert.True(t, ok)

	denied, ok := limiter.AllowAll([]string{"a", "b", "c"})
	assert.False(t, ok)
	assert.Equal(t, "b", denied)

	// Neither a nor c was charged for the rejected call
	_, ok = limiter.AllowAll([]string{"a", "c"})
	assert.True(t, ok)
	assert.False(t, limiter.Allow("a"))
}

func TestHideInProduction(t *testing.T) {
	cfg := common.NewDefaultConfig()
	rec := httptest.NewRecorder()
	assert.False(t, HideInProduction(rec, cfg))
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg.Environment = "production"
	rec = httptest.NewRecorder()
	assert.True(t, HideInProduction(rec, cfg))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
