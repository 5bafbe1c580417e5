package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	rdb := newRedis(t)
	scope := "test-" + uuid.NewString()[:8]
	rl := NewRateLimiter(rdb, scope, 2, time.Minute)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := rl.Limit(ok)

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/loops/detect", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	first := send("10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:5001").Code)

	blocked := send("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "0", blocked.Header().Get("X-RateLimit-Remaining"))

	// Counters are per client.
	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000").Code)

	keys, err := rdb.Keys(context.Background(), "ratelimit:"+scope+":*").Result()
	if assert.NoError(t, err) && len(keys) > 0 {
		rdb.Del(context.Background(), keys...)
	}
}
