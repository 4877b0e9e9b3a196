package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/dictation/internal/api/respond"
	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

type brokenLimiter struct{}

func (brokenLimiter) Check(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("store down")
}
func (brokenLimiter) Limit() int            { return 1 }
func (brokenLimiter) Window() time.Duration { return time.Minute }

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = respond.RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-Id"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "   ")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.NotEqual(t, "   ", seen)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRateLimit_PerClientAddress(t *testing.T) {
	l := ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{Max: 1, Window: time.Minute})
	h := RateLimit(l, "voice", nil)(okHandler)

	send := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := send("10.0.0.1:5000")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))
	assert.NotEmpty(t, w.Header().Get(HeaderRateLimitReset))

	// Same address, different port.
	w = send("10.0.0.1:6000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	w = send("10.0.0.2:5000")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimit_ExemptRequestsCarryNoHeaders(t *testing.T) {
	l := ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{Max: 1, Window: time.Minute})
	h := RateLimit(l, "voice", func(*http.Request) bool { return true })(okHandler)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get(HeaderRateLimitLimit))
	}
}

func TestRateLimit_StoreFailureAllows(t *testing.T) {
	h := RateLimit(brokenLimiter{}, "auth", nil)(okHandler)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/v1/voice-to-text", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Elevenlabs-Api-Key")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverer_WritesEnvelope(t *testing.T) {
	h := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal", body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Equal(t, w.Header().Get("X-Request-Id"), body.RequestID)
}

func TestRecoverer_ReraisesAbort(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestChargeOnError_ThrottlesRejectedRequests(t *testing.T) {
	l := ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{Max: 1, Window: time.Minute})
	writeErr := ChargeOnError(l, "voice", respond.Error)

	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = "10.0.0.9:4000"
		w := httptest.NewRecorder()
		writeErr(w, r, apperror.Unauthorized("invalid token"))
		return w
	}

	w := send()
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))

	w = send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestChargeOnError_StoreFailureKeepsOriginalError(t *testing.T) {
	writeErr := ChargeOnError(brokenLimiter{}, "voice", respond.Error)
	w := httptest.NewRecorder()
	writeErr(w, httptest.NewRequest(http.MethodPost, "/", nil), apperror.Unauthorized("invalid token"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit_RedisKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := ratelimit.NewRedisLimiter(rdb, ratelimit.RedisKeyPrefix, 5, time.Minute)
	h := RateLimit(l, "voice", nil)(okHandler)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "1.2.3.4:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, []string{"dictation:ratelimit:voice:1.2.3.4"}, mr.Keys())
}
