package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourusername/cellrate/core"
	"github.com/yourusername/cellrate/metrics"
	"github.com/yourusername/cellrate/store"
)

func newTestMiddleware(t *testing.T, units UnitsFunc) (http.Handler, *core.ManualClock, *metrics.Metrics) {
	t.Helper()
	clock := core.NewManualClock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	s, err := store.NewMemoryStore(core.Policy{Rate: 10, Period: time.Second, MaxBurst: core.Burst(3)}, 0, clock)
	require.NoError(t, err)

	m := metrics.NewMetrics()
	rl, err := NewRateLimiter(Config{
		Store:     s,
		UnitsFunc: units,
		Recorder:  m,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return rl.Middleware(ok), clock, m
}

func doRequest(h http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiter_RequiresStore(t *testing.T) {
	_, err := NewRateLimiter(Config{})
	assert.Error(t, err)
}

func TestMiddleware_AllowsThenDenies(t *testing.T) {
	h, clock, m := newTestMiddleware(t, nil)

	for i := 0; i < 3; i++ {
		w := doRequest(h, "10.0.0.1:1234", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doRequest(h, "10.0.0.1:1234", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Equal(t, float64(100), body["retry_after_ms"])

	// Other clients are unaffected
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1234", nil).Code)

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234", nil).Code)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(6), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.DeniedRequests)
}

func TestMiddleware_UnitsFromHeader(t *testing.T) {
	h, _, _ := newTestMiddleware(t, UnitsFromHeader("X-Cost"))

	w := doRequest(h, "10.0.0.1:1", http.Header{"X-Cost": {"2"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = doRequest(h, "10.0.0.1:1", http.Header{"X-Cost": {"4"}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))

	w = doRequest(h, "10.0.0.1:1", http.Header{"X-Cost": {"garbage"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDefaultKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	assert.Equal(t, "192.168.1.5", defaultKeyFunc(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", defaultKeyFunc(req))
}

func TestRetryAfterRounding(t *testing.T) {
	tests := []struct {
		wait       time.Duration
		wantSecs   int64
		wantMillis int64
	}{
		{0, 1, 0},
		{time.Nanosecond, 1, 1},
		{999 * time.Millisecond, 1, 999},
		{time.Second, 1, 1000},
		{1500 * time.Millisecond, 2, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.wait.String(), func(t *testing.T) {
			assert.Equal(t, tt.wantSecs, RetryAfterSeconds(tt.wait))
			assert.Equal(t, tt.wantMillis, RetryAfterMillis(tt.wait))
		})
	}
}

func TestWriteRejection_Internal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRejection(w, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
