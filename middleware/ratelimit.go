package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yourusername/cellrate/core"
	"github.com/yourusername/cellrate/metrics"
	"github.com/yourusername/cellrate/store"
)

// KeyFunc extracts a unique identifier from the request
type KeyFunc func(*http.Request) string

// UnitsFunc returns how many units a request costs
type UnitsFunc func(*http.Request) uint32

// Recorder receives one call per admission decision
type Recorder interface {
	RecordRequest(clientID string, n uint32, outcome metrics.Outcome)
}

// RateLimiter provides HTTP middleware for rate limiting
type RateLimiter struct {
	store     store.Store
	keyFunc   KeyFunc
	unitsFunc UnitsFunc
	recorder  Recorder
	logger    *zap.Logger
	denyLog   *rate.Sometimes
}

// Config for creating a rate limiter
type Config struct {
	Store     store.Store // Required: keyed limiters
	KeyFunc   KeyFunc     // Optional: custom key extraction
	UnitsFunc UnitsFunc   // Optional: request cost, defaults to 1 unit
	Recorder  Recorder    // Optional: metrics
	Logger    *zap.Logger // Optional: defaults to a no-op logger
}

// NewRateLimiter creates a new rate limiting middleware
func NewRateLimiter(config Config) (*RateLimiter, error) {
	if config.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if config.KeyFunc == nil {
		config.KeyFunc = defaultKeyFunc
	}
	if config.UnitsFunc == nil {
		config.UnitsFunc = func(*http.Request) uint32 { return 1 }
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &RateLimiter{
		store:     config.Store,
		keyFunc:   config.KeyFunc,
		unitsFunc: config.UnitsFunc,
		recorder:  config.Recorder,
		logger:    config.Logger,
		denyLog:   &rate.Sometimes{Interval: time.Second},
	}, nil
}

// defaultKeyFunc extracts client identifier from IP address
func defaultKeyFunc(r *http.Request) string {
	// Try X-Forwarded-For first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	ip := r.RemoteAddr
	// Remove port if present
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// UnitsFromHeader charges the integer value of header, or 1 if it is missing or malformed
func UnitsFromHeader(header string) UnitsFunc {
	return func(r *http.Request) uint32 {
		n, err := strconv.ParseUint(r.Header.Get(header), 10, 32)
		if err != nil {
			return 1
		}
		return uint32(n)
	}
}

// Middleware wraps an http.Handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.keyFunc(r)
		units := rl.unitsFunc(r)

		entry, err := rl.store.Get(key)
		if err != nil {
			rl.logger.Error("failed to get limiter", zap.String("key", key), zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		remaining, err := entry.Take(units)
		if rl.recorder != nil {
			rl.recorder.RecordRequest(key, units, metrics.Classify(err))
		}

		WriteHeaders(w, entry.MaxBurst(), remaining)
		if err != nil {
			rl.denyLog.Do(func() {
				rl.logger.Info("request rejected",
					zap.String("key", key),
					zap.Uint32("units", units),
					zap.Error(err),
				)
			})
			WriteRejection(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WriteHeaders sets the standard rate limit headers
func WriteHeaders(w http.ResponseWriter, limit, remaining uint32) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatUint(uint64(limit), 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatUint(uint64(remaining), 10))
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below 1
func RetryAfterSeconds(wait time.Duration) int64 {
	secs := int64((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RetryAfterMillis rounds a wait up to whole milliseconds
func RetryAfterMillis(wait time.Duration) int64 {
	return int64((wait + time.Millisecond - 1) / time.Millisecond)
}

// WriteRejection writes the response for a failed admission.
// Denials get 429 with Retry-After; requests larger than the burst get 413
// since waiting will not help.
func WriteRejection(w http.ResponseWriter, err error) {
	body := map[string]interface{}{}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrDenied):
		wait, _ := core.DeniedFor(err)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", RetryAfterSeconds(wait)))
		status = http.StatusTooManyRequests
		body["error"] = "rate_limit_exceeded"
		body["message"] = "Too many requests. Please try again later."
		body["retry_after_ms"] = RetryAfterMillis(wait)
	case errors.Is(err, core.ErrRequestTooLarge):
		status = http.StatusRequestEntityTooLarge
		body["error"] = "request_too_large"
		body["message"] = "Request exceeds the maximum burst and can never be admitted."
	default:
		body["error"] = "internal_error"
		body["message"] = "Rate limiter failed."
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
