package cellrate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yourusername/cellrate/core"
	"github.com/yourusername/cellrate/middleware"
	"github.com/yourusername/cellrate/store"
)

// RateLimiter is the main interface for rate limiting.
type RateLimiter interface {
	// Allow takes one unit from key's limiter under the default policy.
	Allow(key string) (*Decision, error)

	// AllowN takes n units from key's limiter under the default policy.
	AllowN(key string, n uint32) (*Decision, error)

	// AllowRequest identifies the client and route of r and charges the
	// route's limiter. Denials are reported in the Decision, not as errors.
	AllowRequest(r *http.Request) (*Decision, error)

	// Adjust changes a route's policy in place, keeping every client's
	// available capacity. An empty route changes the defaults.
	Adjust(route string, policy PolicyConfig) error

	// Policy returns the policy currently applied to route
	Policy(route string) PolicyConfig

	// Middleware returns an HTTP middleware that applies rate limiting.
	Middleware(next http.Handler) http.Handler

	// Cleanup drops limiters idle longer than the cleanup age
	Cleanup() int

	// StartBackgroundCleanup runs Cleanup periodically until the returned
	// function is called.
	StartBackgroundCleanup() func()
}

// Decision contains the result of a rate limit check.
type Decision struct {
	Allowed bool

	// Remaining is the capacity left after the request
	Remaining uint32

	// Limit is the largest request the limiter admits (max burst)
	Limit uint32

	// RetryAfter is how long until the same request would be admitted.
	// Zero when allowed, and when the request is too large to ever pass.
	RetryAfter time.Duration

	// Reason is nil when allowed; otherwise it matches ErrDenied or
	// ErrRequestTooLarge
	Reason error

	Units uint32
	Key   string
	Route string
}

type rateLimiter struct {
	mu           sync.RWMutex
	config       *Config
	defaultStore store.Store
	routeStores  map[string]*store.MemoryStore

	keyExtractor    KeyExtractor
	routeExtractor  RouteExtractorFunc
	unitsExtractor  UnitsExtractorFunc
	clock           core.Clock
	logger          *zap.Logger
	denyLog         *rate.Sometimes
	cleanupAge      *time.Duration // nil means config.CleanupAge
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new RateLimiter with the given options.
//
// Example:
//
//	limiter, err := NewRateLimiter(
//	    WithDefaults(10, time.Second, 30), // 10/s, bursts of 30
//	    WithKeyExtractor(ExtractIPWithProxy()),
//	)
func NewRateLimiter(opts ...Option) (RateLimiter, error) {
	rl := &rateLimiter{
		config:          NewConfig(),
		routeStores:     make(map[string]*store.MemoryStore),
		routeExtractor:  func(path string) string { return path },
		unitsExtractor:  func(*http.Request) uint32 { return 1 },
		clock:           core.SystemClock{},
		logger:          zap.NewNop(),
		denyLog:         &rate.Sometimes{Interval: time.Second},
		cleanupInterval: 10 * time.Minute,
	}

	for _, opt := range opts {
		if err := opt(rl); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if rl.cleanupAge == nil {
		age := rl.config.CleanupAge
		rl.cleanupAge = &age
	}

	if rl.keyExtractor == nil {
		extractor, err := ParseKeyExtractorConfig(rl.config.KeyExtractor)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key extractor config: %w", err)
		}
		rl.keyExtractor = extractor
	}

	if rl.defaultStore == nil {
		s, err := rl.newStore(rl.config.Defaults)
		if err != nil {
			return nil, fmt.Errorf("failed to create default store: %w", err)
		}
		rl.defaultStore = s
	}

	for route, policy := range rl.config.Policies {
		if !policy.IsEnabled() {
			continue
		}
		s, err := rl.newStore(policy)
		if err != nil {
			return nil, fmt.Errorf("failed to create store for route %s: %w", route, err)
		}
		rl.routeStores[route] = s
	}

	return rl, nil
}

func (rl *rateLimiter) newStore(policy PolicyConfig) (*store.MemoryStore, error) {
	return store.NewMemoryStore(policy.ToPolicy(), *rl.cleanupAge, rl.clock)
}

// Allow takes one unit for key under the default policy.
func (rl *rateLimiter) Allow(key string) (*Decision, error) {
	return rl.AllowN(key, 1)
}

// AllowN takes n units for key under the default policy.
func (rl *rateLimiter) AllowN(key string, n uint32) (*Decision, error) {
	rl.mu.RLock()
	defaults := rl.config.Defaults
	s := rl.defaultStore
	rl.mu.RUnlock()

	if key == "" {
		return nil, ErrInvalidKey
	}
	if !defaults.IsEnabled() {
		return unlimited(defaults, key, "", n), nil
	}
	return rl.take(s, key, "", n)
}

// AllowRequest charges the limiter of r's client on r's route.
func (rl *rateLimiter) AllowRequest(r *http.Request) (*Decision, error) {
	key, err := rl.keyExtractor(r)
	if err != nil {
		return nil, fmt.Errorf("key extraction failed: %w", err)
	}
	if key == "" {
		return nil, ErrInvalidKey
	}

	route := rl.routeExtractor(r.URL.Path)
	units := rl.unitsExtractor(r)

	rl.mu.RLock()
	policy := rl.config.GetPolicy(route)
	var s store.Store = rl.defaultStore
	if routeStore, ok := rl.routeStores[route]; ok {
		s = routeStore
	}
	rl.mu.RUnlock()

	if !policy.IsEnabled() {
		return unlimited(policy, key, route, units), nil
	}
	return rl.take(s, key, route, units)
}

func unlimited(policy PolicyConfig, key, route string, n uint32) *Decision {
	burst := policy.ToPolicy().Burst()
	return &Decision{
		Allowed:   true,
		Remaining: burst,
		Limit:     burst,
		Units:     n,
		Key:       key,
		Route:     route,
	}
}

func (rl *rateLimiter) take(s store.Store, key, route string, n uint32) (*Decision, error) {
	entry, err := s.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	remaining, err := entry.Take(n)
	decision := &Decision{
		Allowed:   err == nil,
		Remaining: remaining,
		Limit:     entry.MaxBurst(),
		Reason:    err,
		Units:     n,
		Key:       key,
		Route:     route,
	}

	switch {
	case err == nil:
	case errors.Is(err, core.ErrDenied):
		decision.RetryAfter, _ = core.DeniedFor(err)
	case errors.Is(err, core.ErrRequestTooLarge):
	default:
		return nil, fmt.Errorf("limiter request failed: %w", err)
	}
	return decision, nil
}

// Adjust moves route to policy. Clients keep the capacity they had, except
// on a route that shared the defaults until now: it gets fresh limiters.
func (rl *rateLimiter) Adjust(route string, policy PolicyConfig) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	ctx := context.Background()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if route == "" {
		if policy.IsEnabled() {
			if err := rl.defaultStore.ApplyPolicy(ctx, "", policy.ToPolicy()); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailed, err)
			}
		}
		rl.config.Defaults = policy
		rl.logger.Info("default policy adjusted", zap.Stringer("policy", policy.ToPolicy()))
		return nil
	}

	if policy.IsEnabled() {
		if s, ok := rl.routeStores[route]; ok {
			if err := s.ApplyPolicy(ctx, "", policy.ToPolicy()); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailed, err)
			}
		} else {
			s, err := rl.newStore(policy)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreFailed, err)
			}
			rl.routeStores[route] = s
		}
	}
	rl.config.Policies[route] = policy
	rl.logger.Info("route policy adjusted",
		zap.String("route", route),
		zap.Stringer("policy", policy.ToPolicy()),
		zap.Bool("enabled", policy.IsEnabled()),
	)
	return nil
}

// Policy returns the policy currently applied to route
func (rl *rateLimiter) Policy(route string) PolicyConfig {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.config.GetPolicy(route)
}

// Middleware returns an HTTP middleware that applies rate limiting.
//
// Every limited response carries X-RateLimit-Limit and X-RateLimit-Remaining.
// Denied requests get 429 with Retry-After; requests larger than the burst
// get 413.
func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := rl.AllowRequest(r)
		if err != nil {
			if errors.Is(err, ErrKeyExtractionFailed) {
				rl.logger.Debug("cannot identify client", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, "Unable to identify client", http.StatusBadRequest)
				return
			}
			rl.logger.Error("rate limit check failed", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		middleware.WriteHeaders(w, decision.Limit, decision.Remaining)
		if !decision.Allowed {
			rl.denyLog.Do(func() {
				rl.logger.Info("request rejected",
					zap.String("key", decision.Key),
					zap.String("route", decision.Route),
					zap.Uint32("units", decision.Units),
					zap.Duration("retry_after", decision.RetryAfter),
				)
			})
			middleware.WriteRejection(w, decision.Reason)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops idle limiters from every in-memory store
func (rl *rateLimiter) Cleanup() int {
	rl.mu.RLock()
	stores := make([]*store.MemoryStore, 0, len(rl.routeStores)+1)
	if s, ok := rl.defaultStore.(*store.MemoryStore); ok {
		stores = append(stores, s)
	}
	for _, s := range rl.routeStores {
		stores = append(stores, s)
	}
	rl.mu.RUnlock()

	removed := 0
	for _, s := range stores {
		removed += s.Cleanup()
	}
	return removed
}

// StartBackgroundCleanup sweeps idle limiters every cleanup interval.
// It is a no-op when the cleanup age is 0.
func (rl *rateLimiter) StartBackgroundCleanup() func() {
	if *rl.cleanupAge == 0 {
		return func() {}
	}

	ticker := time.NewTicker(rl.cleanupInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if removed := rl.Cleanup(); removed > 0 {
					rl.logger.Debug("cleaned up idle limiters", zap.Int("removed", removed))
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
