package cellrate

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/cellrate/core"
	"github.com/yourusername/cellrate/store"
)

// Option is a functional option for configuring a RateLimiter.
type Option func(*rateLimiter) error

// WithStore serves the default policy from s instead of a new in-memory
// store. Routes with their own policy still get in-memory stores.
func WithStore(s store.Store) Option {
	return func(rl *rateLimiter) error {
		if s == nil {
			return fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
		}
		rl.defaultStore = s
		return nil
	}
}

// WithConfig sets the configuration for the rate limiter.
func WithConfig(config *Config) Option {
	return func(rl *rateLimiter) error {
		if config == nil {
			return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
		}
		if err := config.Validate(); err != nil {
			return err
		}
		rl.config = config.clone()
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(rl *rateLimiter) error {
		config, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		rl.config = config
		return nil
	}
}

// WithKeyExtractor overrides the key_extractor setting of the config.
func WithKeyExtractor(extractor KeyExtractor) Option {
	return func(rl *rateLimiter) error {
		if extractor == nil {
			return fmt.Errorf("%w: key extractor cannot be nil", ErrInvalidConfig)
		}
		rl.keyExtractor = extractor
		return nil
	}
}

// WithDefaults sets the default policy: rate units per period, bursting up
// to burst units.
func WithDefaults(rate uint32, period time.Duration, burst uint32) Option {
	return func(rl *rateLimiter) error {
		policy := PolicyConfig{Rate: rate, Period: period, MaxBurst: core.Burst(burst)}
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		rl.config.Defaults = policy
		return nil
	}
}

// WithCleanupAge sets how long idle limiters are kept (0 = forever).
func WithCleanupAge(age time.Duration) Option {
	return func(rl *rateLimiter) error {
		if age < 0 {
			return fmt.Errorf("%w: cleanup age cannot be negative", ErrInvalidConfig)
		}
		rl.cleanupAge = &age
		return nil
	}
}

// WithCleanupInterval sets how often StartBackgroundCleanup sweeps.
// Default: 10 minutes
func WithCleanupInterval(interval time.Duration) Option {
	return func(rl *rateLimiter) error {
		if interval <= 0 {
			return fmt.Errorf("%w: cleanup interval must be positive", ErrInvalidConfig)
		}
		rl.cleanupInterval = interval
		return nil
	}
}

// RouteExtractorFunc maps a request path to the route its policy is stored under
type RouteExtractorFunc func(path string) string

// WithRouteExtractor replaces the default route (r.URL.Path), e.g. to fold
// path parameters into one route.
func WithRouteExtractor(fn RouteExtractorFunc) Option {
	return func(rl *rateLimiter) error {
		if fn == nil {
			return fmt.Errorf("%w: route extractor cannot be nil", ErrInvalidConfig)
		}
		rl.routeExtractor = fn
		return nil
	}
}

// UnitsExtractorFunc returns how many units a request costs
type UnitsExtractorFunc func(*http.Request) uint32

// WithUnitsExtractor charges requests more than one unit each
func WithUnitsExtractor(fn UnitsExtractorFunc) Option {
	return func(rl *rateLimiter) error {
		if fn == nil {
			return fmt.Errorf("%w: units extractor cannot be nil", ErrInvalidConfig)
		}
		rl.unitsExtractor = fn
		return nil
	}
}

// WithClock sets the time source of every limiter, mostly for tests
func WithClock(clock core.Clock) Option {
	return func(rl *rateLimiter) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		rl.clock = clock
		return nil
	}
}

// WithLogger sets the logger used for failures and sampled rejections
func WithLogger(logger *zap.Logger) Option {
	return func(rl *rateLimiter) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		rl.logger = logger
		return nil
	}
}
