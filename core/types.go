package core

import (
	"fmt"
	"time"
)

// Policy bundles the parameters of a limiter
type Policy struct {
	Rate     uint32        // Units refilled per Period
	Period   time.Duration // Time over which Rate units are refilled
	MaxBurst *uint32       // Largest single request; defaults to Rate when nil
}

// Burst returns the effective maximum burst
func (p Policy) Burst() uint32 {
	if p.MaxBurst != nil {
		return *p.MaxBurst
	}
	return p.Rate
}

// Validate checks that the policy produces a representable limiter.
// The clock-range check on construction can still fail for clocks near their epoch.
func (p Policy) Validate() error {
	_, _, err := derive(p.Rate, p.Period, p.Burst())
	return err
}

// Options converts the policy's optional fields into limiter options
func (p Policy) Options() []Option {
	if p.MaxBurst == nil {
		return nil
	}
	return []Option{WithMaxBurst(*p.MaxBurst)}
}

func (p Policy) String() string {
	return fmt.Sprintf("%d/%s burst %d", p.Rate, p.Period, p.Burst())
}

// Burst is a helper for building a Policy.MaxBurst literal
func Burst(n uint32) *uint32 {
	return &n
}

// Option configures a Limiter on construction or adjustment
type Option func(*options) error

type options struct {
	maxBurst *uint32
	clock    Clock
}

// WithMaxBurst sets the largest number of units a single request may take.
// Without it the burst equals the rate.
func WithMaxBurst(n uint32) Option {
	return func(o *options) error {
		o.maxBurst = &n
		return nil
	}
}

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) Option {
	return func(o *options) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidOption)
		}
		o.clock = clock
		return nil
	}
}

func applyOptions(opts []Option) (*options, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.clock == nil {
		o.clock = SystemClock{}
	}
	return o, nil
}
