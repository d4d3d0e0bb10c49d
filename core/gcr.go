package core

import (
	"math"
	"time"
)

// epoch is the earliest instant a Clock can represent
var epoch time.Time

// Limiter implements the Generic Cell Rate algorithm.
//
// Instead of counting tokens it keeps a theoretical arrival time (TAT): the
// instant the next unit would be on schedule if units arrived exactly at the
// configured rate. Capacity is derived from how far the clock has moved past
// allowAt = TAT - delayTolerance, and is never stored.
//
// A Limiter is not safe for concurrent use. Callers sharing one across
// goroutines must serialize access themselves (see store.Entry).
type Limiter struct {
	emissionInterval time.Duration // time cost of one unit, period / rate
	delayTolerance   time.Duration // emissionInterval * maxBurst
	tat              time.Time
	allowAt          time.Time
	maxBurst         uint32
	clock            Clock
}

// New creates a Limiter refilling rate units every period. The limiter starts
// with its full burst available.
//
// Example: New(10, time.Second, WithMaxBurst(30)) admits 30 units at once and
// refills one unit every 100ms.
func New(rate uint32, period time.Duration, opts ...Option) (*Limiter, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	maxBurst := rate
	if o.maxBurst != nil {
		maxBurst = *o.maxBurst
	}

	emissionInterval, delayTolerance, err := derive(rate, period, maxBurst)
	if err != nil {
		return nil, err
	}

	tat := o.clock.Now()
	allowAt, ok := subInstant(tat, delayTolerance)
	if !ok {
		return nil, outOfRange("interval subtraction failed: max_burst * (period / rate) was too large")
	}

	return &Limiter{
		emissionInterval: emissionInterval,
		delayTolerance:   delayTolerance,
		tat:              tat,
		allowAt:          allowAt,
		maxBurst:         maxBurst,
		clock:            o.clock,
	}, nil
}

// NewFromPolicy creates a Limiter from a Policy
func NewFromPolicy(p Policy, opts ...Option) (*Limiter, error) {
	return New(p.Rate, p.Period, append(p.Options(), opts...)...)
}

// derive computes the emission interval and delay tolerance for a parameter set
func derive(rate uint32, period time.Duration, maxBurst uint32) (time.Duration, time.Duration, error) {
	if rate == 0 {
		return 0, 0, outOfRange("duration division failed: supplied rate was zero")
	}

	emissionInterval := period / time.Duration(rate)
	if emissionInterval <= 0 {
		return 0, 0, outOfRange("emission interval must be positive: period " + period.String() + " is too short for the rate")
	}

	delayTolerance, ok := mulDuration(emissionInterval, int64(maxBurst))
	if !ok {
		return 0, 0, outOfRange("delay tolerance overflowed: max_burst * (period / rate) was too large")
	}

	return emissionInterval, delayTolerance, nil
}

// Capacity returns how many units a request could take right now
func (l *Limiter) Capacity() uint32 {
	return l.capacityAt(l.clock.Now())
}

func (l *Limiter) capacityAt(now time.Time) uint32 {
	if now.Before(l.allowAt) {
		return 0
	}

	units := int64(now.Sub(l.allowAt) / l.emissionInterval)
	if units > int64(l.maxBurst) {
		return l.maxBurst
	}
	return uint32(units)
}

// Request admits n units or explains why it cannot.
//
// Returns ErrRequestTooLarge if n exceeds the maximum burst, or a *DeniedError
// carrying the exact wait if the units are not available yet. Neither failure
// changes the limiter.
func (l *Limiter) Request(n uint32) error {
	if n > l.maxBurst {
		return ErrRequestTooLarge
	}

	// Single canonical timestamp for the whole decision
	now := l.clock.Now()
	cost := time.Duration(n) * l.emissionInterval

	if n > l.capacityAt(now) {
		allowTime := l.allowAt.Add(cost)
		if allowTime.After(now) {
			return &DeniedError{Wait: allowTime.Sub(now)}
		}
		// Truncation in capacityAt under-reported; the units are available
	}

	tat := l.tat
	if now.After(tat) {
		tat = now
	}
	tat = tat.Add(cost)

	allowAt, ok := subInstant(tat, l.delayTolerance)
	if !ok {
		return outOfRange("interval subtraction failed: delay_tolerance was too large")
	}

	l.tat = tat
	l.allowAt = allowAt
	return nil
}

// Adjust switches the limiter to new parameters while keeping the capacity it
// currently has, measured in whole units of the old rate.
//
// If the limiter is in deficit (a pending request would be denied) the deficit
// is dropped and the new parameters start with a full burst.
// On error the limiter is left unchanged.
func (l *Limiter) Adjust(rate uint32, period time.Duration, opts ...Option) error {
	candidate, err := New(rate, period, append([]Option{WithClock(l.clock)}, opts...)...)
	if err != nil {
		return err
	}

	now := candidate.clock.Now()
	if !now.Before(l.allowAt) {
		intervals := int64(now.Sub(l.allowAt) / l.emissionInterval)
		// Capacity never exceeds the new burst
		if intervals > int64(candidate.maxBurst) {
			intervals = int64(candidate.maxBurst)
		}

		rescaled, ok := mulDuration(candidate.emissionInterval, intervals)
		if !ok {
			return outOfRange("interval multiplication failed: emission_interval was too large")
		}
		allowAt, ok := subInstant(now, rescaled)
		if !ok {
			return outOfRange("interval subtraction failed: emission_interval was too large")
		}

		candidate.allowAt = allowAt
		candidate.tat = allowAt.Add(candidate.delayTolerance)
	}

	*l = *candidate
	return nil
}

// AdjustTo is Adjust driven by a Policy
func (l *Limiter) AdjustTo(p Policy) error {
	return l.Adjust(p.Rate, p.Period, p.Options()...)
}

// MaxBurst returns the largest request the limiter will ever admit
func (l *Limiter) MaxBurst() uint32 {
	return l.maxBurst
}

// EmissionInterval returns the time cost of a single unit
func (l *Limiter) EmissionInterval() time.Duration {
	return l.emissionInterval
}

// DelayTolerance returns the maximum credit the limiter can accumulate
func (l *Limiter) DelayTolerance() time.Duration {
	return l.delayTolerance
}

// Clone returns an independent copy sharing the same clock
func (l *Limiter) Clone() *Limiter {
	c := *l
	return &c
}

// mulDuration multiplies d by n, reporting int64 overflow
func mulDuration(d time.Duration, n int64) (time.Duration, bool) {
	if d < 0 || n < 0 {
		return 0, false
	}
	if n != 0 && int64(d) > math.MaxInt64/n {
		return 0, false
	}
	return d * time.Duration(n), true
}

// subInstant subtracts d from t, failing if the result would precede the epoch
func subInstant(t time.Time, d time.Duration) (time.Time, bool) {
	if d < 0 || t.Before(epoch) || t.Sub(epoch) < d {
		return time.Time{}, false
	}
	return t.Add(-d), true
}
