// Package cellrate is a Generic Cell Rate (GCR) rate limiter.
//
// A Limiter admits requests of N units against a refill rate and a maximum
// burst, or denies them with the exact time to wait. Parameters can be
// adjusted in place without resetting the capacity already available.
//
//	l, err := cellrate.New(10, time.Second, cellrate.WithMaxBurst(30))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := l.Request(20); err != nil {
//	    if wait, ok := cellrate.DeniedFor(err); ok {
//	        fmt.Println("retry in", wait)
//	    }
//	}
//
// Limiters are not safe for concurrent use; see the store package for a
// mutex-guarded, keyed collection and pkg/cellrate for HTTP integration.
package cellrate

import (
	"github.com/yourusername/cellrate/core"
)

// Re-export main types for convenience
type (
	Limiter     = core.Limiter
	Policy      = core.Policy
	Option      = core.Option
	Clock       = core.Clock
	DeniedError = core.DeniedError
)

var (
	New           = core.New
	NewFromPolicy = core.NewFromPolicy
	WithMaxBurst  = core.WithMaxBurst
	WithClock     = core.WithClock
	DeniedFor     = core.DeniedFor
)

var (
	ErrParametersOutOfRange = core.ErrParametersOutOfRange
	ErrRequestTooLarge      = core.ErrRequestTooLarge
	ErrDenied               = core.ErrDenied
	ErrInvalidOption        = core.ErrInvalidOption
)
