package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrParametersOutOfRange is returned when rate, period and burst cannot be
	// turned into a valid limiter, or when an update would leave the clock's range
	ErrParametersOutOfRange = errors.New("parameters out of range")

	// ErrRequestTooLarge is returned when a request asks for more units than the
	// maximum burst. Retrying the same request will never succeed.
	ErrRequestTooLarge = errors.New("request was too large to ever be allowed")

	// ErrDenied matches every *DeniedError
	ErrDenied = errors.New("request denied")

	// ErrInvalidOption is returned when an Option is given an unusable value
	ErrInvalidOption = errors.New("invalid option")
)

// DeniedError reports how long the caller has to wait before the same request
// would be admitted, assuming nothing else consumes capacity meanwhile.
type DeniedError struct {
	Wait time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("request denied for %s", e.Wait)
}

// Is lets errors.Is(err, ErrDenied) match any wait duration.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// DeniedFor extracts the wait duration from a denial.
func DeniedFor(err error) (time.Duration, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Wait, true
	}
	return 0, false
}

func outOfRange(cause string) error {
	return fmt.Errorf("%w: %s", ErrParametersOutOfRange, cause)
}
