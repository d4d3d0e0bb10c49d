package cellrate

import (
	"errors"

	"github.com/yourusername/cellrate/core"
)

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidKey is returned when the rate limit key is empty
	ErrInvalidKey = errors.New("rate limit key cannot be empty")

	// ErrStoreFailed is returned when a limiter cannot be loaded from its store
	ErrStoreFailed = errors.New("store operation failed")

	// ErrKeyExtractionFailed is returned when no key can be taken from a request
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")
)

// Reasons carried by Decision.Reason. Test them with errors.Is.
var (
	ErrDenied          = core.ErrDenied
	ErrRequestTooLarge = core.ErrRequestTooLarge
)
