package store

import (
	"context"

	"github.com/yourusername/cellrate/core"
)

// Store defines the interface for keyed limiter storage
type Store interface {
	// Get returns the entry for key, creating it from the key's policy if needed
	Get(key string) (*Entry, error)

	// Lookup returns the entry for key without creating it
	Lookup(key string) (*Entry, bool)

	Delete(key string)
	Clear()
	Count() int

	// Policy returns the policy new entries are created with
	Policy() core.Policy

	PolicyApplier
}

// PolicyApplier changes limiter parameters in place.
// An empty key targets the default policy and every live entry.
type PolicyApplier interface {
	ApplyPolicy(ctx context.Context, key string, p core.Policy) error
}
