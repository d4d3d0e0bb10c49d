package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/cellrate/core"
)

// MemoryStore keeps one limiter per key in process memory.
// It's thread-safe and suitable for single-instance deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	policy     core.Policy            // Default for keys without an override
	overrides  map[string]core.Policy // Per-key policies set through ApplyPolicy
	clock      core.Clock
	cleanupAge time.Duration // Entries idle longer than this are cleaned up
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose entries start from policy.
// cleanupAge determines how long idle entries are kept (0 = never cleaned up).
// A nil clock means core.SystemClock.
func NewMemoryStore(policy core.Policy, cleanupAge time.Duration, clock core.Clock) (*MemoryStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default policy: %w", err)
	}
	if cleanupAge < 0 {
		return nil, fmt.Errorf("cleanup age cannot be negative: %s", cleanupAge)
	}
	if clock == nil {
		clock = core.SystemClock{}
	}

	return &MemoryStore{
		entries:    make(map[string]*Entry),
		policy:     policy,
		overrides:  make(map[string]core.Policy),
		clock:      clock,
		cleanupAge: cleanupAge,
	}, nil
}

// Get retrieves or creates the entry for key
func (s *MemoryStore) Get(key string) (*Entry, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	// Fast path - entry exists
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()
	if exists {
		return entry, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine might have created it
	if entry, exists = s.entries[key]; exists {
		return entry, nil
	}

	limiter, err := core.NewFromPolicy(s.policyForLocked(key), core.WithClock(s.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter for %q: %w", key, err)
	}

	entry = newEntry(limiter, s.clock)
	s.entries[key] = entry
	return entry, nil
}

// Lookup returns the entry for key if it exists
func (s *MemoryStore) Lookup(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Delete removes the entry and any override for key
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	delete(s.overrides, key)
}

// Clear removes all entries and overrides
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	s.overrides = make(map[string]core.Policy)
}

// Count returns the number of live entries
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Policy returns the default policy
func (s *MemoryStore) Policy() core.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// PolicyFor returns the policy that applies to key
func (s *MemoryStore) PolicyFor(key string) core.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyForLocked(key)
}

func (s *MemoryStore) policyForLocked(key string) core.Policy {
	if p, ok := s.overrides[key]; ok {
		return p
	}
	return s.policy
}

// ApplyPolicy adjusts limiters in place.
// With an empty key the default policy changes and every entry without an
// override is adjusted; otherwise only key's entry is, and the policy is
// remembered for when the entry is recreated after cleanup.
// If any entry cannot be adjusted nothing changes.
func (s *MemoryStore) ApplyPolicy(_ context.Context, key string, p core.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make(map[string]*Entry)
	if key != "" {
		if entry, ok := s.entries[key]; ok {
			targets[key] = entry
		}
	} else {
		for k, entry := range s.entries {
			if _, overridden := s.overrides[k]; !overridden {
				targets[k] = entry
			}
		}
	}

	if err := adjustEntries(targets, p); err != nil {
		return err
	}

	if key != "" {
		s.overrides[key] = p
	} else {
		s.policy = p
	}
	return nil
}

// Range calls fn for every entry until it returns false
func (s *MemoryStore) Range(fn func(key string, entry *Entry) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, entry := range s.entries {
		if !fn(k, entry) {
			return
		}
	}
}

// Cleanup removes entries that haven't been accessed recently.
// Returns the number of entries removed.
func (s *MemoryStore) Cleanup() int {
	if s.cleanupAge == 0 {
		return 0 // Cleanup disabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.cleanupAge)
	removed := 0
	for key, entry := range s.entries {
		if entry.LastAccessed().Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartBackgroundCleanup starts a goroutine that periodically cleans up idle entries.
// Call the returned function to stop it.
func (s *MemoryStore) StartBackgroundCleanup(interval time.Duration) func() {
	if s.cleanupAge == 0 || interval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
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
