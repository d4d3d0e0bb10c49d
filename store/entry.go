package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/cellrate/core"
)

// Entry guards a single limiter for one client.
// core.Limiter has no locking of its own; every access goes through mu.
type Entry struct {
	mu           sync.Mutex
	limiter      *core.Limiter
	clock        core.Clock
	lastAccessed time.Time
}

func newEntry(limiter *core.Limiter, clock core.Clock) *Entry {
	return &Entry{
		limiter:      limiter,
		clock:        clock,
		lastAccessed: clock.Now(),
	}
}

// Take requests n units and reports the capacity left afterwards.
// On denial the remaining capacity is what was available before the request.
func (e *Entry) Take(n uint32) (remaining uint32, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastAccessed = e.clock.Now()
	err = e.limiter.Request(n)
	return e.limiter.Capacity(), err
}

// Capacity returns the units currently available
func (e *Entry) Capacity() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiter.Capacity()
}

// MaxBurst returns the largest request the entry admits
func (e *Entry) MaxBurst() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiter.MaxBurst()
}

// adjustEntries moves every entry to p, or none of them.
// All entries stay locked until the new limiters are installed, so no Take
// runs between computing an adjusted limiter and swapping it in.
func adjustEntries(entries map[string]*Entry, p core.Policy) error {
	locked := make([]*Entry, 0, len(entries))
	next := make([]*core.Limiter, 0, len(entries))
	defer func() {
		for _, e := range locked {
			e.mu.Unlock()
		}
	}()

	for key, e := range entries {
		e.mu.Lock()
		locked = append(locked, e)

		adjusted := e.limiter.Clone()
		if err := adjusted.AdjustTo(p); err != nil {
			return fmt.Errorf("failed to adjust %q: %w", key, err)
		}
		next = append(next, adjusted)
	}

	for i, e := range locked {
		e.limiter = next[i]
		e.lastAccessed = e.clock.Now()
	}
	return nil
}

// LastAccessed returns the last time the entry was used or adjusted
func (e *Entry) LastAccessed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccessed
}
