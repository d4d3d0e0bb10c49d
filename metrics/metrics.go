package metrics

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/cellrate/core"
)

// Outcome classifies a single admission decision
type Outcome int

const (
	Allowed  Outcome = iota
	Denied           // Temporarily out of capacity
	TooLarge         // Larger than the burst, never admissible
	Failed           // Anything else
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case TooLarge:
		return "too_large"
	default:
		return "failed"
	}
}

// Classify maps a limiter error to an Outcome
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Allowed
	case errors.Is(err, core.ErrDenied):
		return Denied
	case errors.Is(err, core.ErrRequestTooLarge):
		return TooLarge
	default:
		return Failed
	}
}

// DefaultMaxClients bounds how many clients keep per-client stats
const DefaultMaxClients = 10000

// Metrics tracks rate limiting statistics
type Metrics struct {
	totalRequests    atomic.Int64
	allowedRequests  atomic.Int64
	deniedRequests   atomic.Int64
	tooLargeRequests atomic.Int64
	allowedUnits     atomic.Int64
	adjustments      atomic.Int64

	// Per-client stats
	mu          sync.RWMutex
	clientStats map[string]*ClientStats
	maxClients  int
	now         func() time.Time
	startTime   time.Time
}

// ClientStats tracks statistics for a specific client
type ClientStats struct {
	ClientID         string    `json:"client_id"`
	TotalRequests    int64     `json:"total_requests"`
	AllowedRequests  int64     `json:"allowed_requests"`
	DeniedRequests   int64     `json:"denied_requests"`
	TooLargeRequests int64     `json:"too_large_requests"`
	LastRequestAt    time.Time `json:"last_request_at"`
	FirstRequestAt   time.Time `json:"first_request_at"`
}

// NewMetrics creates a new metrics tracker.
// Once DefaultMaxClients clients are tracked, a new client replaces the one
// that has been quiet the longest. The global counters are unaffected.
func NewMetrics() *Metrics {
	return &Metrics{
		clientStats: make(map[string]*ClientStats),
		maxClients:  DefaultMaxClients,
		now:         time.Now,
		startTime:   time.Now(),
	}
}

// RecordRequest records an admission decision for n units
func (m *Metrics) RecordRequest(clientID string, n uint32, outcome Outcome) {
	m.totalRequests.Add(1)

	switch outcome {
	case Allowed:
		m.allowedRequests.Add(1)
		m.allowedUnits.Add(int64(n))
	case Denied:
		m.deniedRequests.Add(1)
	case TooLarge:
		m.tooLargeRequests.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats, exists := m.clientStats[clientID]
	if !exists {
		if len(m.clientStats) >= m.maxClients {
			m.evictQuietest()
		}
		stats = &ClientStats{
			ClientID:       clientID,
			FirstRequestAt: now,
		}
		m.clientStats[clientID] = stats
	}

	stats.TotalRequests++
	switch outcome {
	case Allowed:
		stats.AllowedRequests++
	case Denied:
		stats.DeniedRequests++
	case TooLarge:
		stats.TooLargeRequests++
	}
	stats.LastRequestAt = now
}

// evictQuietest drops the client with the oldest LastRequestAt.
// Caller must hold m.mu.
func (m *Metrics) evictQuietest() {
	var (
		oldestID string
		oldest   time.Time
		found    bool
	)
	for id, stats := range m.clientStats {
		if !found || stats.LastRequestAt.Before(oldest) {
			oldestID, oldest, found = id, stats.LastRequestAt, true
		}
	}
	if found {
		delete(m.clientStats, oldestID)
	}
}

// RecordAdjust records a parameter adjustment
func (m *Metrics) RecordAdjust() {
	m.adjustments.Add(1)
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	topClients := make([]*ClientStats, 0, len(m.clientStats))
	for _, stats := range m.clientStats {
		c := *stats
		topClients = append(topClients, &c)
	}
	uniqueClients := int64(len(m.clientStats))
	m.mu.RUnlock()

	sort.Slice(topClients, func(i, j int) bool {
		if topClients[i].TotalRequests != topClients[j].TotalRequests {
			return topClients[i].TotalRequests > topClients[j].TotalRequests
		}
		return topClients[i].ClientID < topClients[j].ClientID
	})
	if len(topClients) > 10 {
		topClients = topClients[:10]
	}

	return &Snapshot{
		TotalRequests:    m.totalRequests.Load(),
		AllowedRequests:  m.allowedRequests.Load(),
		DeniedRequests:   m.deniedRequests.Load(),
		TooLargeRequests: m.tooLargeRequests.Load(),
		AllowedUnits:     m.allowedUnits.Load(),
		Adjustments:      m.adjustments.Load(),
		UniqueClients:    uniqueClients,
		TopClients:       topClients,
		UptimeSeconds:    int64(time.Since(m.startTime).Seconds()),
		StartTime:        m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalRequests    int64          `json:"total_requests"`
	AllowedRequests  int64          `json:"allowed_requests"`
	DeniedRequests   int64          `json:"denied_requests"`
	TooLargeRequests int64          `json:"too_large_requests"`
	AllowedUnits     int64          `json:"allowed_units"`
	Adjustments      int64          `json:"adjustments"`
	UniqueClients    int64          `json:"unique_clients"`
	TopClients       []*ClientStats `json:"top_clients"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	StartTime        time.Time      `json:"start_time"`
}
