package api

import (
	"encoding/json"
	"net/http"

	"github.com/yourusername/cellrate/metrics"
	"github.com/yourusername/cellrate/store"
)

// MetricsProvider defines the interface for getting metrics
type MetricsProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// MetricsResponse is the body of GET /metrics
type MetricsResponse struct {
	*metrics.Snapshot
	ActiveLimiters int           `json:"active_limiters"`
	DefaultPolicy  AdjustResponse `json:"default_policy"`
}

// MetricsHandler handles GET /metrics requests
type MetricsHandler struct {
	provider MetricsProvider
	store    store.Store
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(provider MetricsProvider, s store.Store) *MetricsHandler {
	return &MetricsHandler{provider: provider, store: s}
}

// ServeHTTP handles the metrics endpoint
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	policy := h.store.Policy()
	resp := MetricsResponse{
		Snapshot:       h.provider.GetSnapshot(),
		ActiveLimiters: h.store.Count(),
		DefaultPolicy: AdjustResponse{
			Rate:     policy.Rate,
			Period:   policy.Period.String(),
			MaxBurst: policy.Burst(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*") // Allow dashboard to fetch
	json.NewEncoder(w).Encode(resp)
}
