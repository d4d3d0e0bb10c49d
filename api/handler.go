package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/cellrate/control"
	"github.com/yourusername/cellrate/core"
	"github.com/yourusername/cellrate/metrics"
	"github.com/yourusername/cellrate/middleware"
	"github.com/yourusername/cellrate/store"
)

// Handler handles rate limit check and adjust requests
type Handler struct {
	store   store.Store
	applier store.PolicyApplier
	metrics MetricsRecorder
	logger  *zap.Logger
}

// MetricsRecorder defines the interface for recording metrics
type MetricsRecorder interface {
	RecordRequest(clientID string, n uint32, outcome metrics.Outcome)
	RecordAdjust()
}

// NewHandler creates a new API handler.
// applier receives /adjust calls; a nil applier adjusts the store directly.
func NewHandler(s store.Store, applier store.PolicyApplier, metrics MetricsRecorder, logger *zap.Logger) *Handler {
	if applier == nil {
		applier = s
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   s,
		applier: applier,
		metrics: metrics,
		logger:  logger,
	}
}

// CheckRequest represents the incoming rate limit check request
type CheckRequest struct {
	ClientID string  `json:"client_id"`       // Required: unique identifier (user ID, API key, IP)
	Units    *uint32 `json:"units,omitempty"` // Optional: units to take, defaults to 1
}

// CheckResponse represents the rate limit check response
type CheckResponse struct {
	Allowed      bool   `json:"allowed"`
	Remaining    uint32 `json:"remaining"`
	Limit        uint32 `json:"limit"`                    // Maximum burst
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"` // Milliseconds until retry (if denied)
	Error        string `json:"error,omitempty"`          // rate_limit_exceeded or request_too_large
}

// AdjustRequest changes the policy of one client, or the default when ClientID is empty
type AdjustRequest struct {
	ClientID string  `json:"client_id,omitempty"`
	Rate     uint32  `json:"rate"`
	Period   string  `json:"period"` // Go duration, e.g. "1s"
	MaxBurst *uint32 `json:"max_burst,omitempty"`
}

// AdjustResponse echoes the applied policy
type AdjustResponse struct {
	ClientID string `json:"client_id,omitempty"`
	Rate     uint32 `json:"rate"`
	Period   string `json:"period"`
	MaxBurst uint32 `json:"max_burst"`
	Warning  string `json:"warning,omitempty"` // Set when other instances were not told
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CheckRateLimit handles POST /check requests
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST requests are allowed")
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.ClientID == "" {
		h.sendError(w, http.StatusBadRequest, "missing_client_id", "client_id is required")
		return
	}

	units := uint32(1)
	if req.Units != nil {
		units = *req.Units
	}

	entry, err := h.store.Get(req.ClientID)
	if err != nil {
		h.logger.Error("failed to get limiter", zap.String("client_id", req.ClientID), zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "internal_error", "Failed to load limiter")
		return
	}

	remaining, err := entry.Take(units)
	if h.metrics != nil {
		h.metrics.RecordRequest(req.ClientID, units, metrics.Classify(err))
	}

	response := CheckResponse{
		Allowed:   err == nil,
		Remaining: remaining,
		Limit:     entry.MaxBurst(),
	}

	statusCode := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, core.ErrDenied):
		wait, _ := core.DeniedFor(err)
		response.RetryAfterMs = middleware.RetryAfterMillis(wait)
		response.Error = "rate_limit_exceeded"
		statusCode = http.StatusTooManyRequests
	case errors.Is(err, core.ErrRequestTooLarge):
		response.Error = "request_too_large"
		statusCode = http.StatusRequestEntityTooLarge
	default:
		h.logger.Error("limiter request failed", zap.String("client_id", req.ClientID), zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	h.sendJSON(w, statusCode, response)
}

// Adjust handles POST /adjust requests
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST requests are allowed")
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	period, err := time.ParseDuration(req.Period)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_period", "period must be a duration such as \"1s\"")
		return
	}

	policy := core.Policy{Rate: req.Rate, Period: period, MaxBurst: req.MaxBurst}
	var warning string
	if err := h.applier.ApplyPolicy(r.Context(), req.ClientID, policy); err != nil {
		switch {
		case errors.Is(err, control.ErrBroadcastFailed):
			h.logger.Warn("policy applied locally only", zap.String("client_id", req.ClientID), zap.Error(err))
			warning = "applied locally, broadcast to other instances failed"
		case errors.Is(err, core.ErrParametersOutOfRange):
			h.sendError(w, http.StatusBadRequest, "parameters_out_of_range", err.Error())
			return
		default:
			h.logger.Error("failed to apply policy", zap.String("client_id", req.ClientID), zap.Error(err))
			h.sendError(w, http.StatusInternalServerError, "internal_error", "Failed to apply policy")
			return
		}
	}

	if h.metrics != nil {
		h.metrics.RecordAdjust()
	}
	h.logger.Info("policy adjusted",
		zap.String("client_id", req.ClientID),
		zap.Stringer("policy", policy),
	)

	h.sendJSON(w, http.StatusOK, AdjustResponse{
		ClientID: req.ClientID,
		Rate:     policy.Rate,
		Period:   policy.Period.String(),
		MaxBurst: policy.Burst(),
		Warning:  warning,
	})
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
