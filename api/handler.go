// Package api exposes the engine over JSON HTTP, matching the routes and
// field names the tokengate clients expect.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/engine"
)

// Handler serves the limiter API.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a handler around the given engine.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{engine: eng}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/limiter/check", h.Check)
	mux.HandleFunc("POST /api/v1/limiter/penalty", h.Penalty)
	mux.HandleFunc("POST /api/v1/limiter/reward", h.Reward)
	mux.HandleFunc("POST /api/v1/limiter/block", h.Block)
	mux.HandleFunc("POST /api/v1/limiter/unblock", h.Unblock)
	mux.HandleFunc("GET /api/v1/limiter/status/{key}", h.Status)
	mux.HandleFunc("POST /api/v1/limiter/reset/{key}", h.Reset)
	mux.HandleFunc("DELETE /api/v1/limiter/{key}", h.Delete)
	mux.HandleFunc("GET /api/v1/limiters", h.List)
	mux.HandleFunc("GET /api/health", h.HealthCheck)
	mux.HandleFunc("GET /api/metrics", h.Metrics)
}

// CheckRequest represents an incoming admission check
type CheckRequest struct {
	Key        string   `json:"key"`
	Capacity   *int64   `json:"capacity,omitempty"`   // Optional: override stored capacity
	RefillRate *float64 `json:"refillRate,omitempty"` // Optional: override stored refill rate
}

// CheckResponse represents the admission decision
type CheckResponse struct {
	Allowed  bool   `json:"allowed"`
	Tokens   int64  `json:"tokens"`
	Capacity int64  `json:"capacity"`
	Reason   string `json:"reason,omitempty"`
}

// AdjustRequest represents a penalty or reward
type AdjustRequest struct {
	Key    string `json:"key"`
	Points int64  `json:"points"`
}

// AdjustResponse reports the outcome of a penalty or reward
type AdjustResponse struct {
	Key             string `json:"key"`
	PenaltyApplied  bool   `json:"penaltyApplied,omitempty"`
	RewardApplied   bool   `json:"rewardApplied,omitempty"`
	RemainingTokens int64  `json:"remainingTokens"`
}

// BlockRequest represents a block demand
type BlockRequest struct {
	Key      string `json:"key"`
	Duration int64  `json:"duration"` // Milliseconds
}

// BlockResponse reports the applied block
type BlockResponse struct {
	Key          string `json:"key"`
	Blocked      bool   `json:"blocked"`
	BlockedUntil int64  `json:"blockedUntil"` // Unix milliseconds
}

// UnblockRequest names the key to unblock
type UnblockRequest struct {
	Key string `json:"key"`
}

// UnblockResponse confirms the unblock
type UnblockResponse struct {
	Key       string `json:"key"`
	Unblocked bool   `json:"unblocked"`
}

// StatusResponse is a point-in-time limiter view
type StatusResponse struct {
	Key          string  `json:"key"`
	Tokens       int64   `json:"tokens"`
	Capacity     int64   `json:"capacity"`
	RefillRate   float64 `json:"refillRate"`
	IsBlocked    bool    `json:"isBlocked"`
	BlockedUntil int64   `json:"blockedUntil,omitempty"` // Unix milliseconds
}

// ResetResponse confirms a reset
type ResetResponse struct {
	Key   string `json:"key"`
	Reset bool   `json:"reset"`
}

// DeleteResponse reports whether a limiter was removed
type DeleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// ListResponse enumerates every tracked limiter
type ListResponse struct {
	Count    int              `json:"count"`
	Limiters []StatusResponse `json:"limiters"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusResponse(s core.Status) StatusResponse {
	resp := StatusResponse{
		Key:        s.Key,
		Tokens:     s.Tokens,
		Capacity:   s.Capacity,
		RefillRate: s.RefillRate,
		IsBlocked:  s.IsBlocked,
	}
	if s.IsBlocked {
		resp.BlockedUntil = s.BlockedUntil.UnixMilli()
	}
	return resp
}

// Check handles POST /api/v1/limiter/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.Check(req.Key, core.CheckOptions{
		Capacity:   req.Capacity,
		RefillRate: req.RefillRate,
	})
	if err != nil {
		h.sendEngineError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusTooManyRequests
	}
	h.sendJSON(w, status, CheckResponse{
		Allowed:  result.Allowed,
		Tokens:   result.Tokens,
		Capacity: result.Capacity,
		Reason:   result.Reason,
	})
}

// Penalty handles POST /api/v1/limiter/penalty
func (h *Handler) Penalty(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.Penalty(req.Key, req.Points)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, AdjustResponse{
		Key:             result.Key,
		PenaltyApplied:  true,
		RemainingTokens: result.RemainingTokens,
	})
}

// Reward handles POST /api/v1/limiter/reward
func (h *Handler) Reward(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.Reward(req.Key, req.Points)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, AdjustResponse{
		Key:             result.Key,
		RewardApplied:   true,
		RemainingTokens: result.RemainingTokens,
	})
}

// Block handles POST /api/v1/limiter/block
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.Block(req.Key, time.Duration(req.Duration)*time.Millisecond)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, BlockResponse{
		Key:          result.Key,
		Blocked:      true,
		BlockedUntil: result.BlockedUntil.UnixMilli(),
	})
}

// Unblock handles POST /api/v1/limiter/unblock
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req UnblockRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.Unblock(req.Key); err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, UnblockResponse{Key: req.Key, Unblocked: true})
}

// Status handles GET /api/v1/limiter/status/{key}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.PathValue("key"))
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, statusResponse(status))
}

// Reset handles POST /api/v1/limiter/reset/{key}
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.engine.Reset(key); err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, ResetResponse{Key: key, Reset: true})
}

// Delete handles DELETE /api/v1/limiter/{key}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	deleted, err := h.engine.Delete(key)
	if err != nil {
		h.sendEngineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, DeleteResponse{Key: key, Deleted: deleted})
}

// List handles GET /api/v1/limiters
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	statuses := h.engine.List()

	limiters := make([]StatusResponse, 0, len(statuses))
	for _, status := range statuses {
		limiters = append(limiters, statusResponse(status))
	}
	h.sendJSON(w, http.StatusOK, ListResponse{Count: len(limiters), Limiters: limiters})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) sendEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		h.sendError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrInvalidArgument):
		h.sendError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	default:
		h.sendError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}
