package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/domain"
)

const (
	defaultPlanListLimit = 20
	maxPlanListLimit     = 500
)

// PlanHandler provides read-only REST endpoints for the plan history.
type PlanHandler struct {
	server *Server
	logger *zap.Logger
}

// NewPlanHandler creates a new plan handler.
func NewPlanHandler(s *Server) *PlanHandler {
	return &PlanHandler{
		server: s,
		logger: s.logger.Named("plan-rest"),
	}
}

// ServeHTTP handles plan requests.
// Routes:
//   - GET /api/v1/plans?limit=N - Recent plans, newest first
//   - GET /api/v1/plans/latest  - Latest plan of the managed cluster
//   - GET /api/v1/plans/{id}    - One plan by ID
func (h *PlanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/plans"), "/")
	switch {
	case id == "":
		h.handleList(w, r)
	case id == "latest":
		h.handleLatest(w, r)
	case strings.Contains(id, "/"):
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown plan resource")
	default:
		h.handleGet(w, r, id)
	}
}

func (h *PlanHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultPlanListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxPlanListLimit)
	}

	plans, err := h.server.planRepo.List(r.Context(), "", limit)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	if plans == nil {
		plans = []*domain.PlanRecord{}
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"plans": plans,
		"count": len(plans),
	})
}

func (h *PlanHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	var (
		rec *domain.PlanRecord
		err error
	)
	if engine := h.server.engine; engine != nil {
		rec, err = engine.LatestPlan(r.Context())
	} else {
		rec, err = h.server.planRepo.Latest(r.Context(), "")
	}
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, rec)
}

func (h *PlanHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.server.planRepo.Get(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, rec)
}

// handleDomainError converts domain errors to HTTP responses.
func (h *PlanHandler) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// writeError writes an error JSON response.
func (h *PlanHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Warn("API error",
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("message", message),
	)
	writeJSON(h.logger, w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

// writeJSON writes a JSON response.
func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
