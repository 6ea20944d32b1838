// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/dwellhq/dwell/internal/domain/model"
)

const defaultRecommendationLimit = 10

// UserDependencies defines the per-user read operations.
type UserDependencies interface {
	Recommendations(ctx context.Context, userID string, limit int) ([]model.Recommendation, error)
	EvaluationStatus(ctx context.Context, userID string) (model.EvaluationStatus, error)
}

// UsersHandler serves per-user matching reads.
type UsersHandler struct {
	deps     UserDependencies
	maxLimit int
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps UserDependencies, maxLimit int) *UsersHandler {
	return &UsersHandler{deps: deps, maxLimit: maxLimit}
}

// HandleUser routes GET /users/{user_id}/recommendations?limit=N and
// GET /users/{user_id}/evaluation-status.
func (h *UsersHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, resource, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/users/"), "/")
	if !ok || userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", newKind(op, ErrBadRequest))
		return
	}
	switch resource {
	case "recommendations":
		h.recommendations(w, r, userID)
	case "evaluation-status":
		h.status(w, r, userID)
	default:
		http.NotFound(w, r)
	}
}

func (h *UsersHandler) recommendations(w http.ResponseWriter, r *http.Request, userID string) {
	const op = "api.get_recommendations"
	n := min(defaultRecommendationLimit, h.maxLimit)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", newKind(op, ErrBadRequest))
			return
		}
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", newKind(op, ErrBadRequest))
		return
	}
	recs, err := h.deps.Recommendations(r.Context(), userID, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
		return
	}
	if recs == nil {
		recs = []model.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{UserID: userID, Recommendations: recs})
}

func (h *UsersHandler) status(w http.ResponseWriter, r *http.Request, userID string) {
	st, err := h.deps.EvaluationStatus(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", wrap("api.get_evaluation_status", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
