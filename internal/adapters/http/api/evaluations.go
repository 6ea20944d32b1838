// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dwellhq/dwell/internal/adapters/mq/queue"
	service "github.com/dwellhq/dwell/internal/app"
	"github.com/dwellhq/dwell/internal/domain/types"
)

// EvaluationDependencies defines the task-side operations.
type EvaluationDependencies interface {
	Enqueue(ctx context.Context, userID string) (bool, error)
	ScheduleEligibleUsers(ctx context.Context) (types.ScheduleResult, error)
}

// EvaluationsHandler queues evaluation tasks.
type EvaluationsHandler struct {
	deps EvaluationDependencies
}

// NewEvaluationsHandler creates a new evaluations handler.
func NewEvaluationsHandler(deps EvaluationDependencies) *EvaluationsHandler {
	return &EvaluationsHandler{deps: deps}
}

// HandlePostEvaluation handles POST /evaluations/{user_id}.
func (h *EvaluationsHandler) HandlePostEvaluation(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_evaluation"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/evaluations/")
	if strings.TrimSpace(userID) == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", newKind(op, ErrBadRequest))
		return
	}

	queued, err := h.deps.Enqueue(r.Context(), userID)
	if err != nil {
		writeEnqueueError(w, op, err)
		return
	}
	if !queued {
		writeJSON(w, http.StatusOK, enqueueResponse{Status: "duplicate", UserID: userID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Status: "accepted", UserID: userID})
}

// HandleSchedule handles POST /schedule, running one scheduling pass.
func (h *EvaluationsHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	const op = "api.schedule"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	res, err := h.deps.ScheduleEligibleUsers(r.Context())
	if err != nil {
		writeEnqueueError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeEnqueueError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, err))
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", wrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
	}
}
