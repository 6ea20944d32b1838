// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/dwellhq/dwell/internal/domain/model"
)

// RunDependencies defines the interface for run lookups.
type RunDependencies interface {
	Run(ctx context.Context, runID string) (model.Run, error)
}

// RunsHandler handles run requests.
type RunsHandler struct {
	deps RunDependencies
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(deps RunDependencies) *RunsHandler {
	return &RunsHandler{deps: deps}
}

// HandleGetRun handles GET /runs/{run_id} requests.
func (h *RunsHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_run"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", newKind(op, ErrBadRequest))
		return
	}
	run, err := h.deps.Run(r.Context(), runID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", wrap(op, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}
