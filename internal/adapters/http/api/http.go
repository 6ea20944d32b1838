// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dwellhq/dwell/internal/adapters/repository"
	"github.com/dwellhq/dwell/internal/domain/model"
)

// DefaultMaxLimit caps ?limit on recommendation reads.
const DefaultMaxLimit = 100

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EvaluationDependencies
	UserDependencies
	RunDependencies

	// Ready reports whether the backing store answers.
	Ready(ctx context.Context) error
}

// Server wires HTTP routes for the operational API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	evaluationsHandler *EvaluationsHandler
	usersHandler       *UsersHandler
	runsHandler        *RunsHandler
}

// NewServer creates a new API server with all handlers. A non-positive
// maxLimit falls back to DefaultMaxLimit.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(statsProvider),
		evaluationsHandler: NewEvaluationsHandler(deps),
		usersHandler:       NewUsersHandler(deps, maxLimit),
		runsHandler:        NewRunsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/readyz", MetricsMiddleware(s.healthHandler.HandleReady, "readyz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/schedule", MetricsMiddleware(s.evaluationsHandler.HandleSchedule, "schedule"))
	mux.HandleFunc("/evaluations/", MetricsMiddleware(s.evaluationsHandler.HandlePostEvaluation, "evaluations"))
	mux.HandleFunc("/users/", MetricsMiddleware(s.usersHandler.HandleUser, "users"))
	mux.HandleFunc("/runs/", MetricsMiddleware(s.runsHandler.HandleGetRun, "runs"))
}

type enqueueResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	Duplicate bool   `json:"duplicate"`
}

type recommendationsResponse struct {
	UserID          string                 `json:"user_id"`
	Recommendations []model.Recommendation `json:"recommendations"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// isNotFound translates store not-found errors to 404.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
