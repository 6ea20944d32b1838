package model

import "time"

// RunStatus is the lifecycle state of an evaluation run.
type RunStatus string

// Run statuses. A run stays "running" if the process dies mid-loop; its
// counters still reflect every committed evaluation.
const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunFailed              RunStatus = "failed"
	RunInsufficientCredits RunStatus = "insufficient_credits"
)

// RunStats aggregates the outcome of one scoring loop. TotalCost is the
// committed spend billed to the user; UnbilledCost is evaluator spend whose
// evaluation was rejected or failed to commit.
type RunStats struct {
	CandidatesFound int     `json:"candidates_found"`
	Completed       int     `json:"evaluations_completed"`
	TotalCost       float64 `json:"total_cost"`
	UnbilledCost    float64 `json:"unbilled_cost"`
	AverageScore    float64 `json:"average_score"`
	BudgetExceeded  bool    `json:"budget_exceeded"`
	ErrorCount      int     `json:"error_count"`
}

// Spent returns everything paid to the evaluator during the run.
func (s RunStats) Spent() float64 {
	return s.TotalCost + s.UnbilledCost
}

// Run is the persisted record of one evaluation task execution for a user.
type Run struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Status     RunStatus  `json:"status"`
	Stats      RunStats   `json:"stats"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Task asks the worker pool to run one evaluation pass for a user.
type Task struct {
	ID         string    // unique per enqueue, kept across retries
	UserID     string    // user whose candidates get evaluated
	Attempt    int       // 1-based attempt counter
	EnqueuedAt time.Time // first enqueue time
}
