package pipeline

import (
	"time"
)

// Run is the aggregate for one user question, from receipt to terminal state.
type Run struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Dialect   string    `json:"dialect"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Analysis      *AnalysisRecord              `json:"analysis,omitempty"`
	Candidate     *SQLCandidate                `json:"candidate,omitempty"`
	Verdict       *SecurityVerdict             `json:"verdict,omitempty"`
	Execution     *ExecutionResult             `json:"execution,omitempty"`
	Explanation   *Explanation                 `json:"explanation,omitempty"`
	Visualization *VisualizationRecommendation `json:"visualization,omitempty"`

	GenerationRetries int `json:"generation_retries"`
	ExecutionRetries  int `json:"execution_retries"`

	Err     *StageError  `json:"error,omitempty"`
	History []Transition `json:"history"`
}

// Duration is the wall time the run took, or zero while it is still live.
func (r *Run) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Result assembles the caller-facing aggregate from whatever the run holds.
func (r *Run) Result() Result {
	res := Result{
		Analysis:      r.Analysis,
		Execution:     r.Execution,
		Visualization: r.Visualization,
	}
	if r.Candidate != nil {
		res.SQL = r.Candidate.Statement
	}
	if r.Execution != nil && r.Execution.SQL != "" {
		res.SQL = r.Execution.SQL
	}
	if r.Explanation != nil {
		res.Explanation = r.Explanation.Text
	}
	return res
}
