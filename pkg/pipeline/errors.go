package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind is the top-level error taxonomy surfaced to callers.
type ErrorKind string

const (
	KindAnalysis       ErrorKind = "ANALYSIS_ERROR"
	KindGeneration     ErrorKind = "GENERATION_ERROR"
	KindSecurity       ErrorKind = "SECURITY_ERROR"
	KindExecution      ErrorKind = "EXECUTION_ERROR"
	KindRecommendation ErrorKind = "RECOMMENDATION_ERROR"
	KindRunTimeout     ErrorKind = "RUN_TIMEOUT"
	KindInternal       ErrorKind = "INTERNAL_ERROR"
	// KindCancelled marks a run stopped by its caller. It accompanies the
	// CANCELLED state and is never reported as a failure.
	KindCancelled ErrorKind = "CANCELLED"
)

var (
	ErrEmptyQuestion = errors.New("question is required")
	ErrNilSink       = errors.New("sink is required")
)

// StageError is the typed failure a stage reports to the coordinator.
type StageError struct {
	Kind        ErrorKind          `json:"kind"`
	Stage       string             `json:"stage"`
	Message     string             `json:"message"`
	ExecType    ExecutionErrorType `json:"exec_type,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Err         error              `json:"-"`
}

func (e *StageError) Error() string {
	if e.ExecType != "" {
		return fmt.Sprintf("%s (%s) in %s: %s", e.Kind, e.ExecType, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError wrapping err.
func NewStageError(kind ErrorKind, stage string, err error) *StageError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &StageError{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// AsStageError unwraps err into a StageError when it carries one.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
