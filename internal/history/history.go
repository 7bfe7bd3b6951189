// Package history keeps finished pipeline runs for later inspection.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

var ErrNotFound = errors.New("run not found")

// Store records terminal runs. It satisfies coordinator.Recorder.
type Store interface {
	Record(ctx context.Context, run *pipeline.Run) error
	Get(ctx context.Context, id string) (*pipeline.Run, error)
	// List returns the most recent runs first.
	List(ctx context.Context, limit int) ([]Summary, error)
}

type Summary struct {
	ID                string             `json:"id"`
	Question          string             `json:"question"`
	Dialect           string             `json:"dialect"`
	State             pipeline.State     `json:"state"`
	ErrorKind         pipeline.ErrorKind `json:"error_kind,omitempty"`
	SQL               string             `json:"sql,omitempty"`
	RowCount          int                `json:"row_count"`
	GenerationRetries int                `json:"generation_retries"`
	ExecutionRetries  int                `json:"execution_retries"`
	StartedAt         time.Time          `json:"started_at"`
	DurationMS        int64              `json:"duration_ms"`
}

func Summarize(run *pipeline.Run) Summary {
	s := Summary{
		ID:                run.ID,
		Question:          run.Question,
		Dialect:           run.Dialect,
		State:             run.State,
		SQL:               run.Result().SQL,
		GenerationRetries: run.GenerationRetries,
		ExecutionRetries:  run.ExecutionRetries,
		StartedAt:         run.StartedAt,
		DurationMS:        run.Duration().Milliseconds(),
	}
	if run.Err != nil {
		s.ErrorKind = run.Err.Kind
	}
	if run.Execution != nil {
		s.RowCount = run.Execution.RowCount
	}
	return s
}

// Discard is the store used when history is disabled.
type Discard struct{}

func (Discard) Record(context.Context, *pipeline.Run) error { return nil }

func (Discard) Get(context.Context, string) (*pipeline.Run, error) { return nil, ErrNotFound }

func (Discard) List(context.Context, int) ([]Summary, error) { return nil, nil }
