package pipeline

import (
	"context"
)

// The stage contracts the coordinator composes. Stages convert their own
// failures into the typed values above; an error return is reserved for
// faults the stage could not express in its output.

// Analyzer turns a question into an AnalysisRecord. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) AnalysisRecord
}

type AnalyzeRequest struct {
	Question string
	// Schema is the rendered schema text embedded in the prompt.
	Schema string
	// Tables is the known table set used to canonicalize table names.
	Tables []string
	// DefaultTable is used as primary_table when the model is unreachable.
	DefaultTable string
}

// Generator produces one SQL candidate for an analysis record.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) SQLCandidate
}

type GenerateRequest struct {
	Question string
	Analysis AnalysisRecord
	Dialect  string
	Schema   string
	Tables   []string
	// Feedback is set on a regeneration and carries the reason the previous
	// candidate was rejected.
	Feedback *Feedback
}

// Feedback describes why a previous candidate must be replaced.
type Feedback struct {
	PreviousSQL string
	Reason      string
	ErrorType   ExecutionErrorType
	Suggestions []string
}

// Explainer describes a SQL statement in natural language. It never fails.
type Explainer interface {
	Explain(ctx context.Context, req ExplainRequest) Explanation
}

type ExplainRequest struct {
	Question string
	SQL      string
	Analysis AnalysisRecord
	Schema   string
}

// Recommender ranks chart types for an execution result.
type Recommender interface {
	Recommend(sql string, result *ExecutionResult, analysis AnalysisRecord) (VisualizationRecommendation, error)
}
