package pipeline

import (
	"time"
)

// IntentType is the kind of question the analyzer detected.
type IntentType string

const (
	IntentQuery        IntentType = "query"
	IntentStatistics   IntentType = "statistics"
	IntentSort         IntentType = "sort"
	IntentFilter       IntentType = "filter"
	IntentJoin         IntentType = "join"
	IntentTimeAnalysis IntentType = "time_analysis"
	IntentUnknown      IntentType = "unknown"
)

// IntentTypes lists every intent type an AnalysisRecord may carry.
var IntentTypes = []IntentType{
	IntentQuery,
	IntentStatistics,
	IntentSort,
	IntentFilter,
	IntentJoin,
	IntentTimeAnalysis,
	IntentUnknown,
}

// ParseIntentType maps free-form model output onto the known set, returning
// IntentUnknown when nothing matches.
func ParseIntentType(s string) IntentType {
	for _, t := range IntentTypes {
		if string(t) == s {
			return t
		}
	}
	return IntentUnknown
}

// Complexity is the analyzer's estimate of how hard the question is.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

func ParseComplexity(s string) Complexity {
	switch Complexity(s) {
	case ComplexityMedium, ComplexityComplex:
		return Complexity(s)
	default:
		return ComplexitySimple
	}
}

type Intent struct {
	Type        IntentType `json:"type"`
	Description string     `json:"description"`
	Complexity  Complexity `json:"complexity"`
}

type Entities struct {
	Primary    string   `json:"primary"`
	Secondary  []string `json:"secondary"`
	Attributes []string `json:"attributes"`
	Conditions []string `json:"conditions"`
}

type TableMapping struct {
	PrimaryTable   string   `json:"primary_table"`
	RelatedTables  []string `json:"related_tables"`
	JoinConditions []string `json:"join_conditions"`
	RequiredFields []string `json:"required_fields"`
}

type QueryStructure struct {
	SelectFields     []string `json:"select_fields"`
	WhereConditions  []string `json:"where_conditions"`
	JoinRequirements []string `json:"join_requirements"`
	GroupByFields    []string `json:"group_by_fields"`
	OrderByFields    []string `json:"order_by_fields"`
	Limit            *int     `json:"limit,omitempty"`
}

// AnalysisRecord is the structured reading of one user question. It is
// produced once per run and never modified afterwards.
type AnalysisRecord struct {
	Intent          Intent         `json:"intent"`
	Entities        Entities       `json:"entities"`
	TableMapping    TableMapping   `json:"table_mapping"`
	QueryStructure  QueryStructure `json:"query_structure"`
	Confidence      float64        `json:"confidence"`
	PotentialIssues []string       `json:"potential_issues"`

	// Structured is false when the model response could not be parsed and
	// the record was degraded.
	Structured bool `json:"structured_analysis"`
	// Fallback is true when the model could not be reached at all.
	Fallback bool `json:"fallback,omitempty"`
	// RawResponse keeps the unparsed model text for diagnostics.
	RawResponse string `json:"raw_response,omitempty"`
}

// Validation holds the generator's local syntax and semantic checks.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// SQLCandidate is the single statement produced by the generator for a run.
type SQLCandidate struct {
	Statement         string     `json:"statement"`
	Validation        Validation `json:"validation"`
	OptimizationNotes []string   `json:"optimization_notes"`
	Repaired          bool       `json:"repaired,omitempty"`
	Fallback          bool       `json:"fallback,omitempty"`
}

// RiskLevel grades a security verdict.
type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskUnknown RiskLevel = "UNKNOWN"
)

// SecurityVerdict is the pass/fail judgment for one SQL string.
type SecurityVerdict struct {
	Safe             bool      `json:"safe"`
	Reason           string    `json:"reason"`
	RiskLevel        RiskLevel `json:"risk_level"`
	AutoLimitApplied bool      `json:"auto_limit_applied"`
	Complexity       int       `json:"complexity_score"`
}

// ExecutionErrorType classifies a failed execution.
type ExecutionErrorType string

const (
	ExecSyntaxError     ExecutionErrorType = "SYNTAX_ERROR"
	ExecTableNotFound   ExecutionErrorType = "TABLE_NOT_FOUND"
	ExecColumnNotFound  ExecutionErrorType = "COLUMN_NOT_FOUND"
	ExecTimeoutError    ExecutionErrorType = "TIMEOUT_ERROR"
	ExecPermissionError ExecutionErrorType = "PERMISSION_ERROR"
	ExecConnectionError ExecutionErrorType = "CONNECTION_ERROR"
	ExecExecutionError  ExecutionErrorType = "EXECUTION_ERROR"
	ExecUnknown         ExecutionErrorType = "UNKNOWN"
)

// Regenerable reports whether feeding this error back to the generator can
// plausibly fix it.
func (t ExecutionErrorType) Regenerable() bool {
	switch t {
	case ExecConnectionError, ExecPermissionError:
		return false
	default:
		return true
	}
}

type ExecutionError struct {
	Type        ExecutionErrorType `json:"type"`
	Message     string             `json:"message"`
	Suggestions []string           `json:"suggestions"`
}

// Record is one result row keyed by column name. Every column is present;
// SQL NULL is stored as a nil value.
type Record map[string]any

// ExecutionResult is owned by the executor and read-only once returned.
type ExecutionResult struct {
	Success       bool              `json:"success"`
	ExecutionID   string            `json:"execution_id"`
	SQL           string            `json:"sql"`
	Data          []Record          `json:"data"`
	Columns       []string          `json:"columns"`
	ColumnTypes   map[string]string `json:"column_types"`
	RowCount      int               `json:"row_count"`
	Truncated     bool              `json:"truncated,omitempty"`
	ExecutionTime float64           `json:"execution_time_s"`
	Error         *ExecutionError   `json:"error,omitempty"`
}

// Explanation is the natural-language description of the SQL.
type Explanation struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback,omitempty"`
}

// ChartType is a renderable chart kind.
type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartScatter ChartType = "scatter"
	ChartTable   ChartType = "table"
	ChartHeatmap ChartType = "heatmap"
	ChartArea    ChartType = "area"
)

type ChartConfig struct {
	Type     ChartType      `json:"type"`
	Config   map[string]any `json:"config"`
	FitScore float64        `json:"fit_score"`
}

type VisualizationRecommendation struct {
	Primary      ChartConfig   `json:"primary"`
	Alternatives []ChartConfig `json:"alternatives"`
	DataInsights []string      `json:"data_insights"`
	Reasoning    string        `json:"reasoning"`
}

// Result is the terminal aggregate handed to the caller.
type Result struct {
	SQL           string                       `json:"sql"`
	Explanation   string                       `json:"explanation"`
	Execution     *ExecutionResult             `json:"execution,omitempty"`
	Visualization *VisualizationRecommendation `json:"visualization,omitempty"`
	Analysis      *AnalysisRecord              `json:"analysis,omitempty"`
}

// Transition is one entry in a run's state history.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}
