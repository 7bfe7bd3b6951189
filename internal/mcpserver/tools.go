package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ruochenliao/text2sql/pkg/metrics"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/security"
)

const (
	toolAsk      = "ask_question"
	toolValidate = "validate_sql"
	toolSchema   = "describe_schema"
)

type AskInput struct {
	Question string `json:"question" jsonschema:"the question about the database, in natural language"`
}

// AskOutput flattens a finished run. A run that ends FAILED or CANCELLED is
// still a successful tool call; Error and ErrorKind describe what went wrong.
type AskOutput struct {
	RunID         string            `json:"run_id"`
	State         string            `json:"state"`
	SQL           string            `json:"sql,omitempty"`
	Explanation   string            `json:"explanation,omitempty"`
	Columns       []string          `json:"columns,omitempty"`
	Rows          []pipeline.Record `json:"rows,omitempty"`
	RowCount      int               `json:"row_count"`
	Truncated     bool              `json:"truncated,omitempty"`
	Chart         string            `json:"chart,omitempty"`
	Visualization any               `json:"visualization,omitempty"`
	Error         string            `json:"error,omitempty"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	Suggestions   []string          `json:"suggestions,omitempty"`
}

type ValidateInput struct {
	SQL string `json:"sql" jsonschema:"the SQL statement to check"`
}

type ValidateOutput struct {
	Safe             bool                      `json:"safe"`
	RiskLevel        string                    `json:"risk_level"`
	Reason           string                    `json:"reason"`
	AutoLimitApplied bool                      `json:"auto_limit_applied"`
	Complexity       security.ComplexityReport `json:"complexity"`
	MaxComplexity    int                       `json:"max_complexity"`
}

type DescribeSchemaInput struct{}

type DescribeSchemaOutput struct {
	Dialect string        `json:"dialect"`
	Text    string        `json:"text"`
	Tables  []TableOutput `json:"tables,omitempty"`
}

type TableOutput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []string `json:"columns,omitempty"`
}

// observe records the outcome of one tool call.
func observe(tool string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	metrics.ToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

func (s *Server) registerAskTool() error {
	req, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}
	res, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: toolAsk,
		Description: `
			Answer a question about the connected database. The question is analyzed,
			turned into a single read-only SELECT statement, checked by a security
			validator, executed with a row limit, explained in plain language and
			paired with a chart recommendation.
			Returns the SQL, the result rows, the explanation and the recommended chart.
		`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
		start := time.Now()
		s.cfg.Logger.Debug("mcp/tool: handling ask", "question", in.Question)
		out, err := s.handleAsk(ctx, in)
		observe(toolAsk, start, err)
		if err != nil {
			return nil, AskOutput{}, err
		}
		return nil, out, nil
	})
	return nil
}

func (s *Server) handleAsk(ctx context.Context, in AskInput) (AskOutput, error) {
	if strings.TrimSpace(in.Question) == "" {
		return AskOutput{}, fmt.Errorf("question is required")
	}
	run, err := s.cfg.Runner.Run(ctx, in.Question, pipeline.DiscardSink)
	if err != nil {
		return AskOutput{}, fmt.Errorf("failed to run question: %w", err)
	}

	res := run.Result()
	out := AskOutput{
		RunID:       run.ID,
		State:       string(run.State),
		SQL:         res.SQL,
		Explanation: res.Explanation,
	}
	if ex := res.Execution; ex != nil && ex.Success {
		out.Columns = ex.Columns
		out.Rows = ex.Data
		out.RowCount = ex.RowCount
		out.Truncated = ex.Truncated
	}
	if v := res.Visualization; v != nil {
		out.Chart = string(v.Primary.Type)
		out.Visualization = v
	}
	if run.Err != nil {
		out.Error = run.Err.Message
		out.ErrorKind = string(run.Err.Kind)
		out.Suggestions = run.Err.Suggestions
	}
	return out, nil
}

func (s *Server) registerValidateTool() error {
	req, err := jsonschema.For[ValidateInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create validate input schema: %w", err)
	}
	res, err := jsonschema.For[ValidateOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create validate output schema: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: toolValidate,
		Description: `
			Check a SQL statement against the security rules without running it.
			Only single SELECT or WITH statements pass. Reports the risk level, the
			reason and the complexity score breakdown.
		`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(_ context.Context, _ *mcp.CallToolRequest, in ValidateInput) (*mcp.CallToolResult, ValidateOutput, error) {
		start := time.Now()
		verdict, _ := s.cfg.Validator.Validate(in.SQL)
		out := ValidateOutput{
			Safe:             verdict.Safe,
			RiskLevel:        string(verdict.RiskLevel),
			Reason:           verdict.Reason,
			AutoLimitApplied: verdict.AutoLimitApplied,
			Complexity:       security.Complexity(in.SQL),
			MaxComplexity:    s.cfg.Validator.MaxComplexity(),
		}
		observe(toolValidate, start, nil)
		return nil, out, nil
	})
	return nil
}

func (s *Server) registerSchemaTool() error {
	req, err := jsonschema.For[DescribeSchemaInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema input schema: %w", err)
	}
	res, err := jsonschema.For[DescribeSchemaOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema output schema: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:         toolSchema,
		Description:  "Describe the tables, columns and relations of the connected database.",
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ DescribeSchemaInput) (*mcp.CallToolResult, DescribeSchemaOutput, error) {
		start := time.Now()
		sc, err := s.cfg.Schema.Schema(ctx)
		observe(toolSchema, start, err)
		if err != nil {
			return nil, DescribeSchemaOutput{}, fmt.Errorf("failed to load schema: %w", err)
		}
		out := DescribeSchemaOutput{Dialect: string(sc.Dialect), Text: sc.Text()}
		for _, t := range sc.Tables {
			tbl := TableOutput{Name: t.Name, Description: t.Description}
			for _, c := range t.Columns {
				tbl.Columns = append(tbl.Columns, strings.TrimSpace(c.Name+" "+c.Type))
			}
			out.Tables = append(out.Tables, tbl)
		}
		return nil, out, nil
	})
	return nil
}
