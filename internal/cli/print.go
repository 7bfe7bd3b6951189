package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/security"
)

const maxEventSummary = 120

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	return table
}

// printRun writes a human readable report of a finished run.
func printRun(w io.Writer, run *pipeline.Run) {
	res := run.Result()
	fmt.Fprintf(w, "Run:      %s (%s)\n", run.ID, run.State)
	if res.SQL != "" {
		fmt.Fprintf(w, "SQL:      %s\n", res.SQL)
	}
	if run.GenerationRetries > 0 || run.ExecutionRetries > 0 {
		fmt.Fprintf(w, "Retries:  generation %d, execution %d\n", run.GenerationRetries, run.ExecutionRetries)
	}
	if run.Err != nil {
		fmt.Fprintf(w, "Error:    %s: %s\n", run.Err.Kind, run.Err.Message)
		for _, s := range run.Err.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}

	if ex := res.Execution; ex != nil && ex.Success {
		fmt.Fprintln(w)
		printRows(w, ex)
	}
	if res.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", res.Explanation)
	}
	if v := res.Visualization; v != nil {
		fmt.Fprintf(w, "\nChart:    %s (fit %.2f)\n", v.Primary.Type, v.Primary.FitScore)
		for _, insight := range v.DataInsights {
			fmt.Fprintf(w, "  * %s\n", insight)
		}
	}
}

func printRows(w io.Writer, ex *pipeline.ExecutionResult) {
	table := newTable(w)
	table.SetHeader(ex.Columns)
	for _, rec := range ex.Data {
		row := make([]string, len(ex.Columns))
		for i, col := range ex.Columns {
			row[i] = formatValue(rec[col])
		}
		table.Append(row)
	}
	table.Render()

	suffix := ""
	if ex.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(w, "%d row(s) in %.3fs%s\n", ex.RowCount, ex.ExecutionTime, suffix)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func printVerdict(w io.Writer, verdict pipeline.SecurityVerdict, report security.ComplexityReport, maxComplexity int) {
	table := newTable(w)
	table.SetHeader([]string{"Check", "Result"})
	table.Append([]string{"Safe", strconv.FormatBool(verdict.Safe)})
	table.Append([]string{"Risk", string(verdict.RiskLevel)})
	table.Append([]string{"Reason", verdict.Reason})
	table.Append([]string{"Auto limit", strconv.FormatBool(verdict.AutoLimitApplied)})
	table.Render()

	table = newTable(w)
	table.SetHeader([]string{"Component", "Count", "Points"})
	table.Append([]string{"Base", "-", "1"})
	table.Append([]string{"Joins", strconv.Itoa(report.Joins), strconv.Itoa(2 * report.Joins)})
	table.Append([]string{"Subqueries", strconv.Itoa(report.Subqueries), strconv.Itoa(3 * report.Subqueries)})
	table.Append([]string{"Window functions", strconv.Itoa(report.WindowFunctions), strconv.Itoa(3 * report.WindowFunctions)})
	table.Append([]string{"GROUP BY", yesNo(report.GroupBy), points(report.GroupBy, 2)})
	table.Append([]string{"ORDER BY", yesNo(report.OrderBy), points(report.OrderBy, 1)})
	table.Append([]string{"UNION", yesNo(report.Union), points(report.Union, 2)})
	table.SetFooter([]string{"Score", fmt.Sprintf("max %d", maxComplexity), strconv.Itoa(report.Score)})
	table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func points(b bool, n int) string {
	if b {
		return strconv.Itoa(n)
	}
	return "0"
}

// eventPrinter writes one line per pipeline event.
func eventPrinter(w io.Writer) pipeline.Sink {
	return pipeline.SinkFunc(func(_ context.Context, ev pipeline.Event) {
		marker := " "
		if ev.Error {
			marker = "!"
		}
		fmt.Fprintf(w, "%s %3d %-14s %-12s %s\n", marker, ev.Seq, ev.Source, ev.State, summarize(ev.Content))
	})
}

func summarize(content any) string {
	var s string
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		s = c
	default:
		data, err := json.Marshal(c)
		if err != nil {
			s = fmt.Sprint(c)
		} else {
			s = string(data)
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxEventSummary {
		s = s[:maxEventSummary-3] + "..."
	}
	return s
}
