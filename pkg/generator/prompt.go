package generator

import (
	"fmt"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

// renderAnalysis writes the analysis record as the user turn of the
// generation conversation. Empty sections are omitted.
func renderAnalysis(question string, a pipeline.AnalysisRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", strings.TrimSpace(question))

	intent := string(a.Intent.Type)
	if a.Intent.Complexity != "" {
		intent += " (" + string(a.Intent.Complexity) + ")"
	}
	if a.Intent.Description != "" {
		intent += ": " + a.Intent.Description
	}
	fmt.Fprintf(&sb, "Intent: %s\n", intent)

	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&sb, "%s: %s\n", label, value)
		}
	}
	list := func(label string, values []string) {
		line(label, strings.Join(values, "; "))
	}

	line("Primary entity", a.Entities.Primary)
	list("Attributes", a.Entities.Attributes)
	list("Conditions", a.Entities.Conditions)
	line("Primary table", a.TableMapping.PrimaryTable)
	list("Related tables", a.TableMapping.RelatedTables)
	list("Join conditions", a.TableMapping.JoinConditions)
	list("Required fields", a.TableMapping.RequiredFields)
	list("Select fields", a.QueryStructure.SelectFields)
	list("Where conditions", a.QueryStructure.WhereConditions)
	list("Join requirements", a.QueryStructure.JoinRequirements)
	list("Group by", a.QueryStructure.GroupByFields)
	list("Order by", a.QueryStructure.OrderByFields)
	if a.QueryStructure.Limit != nil {
		fmt.Fprintf(&sb, "Limit: %d\n", *a.QueryStructure.Limit)
	}
	list("Potential issues", a.PotentialIssues)
	if !a.Structured && a.RawResponse != "" {
		fmt.Fprintf(&sb, "Unstructured analysis:\n%s\n", a.RawResponse)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderFeedback(fb *pipeline.Feedback) string {
	var sb strings.Builder
	sb.WriteString("The previous statement was rejected")
	if fb.ErrorType != "" {
		fmt.Fprintf(&sb, " with %s", fb.ErrorType)
	}
	fmt.Fprintf(&sb, ": %s\n", fb.Reason)
	if len(fb.Suggestions) > 0 {
		sb.WriteString("Suggestions:\n")
		for _, s := range fb.Suggestions {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	sb.WriteString("Write a corrected statement that follows the rules.")
	return sb.String()
}
