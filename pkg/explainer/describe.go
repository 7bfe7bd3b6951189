package explainer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/sqltext"
)

const maxClauseLen = 160

var clauseRes = map[string]*regexp.Regexp{
	"select": regexp.MustCompile(`(?i)\bselect\s+(distinct\s+)?`),
	"from":   regexp.MustCompile(`(?i)\bfrom\b`),
	"where":  regexp.MustCompile(`(?i)\bwhere\b`),
	"group":  regexp.MustCompile(`(?i)\bgroup\s+by\b`),
	"having": regexp.MustCompile(`(?i)\bhaving\b`),
	"order":  regexp.MustCompile(`(?i)\border\s+by\b`),
	"limit":  regexp.MustCompile(`(?i)\blimit\b`),
}

var joinWordRe = regexp.MustCompile(`(?i)\bjoin\b`)

// Describe builds a deterministic explanation from the statement's clauses
// and the analysis record. It is used when the model cannot be reached.
func Describe(question, sql string, analysis pipeline.AnalysisRecord) string {
	stmt := sqltext.Normalize(sql)
	clauses := splitClauses(stmt)

	var sentences []string
	if q := strings.TrimSpace(question); q != "" {
		sentences = append(sentences, fmt.Sprintf("This query answers %q.", q))
	} else if d := analysis.Intent.Description; d != "" {
		sentences = append(sentences, fmt.Sprintf("This query is meant to %s.", strings.TrimSuffix(lowerFirst(d), ".")))
	}

	if tables := sqltext.ReferencedTables(stmt); len(tables) > 0 {
		s := "It reads from the " + joinWords(tables) + " table"
		if len(tables) > 1 {
			s += "s"
		}
		if n := len(joinWordRe.FindAllStringIndex(sqltext.MaskLiterals(stmt), -1)); n > 0 {
			s += fmt.Sprintf(", combining rows with %d join%s", n, plural(n))
		}
		sentences = append(sentences, s+".")
	}

	switch cols := clauses["select"]; {
	case cols == "*":
		sentences = append(sentences, "It returns every column.")
	case cols != "":
		sentences = append(sentences, "It returns "+clip(cols)+".")
	}
	if w := clauses["where"]; w != "" {
		sentences = append(sentences, "Only rows where "+clip(w)+" are kept.")
	}
	if g := clauses["group"]; g != "" {
		sentences = append(sentences, "Rows are grouped by "+clip(g)+".")
	}
	if h := clauses["having"]; h != "" {
		sentences = append(sentences, "Groups are kept only when "+clip(h)+".")
	}
	if o := clauses["order"]; o != "" {
		sentences = append(sentences, "The result is sorted by "+clip(o)+".")
	}
	if n, _, _, ok := sqltext.TrailingLimit(stmt); ok {
		verb := "are"
		if n == 1 {
			verb = "is"
		}
		sentences = append(sentences, fmt.Sprintf("At most %d row%s %s returned.", n, plural(n), verb))
	}
	if len(sentences) == 0 {
		return "No explanation is available for this query."
	}
	return strings.Join(sentences, " ")
}

// splitClauses returns the body of the first occurrence of each clause
// keyword. Keywords inside literals are ignored.
func splitClauses(stmt string) map[string]string {
	masked := sqltext.MaskLiterals(stmt)

	type mark struct {
		name       string
		start, end int
	}
	var marks []mark
	for name, re := range clauseRes {
		if loc := re.FindStringIndex(masked); loc != nil {
			marks = append(marks, mark{name, loc[0], loc[1]})
		}
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].start < marks[j].start })

	out := make(map[string]string, len(marks))
	for i, m := range marks {
		end := len(stmt)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		if m.end <= end {
			out[m.name] = strings.TrimSpace(stmt[m.end:end])
		}
	}
	return out
}

func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	default:
		return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
	}
}

func clip(s string) string {
	if len(s) <= maxClauseLen {
		return s
	}
	return s[:maxClauseLen] + "..."
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
