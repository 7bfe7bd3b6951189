package generator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/security"
	"github.com/ruochenliao/text2sql/pkg/sqltext"
)

var (
	selectStarRe    = regexp.MustCompile(`(?i)\bselect\s+(distinct\s+)?\*`)
	leadingLikeRe   = regexp.MustCompile(`(?i)\blike\s+'%`)
	joinRe          = regexp.MustCompile(`(?i)\bjoin\b`)
	crossJoinRe     = regexp.MustCompile(`(?i)\b(cross|natural)\s+join\b`)
	joinConditionRe = regexp.MustCompile(`(?i)\b(on|using)\b`)
	orderByRe       = regexp.MustCompile(`(?i)\border\s+by\b`)
	clauseBreakRe   = regexp.MustCompile(`(?i)\s+\b(from|where|(?:(?:inner|left|right|full|cross)\s+(?:outer\s+)?)?join|group\s+by|having|order\s+by|limit|union(?:\s+all)?)\b`)
)

// Check runs the local syntax and semantic checks on a statement. tables,
// when non-empty, is the set of tables the statement may read.
func Check(sql string, tables []string) pipeline.Validation {
	v := pipeline.Validation{Valid: true, Errors: []string{}, Warnings: []string{}}
	fail := func(format string, args ...any) {
		v.Valid = false
		v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
	}

	body := strings.TrimSpace(sqltext.StripComments(sql))
	if body == "" {
		fail("statement is empty")
		return v
	}
	masked := sqltext.MaskLiterals(body)

	if !sqltext.ContainsKeyword(masked, "SELECT") {
		fail("missing SELECT keyword")
	}
	if !sqltext.ContainsKeyword(masked, "FROM") {
		fail("missing FROM clause")
	}
	parens, quotes := sqltext.Balanced(body)
	if !parens {
		fail("unbalanced parentheses")
	}
	if !quotes {
		fail("unbalanced quotes")
	}
	if !strings.HasSuffix(body, ";") {
		fail("statement is not terminated with a semicolon")
	}
	if n := sqltext.CountStatements(body); n > 1 {
		fail("expected exactly one statement, found %d", n)
	}
	for _, kw := range security.DangerousKeywords {
		if sqltext.ContainsKeyword(masked, kw) {
			fail("statement modifies data or schema: %s", kw)
		}
	}
	if len(tables) > 0 {
		for _, name := range sqltext.ReferencedTables(body) {
			if _, ok := knownTable(name, tables); !ok {
				fail("unknown table %s", name)
			}
		}
	}

	if selectStarRe.MatchString(masked) {
		v.Warnings = append(v.Warnings, "SELECT * returns every column; list the columns the question needs")
	}
	if leadingLikeRe.MatchString(body) {
		v.Warnings = append(v.Warnings, "LIKE pattern with a leading wildcard cannot use an index")
	}
	joins := len(joinRe.FindAllStringIndex(masked, -1)) - len(crossJoinRe.FindAllStringIndex(masked, -1))
	if joins > 0 && len(joinConditionRe.FindAllStringIndex(masked, -1)) < joins {
		v.Warnings = append(v.Warnings, "a JOIN without ON or USING produces a cartesian product")
	}
	return v
}

// Repair applies the deterministic fixes: comments and stray terminators are
// normalized away, exactly one semicolon is appended and unknown table names
// are replaced by their closest known spelling. It returns the repaired
// statement and notes describing each change.
func Repair(sql string, tables []string) (string, []string) {
	notes := []string{}
	out := sqltext.Normalize(sql)
	if !strings.HasSuffix(strings.TrimSpace(sqltext.StripComments(sql)), ";") {
		notes = append(notes, "appended missing semicolon")
	}

	if len(tables) > 0 {
		for _, name := range sqltext.ReferencedTables(out) {
			if _, ok := knownTable(name, tables); ok {
				continue
			}
			fix, ok := closestTable(name, tables)
			if !ok {
				continue
			}
			out = replaceIdent(out, name, fix)
			notes = append(notes, fmt.Sprintf("replaced unknown table %s with %s", name, fix))
		}
	}
	out = sqltext.Terminate(out)

	if d := unifiedDiff(sql, out); d != "" {
		notes = append(notes, d)
	}
	return out, notes
}

// knownTable matches name against tables exactly.
func knownTable(name string, tables []string) (string, bool) {
	for _, t := range tables {
		if t == name {
			return t, true
		}
	}
	return "", false
}

// closestTable finds the schema spelling of a misspelled table: a case-only
// difference, a plural or singular form, or the nearest name within a small
// edit distance. Ambiguous matches are not repaired.
func closestTable(name string, tables []string) (string, bool) {
	lower := strings.ToLower(name)
	for _, t := range tables {
		if strings.ToLower(t) == lower {
			return t, true
		}
	}
	for _, t := range tables {
		lt := strings.ToLower(t)
		if lt+"s" == lower || lt+"es" == lower || lower+"s" == lt || lower+"es" == lt {
			return t, true
		}
	}

	best, bestDist, tie := "", -1, false
	for _, t := range tables {
		dist := levenshtein(lower, strings.ToLower(t))
		switch {
		case bestDist == -1 || dist < bestDist:
			best, bestDist, tie = t, dist, false
		case dist == bestDist:
			tie = true
		}
	}
	limit := max(1, min(2, len(name)/4))
	if best == "" || tie || bestDist > limit {
		return "", false
	}
	return best, true
}

// levenshtein is the rune edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// replaceIdent replaces whole-word occurrences of old outside string
// literals.
func replaceIdent(sql, old, repl string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(old) + `\b`)
	masked := sqltext.MaskLiterals(sql)
	var sb strings.Builder
	last := 0
	for _, loc := range re.FindAllStringIndex(masked, -1) {
		sb.WriteString(sql[last:loc[0]])
		sb.WriteString(repl)
		last = loc[1]
	}
	sb.WriteString(sql[last:])
	return sb.String()
}

// unifiedDiff renders before and after one clause per line so the diff
// points at the clause that changed.
func unifiedDiff(before, after string) string {
	a := clauseLines(sqltext.Normalize(before))
	b := clauseLines(sqltext.Normalize(after))
	if a == b {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath("generated.sql"), a, b)
	return fmt.Sprint(gotextdiff.ToUnified("generated.sql", "repaired.sql", a, edits))
}

func clauseLines(sql string) string {
	return clauseBreakRe.ReplaceAllString(sql, "\n$1") + "\n"
}

// notesFor lists optimization hints for a valid statement.
func notesFor(sql string) []string {
	notes := []string{}
	masked := sqltext.MaskLiterals(sqltext.StripComments(sql))
	if orderByRe.MatchString(masked) {
		if _, _, _, ok := sqltext.TrailingLimit(sqltext.Normalize(sql)); !ok {
			notes = append(notes, "ORDER BY without LIMIT sorts the whole result; the row cap is applied afterwards")
		}
	}
	if r := security.Complexity(sql); r.Score > 1 {
		notes = append(notes, fmt.Sprintf("complexity score %d (joins %d, subqueries %d)", r.Score, r.Joins, r.Subqueries))
	}
	return notes
}
