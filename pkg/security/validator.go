package security

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/metrics"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/sqltext"
)

const DefaultMaxComplexity = 10

// DangerousKeywords are rejected wherever they appear as whole words,
// literals included.
var DangerousKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE"}

var dangerousRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(DangerousKeywords))
	for i, kw := range DangerousKeywords {
		res[i] = sqltext.KeywordRegexp(kw)
	}
	return res
}()

type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

// injectionPatterns run on the literal-masked text, so only quote
// delimiters and the SQL around them can match.
var injectionPatterns = []injectionPattern{
	{"string tautology", regexp.MustCompile(`(?i)'\s*or\s+'[^']*'\s*=\s*'[^']*`)},
	{"union select after quote", regexp.MustCompile(`(?i)'\s*\)?\s*union\s+(all\s+)?select\b`)},
	{"union select probe", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\s+(null|\d+)\s*(,\s*(null|\d+)\s*)*(from\b|;|--|#|$)`)},
	{"union select on system catalog", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b[^;]*\b(information_schema|sqlite_master|sqlite_schema|pg_catalog|pg_shadow|pg_user|mysql\.user|sys\.)`)},
	{"statement after quote", regexp.MustCompile(`'\s*;\s*\w`)},
	{"file or time based payload", regexp.MustCompile(`(?i)\b(into\s+(out|dump)file|load_file\s*\(|pg_sleep(_for|_until)?\s*\(|sleep\s*\(|benchmark\s*\(|waitfor\s+delay|xp_cmdshell)`)},
}

var numericTautologyRe = regexp.MustCompile(`(?i)\bor\s+(\d+)\s*=\s*(\d+)\b`)

var (
	joinRe     = regexp.MustCompile(`(?i)\bjoin\b`)
	subqueryRe = regexp.MustCompile(`(?i)\(\s*select\b`)
	groupByRe  = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	orderByRe  = regexp.MustCompile(`(?i)\border\s+by\b`)
	windowRe   = regexp.MustCompile(`(?i)\bover\s*\(`)
	unionRe    = regexp.MustCompile(`(?i)\bunion\b`)
	leadingRe  = regexp.MustCompile(`(?i)^[\s(]*(\w+)`)
)

// ComplexityReport breaks a complexity score into its parts.
type ComplexityReport struct {
	Score           int  `json:"score"`
	Joins           int  `json:"joins"`
	Subqueries      int  `json:"subqueries"`
	GroupBy         bool `json:"group_by"`
	OrderBy         bool `json:"order_by"`
	WindowFunctions int  `json:"window_functions"`
	Union           bool `json:"union"`
}

// Complexity scores sql: 1 base, +2 per JOIN, +3 per subquery, +2 for GROUP
// BY, +1 for ORDER BY, +3 per window function, +2 for UNION.
func Complexity(sql string) ComplexityReport {
	s := sqltext.MaskLiterals(sqltext.StripComments(sql))
	r := ComplexityReport{
		Joins:           len(joinRe.FindAllStringIndex(s, -1)),
		Subqueries:      len(subqueryRe.FindAllStringIndex(s, -1)),
		GroupBy:         groupByRe.MatchString(s),
		OrderBy:         orderByRe.MatchString(s),
		WindowFunctions: len(windowRe.FindAllStringIndex(s, -1)),
		Union:           unionRe.MatchString(s),
	}
	r.Score = 1 + 2*r.Joins + 3*r.Subqueries + 3*r.WindowFunctions
	if r.GroupBy {
		r.Score += 2
	}
	if r.OrderBy {
		r.Score++
	}
	if r.Union {
		r.Score += 2
	}
	return r
}

type Config struct {
	// MaxComplexity is the highest accepted complexity score.
	MaxComplexity int
}

// Validator is the gate every statement passes before execution. It holds
// no mutable state; the same input always yields the same verdict.
type Validator struct {
	maxComplexity int
}

func New(cfg Config) *Validator {
	if cfg.MaxComplexity <= 0 {
		cfg.MaxComplexity = DefaultMaxComplexity
	}
	return &Validator{maxComplexity: cfg.MaxComplexity}
}

func (v *Validator) MaxComplexity() int { return v.maxComplexity }

// Validate judges sql. The returned Approval is non-nil exactly when the
// verdict is safe, and is the only way to obtain one.
func (v *Validator) Validate(sql string) (pipeline.SecurityVerdict, *Approval) {
	verdict := v.judge(sql)
	metrics.SecurityVerdictsTotal.WithLabelValues(strconv.FormatBool(verdict.Safe), string(verdict.RiskLevel)).Inc()
	if !verdict.Safe {
		return verdict, nil
	}
	return verdict, &Approval{sql: sql, verdict: verdict}
}

func (v *Validator) judge(sql string) pipeline.SecurityVerdict {
	if strings.TrimSpace(sqltext.StripComments(sql)) == "" {
		return reject(pipeline.RiskUnknown, "empty statement")
	}

	for i, re := range dangerousRes {
		if re.MatchString(sql) {
			return reject(pipeline.RiskHigh, fmt.Sprintf("dangerous operation detected: %s", DangerousKeywords[i]))
		}
	}

	if name, ok := detectInjection(sql); ok {
		return reject(pipeline.RiskHigh, fmt.Sprintf("possible SQL injection: %s", name))
	}

	if n := sqltext.CountStatements(sql); n > 1 {
		return reject(pipeline.RiskHigh, fmt.Sprintf("multiple statements are not allowed (found %d)", n))
	}

	stripped := sqltext.StripComments(sql)
	m := leadingRe.FindStringSubmatch(stripped)
	if m == nil || (!strings.EqualFold(m[1], "SELECT") && !strings.EqualFold(m[1], "WITH")) {
		return reject(pipeline.RiskHigh, "only SELECT queries are allowed")
	}

	report := Complexity(sql)
	if report.Score > v.maxComplexity {
		return pipeline.SecurityVerdict{
			Safe:       false,
			RiskLevel:  pipeline.RiskMedium,
			Reason:     fmt.Sprintf("query too complex: score %d exceeds limit %d", report.Score, v.maxComplexity),
			Complexity: report.Score,
		}
	}

	verdict := pipeline.SecurityVerdict{
		Safe:       true,
		RiskLevel:  pipeline.RiskLow,
		Reason:     "passed security checks",
		Complexity: report.Score,
	}
	if _, _, _, ok := sqltext.TrailingLimit(sqltext.Normalize(sql)); !ok {
		verdict.AutoLimitApplied = true
		verdict.Reason = "passed security checks; row limit will be applied"
	}
	return verdict
}

func detectInjection(sql string) (string, bool) {
	masked := sqltext.MaskLiterals(sql)
	if trailingCommentAfterQuote(masked) {
		return "comment after quote", true
	}
	for _, p := range injectionPatterns {
		if p.re.MatchString(masked) {
			return p.name, true
		}
	}
	for _, m := range numericTautologyRe.FindAllStringSubmatch(masked, -1) {
		if m[1] == m[2] {
			return "numeric tautology", true
		}
	}
	return "", false
}

// trailingCommentAfterQuote reports whether a comment opens right after a
// closing quote and runs to the end of the statement, the shape left by a
// payload that comments out the rest of a query. masked must come from
// sqltext.MaskLiterals, so comment markers inside literals are gone.
func trailingCommentAfterQuote(masked string) bool {
	for i := 0; i < len(masked); i++ {
		var rest string
		switch {
		case masked[i] == '#':
			rest = lineRemainder(masked[i+1:])
		case strings.HasPrefix(masked[i:], "--"):
			rest = lineRemainder(masked[i+2:])
		case strings.HasPrefix(masked[i:], "/*"):
			end := strings.Index(masked[i+2:], "*/")
			if end < 0 {
				rest = ""
			} else {
				rest = masked[i+2+end+2:]
			}
		default:
			continue
		}
		before := strings.TrimRight(masked[:i], " \t\r\n")
		closing := strings.HasSuffix(before, "'") && strings.Count(before, "'")%2 == 0
		if closing && strings.Trim(rest, " \t\r\n;") == "" {
			return true
		}
	}
	return false
}

func lineRemainder(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

func reject(risk pipeline.RiskLevel, reason string) pipeline.SecurityVerdict {
	return pipeline.SecurityVerdict{Safe: false, RiskLevel: risk, Reason: reason}
}
