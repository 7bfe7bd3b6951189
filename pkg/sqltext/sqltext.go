// Package sqltext holds lexical helpers shared by the generator, validator
// and executor. None of them parse SQL; they only scan text while tracking
// quotes and comments.
package sqltext

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// StripComments removes `--` line comments and `/* */` block comments that
// are not inside string literals or quoted identifiers.
func StripComments(sql string) string {
	var sb strings.Builder
	sb.Grow(len(sql))

	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			sb.WriteByte(c)
			if c == quote {
				// Doubled quote is an escaped quote.
				if i+1 < len(sql) && sql[i+1] == quote {
					sb.WriteByte(sql[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			sb.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			if i < len(sql) {
				sb.WriteByte('\n')
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end == -1 {
				i = len(sql)
			} else {
				i += end + 3
			}
			sb.WriteByte(' ')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// CollapseWhitespace replaces every whitespace run outside quotes with a
// single space.
func CollapseWhitespace(sql string) string {
	if !strings.ContainsAny(sql, `'"`+"`") {
		return strings.TrimSpace(whitespaceRe.ReplaceAllString(sql, " "))
	}
	var sb strings.Builder
	sb.Grow(len(sql))
	var quote byte
	space := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			sb.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' {
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		if c == '\'' || c == '"' || c == '`' {
			quote = c
		}
		sb.WriteByte(c)
	}
	return strings.TrimSpace(sb.String())
}

// Normalize strips comments, collapses whitespace and drops trailing
// semicolons.
func Normalize(sql string) string {
	s := CollapseWhitespace(StripComments(sql))
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}

// Terminate returns sql with exactly one trailing semicolon.
func Terminate(sql string) string {
	s := strings.TrimSpace(sql)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s + ";"
}

// MaskLiterals replaces the contents of single-quoted string literals with
// spaces so keyword scans do not match inside them. Quotes are kept.
func MaskLiterals(sql string) string {
	b := []byte(sql)
	in := false
	for i := 0; i < len(b); i++ {
		if b[i] == '\'' {
			if in && i+1 < len(b) && b[i+1] == '\'' {
				b[i], b[i+1] = ' ', ' '
				i++
				continue
			}
			in = !in
			continue
		}
		if in {
			b[i] = ' '
		}
	}
	return string(b)
}

// CountStatements counts non-empty statements separated by semicolons that
// sit outside literals and comments.
func CountStatements(sql string) int {
	s := MaskLiterals(StripComments(sql))
	n := 0
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

// Balanced reports whether parentheses and quotes are balanced.
func Balanced(sql string) (parens, quotes bool) {
	depth := 0
	var quote byte
	parens = true
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			if c == quote {
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				parens = false
			}
		}
	}
	return parens && depth == 0, quote == 0
}

// StripFences removes a surrounding markdown code fence (```sql ... ```) if
// the text contains one, returning the fenced body. Text without a fence is
// returned trimmed.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start == -1 {
		return text
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		lang := strings.TrimSpace(body[:nl])
		if lang == "" || !strings.ContainsAny(lang, " \t(") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

var limitRe = regexp.MustCompile(`(?i)\blimit\s+(\d+)(\s*(,|offset)\s*\d+)?\s*$`)

// TrailingLimit finds a LIMIT clause at the end of a normalized statement.
// It returns the numeric limit and the byte span of that number.
func TrailingLimit(normalized string) (limit int, start, end int, ok bool) {
	m := limitRe.FindStringSubmatchIndex(normalized)
	if m == nil {
		return 0, 0, 0, false
	}
	start, end = m[2], m[3]
	// MySQL "LIMIT offset, count" puts the row count second.
	if m[6] != -1 && strings.TrimSpace(normalized[m[6]:m[7]]) == "," {
		numStart := strings.LastIndexAny(normalized, ", ") + 1
		start, end = numStart, len(normalized)
	}
	n := 0
	for _, c := range normalized[start:end] {
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			n = 1 << 30
		}
	}
	return n, start, end, true
}

// ContainsKeyword reports whether sql contains kw as a whole word,
// case-insensitively.
func ContainsKeyword(sql, kw string) bool {
	return KeywordRegexp(kw).MatchString(sql)
}

// KeywordRegexp returns a case-insensitive word-boundary matcher for kw.
func KeywordRegexp(kw string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
}
