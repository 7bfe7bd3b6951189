package sqltext

import (
	"regexp"
	"strings"
)

var (
	tableRefRe = regexp.MustCompile(`(?i)\b(from|join)\s+`)
	cteNameRe  = regexp.MustCompile("(?i)(?:\\bwith\\s+(?:recursive\\s+)?|,\\s*)([\\w$]+|\"[^\"]+\"|`[^`]+`)\\s*(?:\\([^)]*\\)\\s*)?as\\s*\\(")
)

// Words that may follow a table reference and must not be read as its alias.
var clauseWords = map[string]bool{
	"WHERE": true, "JOIN": true, "ON": true, "USING": true, "GROUP": true, "ORDER": true,
	"LIMIT": true, "OFFSET": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"CROSS": true, "OUTER": true, "NATURAL": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"HAVING": true, "WINDOW": true, "FETCH": true, "FOR": true, "FINAL": true, "SAMPLE": true,
	"PREWHERE": true, "ARRAY": true, "LATERAL": true, "QUALIFY": true, "SETTINGS": true, "FORMAT": true,
}

// ReferencedTables lists the table names a statement reads from, in order of
// first appearance and without duplicates. Schema qualifiers and identifier
// quotes are removed. CTE names, subqueries, table functions and FROM inside
// function arguments such as EXTRACT(YEAR FROM col) are skipped.
func ReferencedTables(sql string) []string {
	s := MaskLiterals(StripComments(sql))

	ctes := map[string]bool{}
	for _, m := range cteNameRe.FindAllStringSubmatch(s, -1) {
		ctes[strings.ToLower(unquoteIdent(m[1]))] = true
	}

	seen := map[string]bool{}
	var out []string
	for _, loc := range tableRefRe.FindAllStringSubmatchIndex(s, -1) {
		if insideFunctionCall(s, loc[0]) {
			continue
		}
		isFrom := strings.EqualFold(s[loc[2]:loc[3]], "from")
		rest := s[loc[1]:]
		for {
			name, n := readQualifiedIdent(rest)
			if n == 0 {
				break
			}
			rest = rest[n:]
			if strings.HasPrefix(strings.TrimLeft(rest, " \t\r\n"), "(") {
				break
			}
			key := strings.ToLower(name)
			if !ctes[key] && !seen[key] {
				seen[key] = true
				out = append(out, name)
			}
			rest = skipAlias(rest)
			trimmed := strings.TrimLeft(rest, " \t\r\n")
			if !isFrom || !strings.HasPrefix(trimmed, ",") {
				break
			}
			rest = strings.TrimLeft(trimmed[1:], " \t\r\n")
		}
	}
	return out
}

// insideFunctionCall reports whether pos sits in a parenthesized group that
// is not a subquery.
func insideFunctionCall(s string, pos int) bool {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			if depth > 0 {
				depth--
				continue
			}
			head := strings.ToUpper(strings.TrimLeft(s[i+1:pos], " \t\r\n"))
			return !strings.HasPrefix(head, "SELECT") && !strings.HasPrefix(head, "WITH")
		}
	}
	return false
}

// readQualifiedIdent reads a possibly dotted, possibly quoted identifier and
// returns its last part unquoted with the number of bytes consumed.
func readQualifiedIdent(s string) (string, int) {
	pos := 0
	last := ""
	for {
		part, n := readIdentPart(s[pos:])
		if n == 0 {
			break
		}
		last = part
		pos += n
		if pos < len(s) && s[pos] == '.' {
			pos++
			continue
		}
		break
	}
	if last == "" {
		return "", 0
	}
	return last, pos
}

func readIdentPart(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	switch s[0] {
	case '"', '`':
		if end := strings.IndexByte(s[1:], s[0]); end != -1 {
			return s[1 : end+1], end + 2
		}
		return "", 0
	case '[':
		if end := strings.IndexByte(s, ']'); end != -1 {
			return s[1:end], end + 1
		}
		return "", 0
	}
	n := 0
	for n < len(s) && isIdentByte(s[n]) {
		n++
	}
	if n == 0 || (s[0] >= '0' && s[0] <= '9') {
		return "", 0
	}
	return s[:n], n
}

func skipAlias(s string) string {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	word, n := readIdentPart(trimmed)
	if n == 0 {
		return s
	}
	if strings.EqualFold(word, "AS") {
		after := strings.TrimLeft(trimmed[n:], " \t\r\n")
		if _, m := readIdentPart(after); m > 0 {
			return after[m:]
		}
		return trimmed[n:]
	}
	if clauseWords[strings.ToUpper(word)] {
		return s
	}
	return trimmed[n:]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '`') {
		return s[1 : len(s)-1]
	}
	return s
}
