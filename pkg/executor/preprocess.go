package executor

import (
	"strconv"

	"github.com/ruochenliao/text2sql/pkg/dialect"
	"github.com/ruochenliao/text2sql/pkg/sqltext"
)

// Preprocess produces the statement actually sent to the database: comments
// stripped, whitespace collapsed, the row cap enforced and the terminator
// normalized for the dialect.
//
// With autoLimit a LIMIT maxRows clause is appended. An explicit trailing
// LIMIT larger than maxRows is lowered to maxRows.
func Preprocess(sql string, d dialect.Dialect, autoLimit bool, maxRows int) string {
	s := sqltext.Normalize(sql)
	if maxRows > 0 {
		if n, start, end, ok := sqltext.TrailingLimit(s); ok {
			if n > maxRows {
				s = s[:start] + strconv.Itoa(maxRows) + s[end:]
			}
		} else if autoLimit {
			s += " LIMIT " + strconv.Itoa(maxRows)
		}
	}
	if d.TrailingSemicolon() {
		return sqltext.Terminate(s)
	}
	return s
}
