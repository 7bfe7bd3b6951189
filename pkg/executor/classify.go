package executor

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/ncruces/go-sqlite3"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

// Suggestions are the canned remediation hints attached to each error type.
var Suggestions = map[pipeline.ExecutionErrorType][]string{
	pipeline.ExecSyntaxError: {
		"Check the SQL syntax for the target database dialect",
		"Verify that keywords, commas and parentheses are in the right place",
		"Make sure string literals are quoted with single quotes",
	},
	pipeline.ExecTableNotFound: {
		"Check that the table name is spelled correctly",
		"Confirm the table exists in the connected database",
		"Table names may be case sensitive on this database",
	},
	pipeline.ExecColumnNotFound: {
		"Check that the column name is spelled correctly",
		"Confirm the column belongs to the table it is selected from",
		"Qualify ambiguous columns with their table alias",
	},
	pipeline.ExecTimeoutError: {
		"Narrow the query with additional filters",
		"Reduce the number of joined tables",
		"Ask for fewer rows or aggregate the data first",
	},
	pipeline.ExecPermissionError: {
		"The database user lacks permission for this statement",
		"Only read-only queries on permitted tables can be executed",
	},
	pipeline.ExecConnectionError: {
		"The database could not be reached; try again shortly",
		"Check the database address and network connectivity",
	},
	pipeline.ExecExecutionError: {
		"Check data types used in comparisons and functions",
		"Simplify the query and try again",
	},
	pipeline.ExecUnknown: {
		"Try rephrasing the question",
	},
}

// Postgres SQLSTATE codes and classes.
var pgCodes = map[string]pipeline.ExecutionErrorType{
	"42601": pipeline.ExecSyntaxError,
	"42P01": pipeline.ExecTableNotFound,
	"3F000": pipeline.ExecTableNotFound,
	"42703": pipeline.ExecColumnNotFound,
	"42702": pipeline.ExecColumnNotFound,
	"57014": pipeline.ExecTimeoutError,
	"25006": pipeline.ExecPermissionError,
	"42501": pipeline.ExecPermissionError,
}

var pgClasses = map[string]pipeline.ExecutionErrorType{
	"08": pipeline.ExecConnectionError,
	"28": pipeline.ExecPermissionError,
	"57": pipeline.ExecConnectionError,
}

var mysqlCodes = map[uint16]pipeline.ExecutionErrorType{
	1064: pipeline.ExecSyntaxError,
	1146: pipeline.ExecTableNotFound,
	1049: pipeline.ExecTableNotFound,
	1054: pipeline.ExecColumnNotFound,
	1052: pipeline.ExecColumnNotFound,
	3024: pipeline.ExecTimeoutError,
	1317: pipeline.ExecTimeoutError,
	1044: pipeline.ExecPermissionError,
	1045: pipeline.ExecPermissionError,
	1142: pipeline.ExecPermissionError,
	1143: pipeline.ExecPermissionError,
	1290: pipeline.ExecPermissionError,
	1040: pipeline.ExecConnectionError,
	2002: pipeline.ExecConnectionError,
	2003: pipeline.ExecConnectionError,
	2006: pipeline.ExecConnectionError,
	2013: pipeline.ExecConnectionError,
}

var clickhouseCodes = map[int32]pipeline.ExecutionErrorType{
	62:  pipeline.ExecSyntaxError,
	60:  pipeline.ExecTableNotFound,
	81:  pipeline.ExecTableNotFound,
	16:  pipeline.ExecColumnNotFound,
	47:  pipeline.ExecColumnNotFound,
	159: pipeline.ExecTimeoutError,
	164: pipeline.ExecPermissionError,
	497: pipeline.ExecPermissionError,
	516: pipeline.ExecPermissionError,
	210: pipeline.ExecConnectionError,
}

// Message fragments checked in order when the driver type gives no answer.
var messagePatterns = []struct {
	typ       pipeline.ExecutionErrorType
	fragments []string
}{
	{pipeline.ExecTimeoutError, []string{"statement timeout", "timeout", "timed out", "deadline exceeded", "max_execution_time", "interrupted"}},
	{pipeline.ExecColumnNotFound, []string{"no such column", "unknown column", "unknown identifier", "ambiguous column", "referenced column", "column \""}},
	{pipeline.ExecTableNotFound, []string{"no such table", "unknown table", "table or view", "doesn't exist", "does not exist", "relation \""}},
	{pipeline.ExecSyntaxError, []string{"syntax error", "syntax", "parser error", "incomplete input", "unrecognized token"}},
	{pipeline.ExecPermissionError, []string{"permission denied", "access denied", "not authorized", "readonly", "read-only", "read only", "insufficient privilege"}},
	{pipeline.ExecConnectionError, []string{"connection refused", "connection reset", "broken pipe", "bad connection", "no such host", "unable to open database", "unexpected eof"}},
}

// Classify maps a driver error onto the fixed execution error taxonomy.
// Known driver error types are inspected by code first; everything else
// falls back to substring matching on the message.
func Classify(err error) pipeline.ExecutionErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.ExecTimeoutError
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return pipeline.ExecTimeoutError
	}
	if errors.Is(err, ErrNotApproved) {
		return pipeline.ExecPermissionError
	}
	if errors.Is(err, driver.ErrBadConn) {
		return pipeline.ExecConnectionError
	}

	typ, known := classifyDriver(err)
	if typ != "" {
		return typ
	}
	if typ := classifyMessage(err.Error()); typ != "" {
		return typ
	}
	if known {
		return pipeline.ExecExecutionError
	}
	return pipeline.ExecUnknown
}

// classifyDriver returns the type derived from a driver error code, and
// whether err carried a driver error at all.
func classifyDriver(err error) (pipeline.ExecutionErrorType, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgType(pgErr.Code), true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgType(string(pqErr.Code)), true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlCodes[myErr.Number], true
	}
	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return clickhouseCodes[chErr.Code], true
	}
	var liteErr *sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.PERM, sqlite3.AUTH, sqlite3.READONLY:
			return pipeline.ExecPermissionError, true
		case sqlite3.INTERRUPT:
			return pipeline.ExecTimeoutError, true
		case sqlite3.CANTOPEN, sqlite3.NOTADB:
			return pipeline.ExecConnectionError, true
		}
		return "", true
	}
	return "", false
}

func pgType(code string) pipeline.ExecutionErrorType {
	if t, ok := pgCodes[code]; ok {
		return t
	}
	if len(code) == 5 {
		if t, ok := pgClasses[code[:2]]; ok {
			return t
		}
		if code[:2] == "42" {
			return pipeline.ExecSyntaxError
		}
	}
	return ""
}

func classifyMessage(msg string) pipeline.ExecutionErrorType {
	msg = strings.ToLower(msg)
	for _, p := range messagePatterns {
		for _, f := range p.fragments {
			if strings.Contains(msg, f) {
				return p.typ
			}
		}
	}
	return ""
}

// SuggestionsFor returns a copy of the canned suggestions for typ.
func SuggestionsFor(typ pipeline.ExecutionErrorType) []string {
	s, ok := Suggestions[typ]
	if !ok {
		s = Suggestions[pipeline.ExecUnknown]
	}
	return append([]string(nil), s...)
}
