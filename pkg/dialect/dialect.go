package dialect

import (
	"fmt"
	"strings"
)

// Dialect names a SQL engine the pipeline can target.
type Dialect string

const (
	SQLite     Dialect = "sqlite"
	PostgreSQL Dialect = "postgres"
	MySQL      Dialect = "mysql"
	ClickHouse Dialect = "clickhouse"
	DuckDB     Dialect = "duckdb"
)

var All = []Dialect{SQLite, PostgreSQL, MySQL, ClickHouse, DuckDB}

// Parse accepts common aliases ("postgresql", "pg", "sqlite3").
func Parse(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return PostgreSQL, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "clickhouse", "ch":
		return ClickHouse, nil
	case "duckdb", "duck":
		return DuckDB, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", s)
	}
}

func (d Dialect) String() string { return string(d) }

// Placeholder returns the bind parameter marker for position n (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == PostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// TrailingSemicolon reports whether the engine accepts a statement ending in
// ";" through database/sql.
func (d Dialect) TrailingSemicolon() bool {
	return d != ClickHouse
}

// QuoteIdent quotes an identifier for the dialect.
func (d Dialect) QuoteIdent(name string) string {
	switch d {
	case MySQL, ClickHouse:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}
