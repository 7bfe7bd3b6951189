package executor

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

// DefaultDriver is the database/sql driver used for each dialect unless
// OpenConfig.Driver overrides it.
var DefaultDriver = map[dialect.Dialect]string{
	dialect.SQLite:     "sqlite3",
	dialect.PostgreSQL: "pgx",
	dialect.MySQL:      "mysql",
	dialect.ClickHouse: "clickhouse",
	dialect.DuckDB:     "duckdb",
}

// alternates lists drivers that speak a dialect besides the default one.
var alternates = map[dialect.Dialect][]string{
	dialect.PostgreSQL: {"postgres"},
}

type OpenConfig struct {
	Dialect dialect.Dialect
	// Driver overrides DefaultDriver, e.g. "postgres" to use lib/pq.
	Driver string
	DSN    string

	// ReadOnly asks the engine itself to refuse writes where the DSN allows
	// it (sqlite query_only, duckdb access_mode).
	ReadOnly bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTries       uint
}

func (cfg *OpenConfig) Validate() error {
	if cfg.Dialect == "" {
		return fmt.Errorf("dialect is required")
	}
	def, ok := DefaultDriver[cfg.Dialect]
	if !ok {
		return fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	if cfg.Driver == "" {
		cfg.Driver = def
	}
	if cfg.Driver != def && !slices.Contains(alternates[cfg.Dialect], cfg.Driver) {
		return fmt.Errorf("driver %q cannot be used with dialect %s", cfg.Driver, cfg.Dialect)
	}
	if cfg.DSN == "" && cfg.Dialect != dialect.DuckDB {
		return fmt.Errorf("dsn is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = min(4, cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = time.Minute
	}
	if cfg.PingTries == 0 {
		cfg.PingTries = 3
	}
	return nil
}

// Open opens the bounded connection pool the executor draws from and waits
// until the database answers a ping.
func Open(ctx context.Context, cfg OpenConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate open config: %w", err)
	}

	db, err := sql.Open(cfg.Driver, dsnFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(cfg.PingTries))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Dialect, err)
	}
	return db, nil
}

func dsnFor(cfg OpenConfig) string {
	dsn := cfg.DSN
	switch cfg.Dialect {
	case dialect.SQLite:
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
		dsn = withParam(dsn, "_pragma=busy_timeout(5000)")
		if cfg.ReadOnly {
			dsn = withParam(dsn, "_pragma=query_only(1)")
		}
	case dialect.DuckDB:
		if cfg.ReadOnly && dsn != "" && !strings.Contains(dsn, "access_mode") {
			dsn = withParam(dsn, "access_mode=READ_ONLY")
		}
	}
	return dsn
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
