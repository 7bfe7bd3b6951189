package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ruochenliao/text2sql/pkg/dialect"
	"github.com/ruochenliao/text2sql/pkg/metrics"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/security"
)

const (
	DefaultMaxRows = 100
	DefaultTimeout = 30 * time.Second
)

// ErrNotApproved is returned for a statement that carries no approval from
// the security validator.
var ErrNotApproved = errors.New("statement has not passed security validation")

// TimeoutError is returned when a statement exceeds the executor's hard
// per-statement timeout.
type TimeoutError struct {
	Timeout time.Duration
	SQL     string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("statement exceeded timeout of %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// DB is the part of *sql.DB the executor needs. Every statement runs on its
// own pooled connection, released when the statement finishes or is
// cancelled.
type DB interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type Config struct {
	Logger  *slog.Logger
	DB      DB
	Dialect dialect.Dialect
	MaxRows int
	Timeout time.Duration
	Clock   clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("db is required")
	}
	if cfg.Dialect == "" {
		return fmt.Errorf("dialect is required")
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Executor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}
	return &Executor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (e *Executor) Dialect() dialect.Dialect { return e.cfg.Dialect }

func (e *Executor) MaxRows() int { return e.cfg.MaxRows }

// Execute runs an approved statement and reports the outcome as an
// ExecutionResult. Failures are carried in the result, never returned.
func (e *Executor) Execute(ctx context.Context, approval *security.Approval) pipeline.ExecutionResult {
	start := e.cfg.Clock.Now()
	res, err := e.Query(ctx, approval)
	res.ExecutionTime = e.cfg.Clock.Since(start).Seconds()

	errType := "none"
	if err != nil {
		typ := Classify(err)
		res.Success = false
		res.Data = []pipeline.Record{}
		res.RowCount = 0
		res.Error = &pipeline.ExecutionError{
			Type:        typ,
			Message:     err.Error(),
			Suggestions: SuggestionsFor(typ),
		}
		errType = string(typ)
		e.log.Warn("executor: statement failed", "execution_id", res.ExecutionID, "type", typ, "error", err)
	} else {
		e.log.Debug("executor: statement completed", "execution_id", res.ExecutionID, "rows", res.RowCount, "truncated", res.Truncated, "duration", res.ExecutionTime)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(e.cfg.Dialect), errType).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(e.cfg.Dialect)).Observe(res.ExecutionTime)
	return res
}

// Query runs an approved statement. Unlike Execute it returns the raw
// failure, a *TimeoutError when the statement timeout fires.
func (e *Executor) Query(ctx context.Context, approval *security.Approval) (pipeline.ExecutionResult, error) {
	res := pipeline.ExecutionResult{
		ExecutionID: uuid.NewString(),
		Data:        []pipeline.Record{},
		Columns:     []string{},
		ColumnTypes: map[string]string{},
	}
	if !approval.Valid() {
		return res, ErrNotApproved
	}
	res.SQL = Preprocess(approval.SQL(), e.cfg.Dialect, approval.AutoLimit(), e.cfg.MaxRows)

	qctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	err := e.run(qctx, &res)
	if err != nil && errors.Is(qctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, &TimeoutError{Timeout: e.cfg.Timeout, SQL: res.SQL}
	}
	if err != nil && ctx.Err() != nil {
		return res, fmt.Errorf("execution aborted: %w", errors.Join(ctx.Err(), err))
	}
	if err != nil {
		return res, err
	}
	res.Success = true
	return res, nil
}

func (e *Executor) run(ctx context.Context, res *pipeline.ExecutionResult) error {
	conn, err := e.cfg.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, res.SQL)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to get columns: %w", err)
	}
	dbTypes := make([]string, len(columns))
	if cts, err := rows.ColumnTypes(); err == nil {
		for i, ct := range cts {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}

	kinds := make([]string, len(columns))
	for rows.Next() {
		if len(res.Data) >= e.cfg.MaxRows {
			res.Truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(pipeline.Record, len(columns))
		for i, col := range columns {
			v, kind := convertValue(values[i], dbTypes[i])
			row[col] = v
			if kinds[i] == "" {
				kinds[i] = kind
			}
		}
		res.Data = append(res.Data, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	res.Columns = columns
	for i, col := range columns {
		kind := kinds[i]
		if kind == "" {
			kind = kindOfDatabaseType(dbTypes[i])
		}
		res.ColumnTypes[col] = kind
	}
	res.RowCount = len(res.Data)
	return nil
}
