package executor

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruochenliao/text2sql/pkg/dialect"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/security"
)

var validator = security.New(security.Config{})

func approve(t *testing.T, sql string) *security.Approval {
	t.Helper()
	verdict, approval := validator.Validate(sql)
	require.True(t, verdict.Safe, verdict.Reason)
	return approval
}

func newCustomerDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), OpenConfig{
		Dialect: dialect.SQLite,
		DSN:     filepath.Join(t.TempDir(), "customers.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE Customer (
			CustomerId INTEGER PRIMARY KEY,
			FirstName TEXT NOT NULL,
			LastName TEXT NOT NULL,
			Company TEXT,
			Balance REAL,
			CreatedAt DATETIME
		);
		INSERT INTO Customer (CustomerId, FirstName, LastName, Company, Balance, CreatedAt)
		WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < 150)
		SELECT n, 'First' || n, 'Last' || n, CASE WHEN n % 2 = 0 THEN 'Acme' END, n * 1.5, '2024-01-02 03:04:05'
		FROM seq;`)
	require.NoError(t, err)
	return db
}

func newSQLiteExecutor(t *testing.T, db *sql.DB, maxRows int) *Executor {
	t.Helper()
	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.SQLite, MaxRows: maxRows})
	require.NoError(t, err)
	return e
}

func requireRoundTrip(t *testing.T, res pipeline.ExecutionResult, maxRows int) {
	t.Helper()
	require.Equal(t, res.RowCount, len(res.Data))
	require.LessOrEqual(t, res.RowCount, maxRows)
	for _, rec := range res.Data {
		for _, col := range res.Columns {
			require.Contains(t, rec, col)
		}
	}
}

func TestExecutor_SQLite(t *testing.T) {
	t.Parallel()

	db := newCustomerDB(t)
	e := newSQLiteExecutor(t, db, 100)
	ctx := context.Background()

	t.Run("injects the row cap when no limit is present", func(t *testing.T) {
		res := e.Execute(ctx, approve(t, "SELECT CustomerId, FirstName, LastName FROM Customer"))
		require.True(t, res.Success, "%+v", res.Error)
		require.Equal(t, "SELECT CustomerId, FirstName, LastName FROM Customer LIMIT 100;", res.SQL)
		require.Equal(t, 100, res.RowCount)
		require.Equal(t, []string{"CustomerId", "FirstName", "LastName"}, res.Columns)
		require.Equal(t, map[string]string{
			"CustomerId": KindInteger,
			"FirstName":  KindString,
			"LastName":   KindString,
		}, res.ColumnTypes)
		require.NotEmpty(t, res.ExecutionID)
		requireRoundTrip(t, res, 100)
	})

	t.Run("lowers an explicit limit above the cap", func(t *testing.T) {
		res := e.Execute(ctx, approve(t, "SELECT CustomerId FROM Customer ORDER BY CustomerId LIMIT 500;"))
		require.True(t, res.Success, "%+v", res.Error)
		require.Equal(t, "SELECT CustomerId FROM Customer ORDER BY CustomerId LIMIT 100;", res.SQL)
		require.Equal(t, 100, res.RowCount)
		requireRoundTrip(t, res, 100)
	})

	t.Run("keeps an explicit limit below the cap", func(t *testing.T) {
		res := e.Execute(ctx, approve(t, "SELECT CustomerId, FirstName, LastName FROM Customer LIMIT 5;"))
		require.True(t, res.Success, "%+v", res.Error)
		require.Equal(t, 5, res.RowCount)
		require.Equal(t, int64(1), res.Data[0]["CustomerId"])
		require.Equal(t, "First1", res.Data[0]["FirstName"])
	})

	t.Run("null values are kept as explicit nil", func(t *testing.T) {
		res := e.Execute(ctx, approve(t, "SELECT CustomerId, Company FROM Customer WHERE CustomerId IN (1, 2) ORDER BY CustomerId"))
		require.True(t, res.Success, "%+v", res.Error)
		require.Len(t, res.Data, 2)
		require.Contains(t, res.Data[0], "Company")
		require.Nil(t, res.Data[0]["Company"])
		require.Equal(t, "Acme", res.Data[1]["Company"])
		require.Equal(t, KindString, res.ColumnTypes["Company"])
	})

	t.Run("datetime and float columns", func(t *testing.T) {
		res := e.Execute(ctx, approve(t, "SELECT Balance, CreatedAt FROM Customer WHERE CustomerId = 2"))
		require.True(t, res.Success, "%+v", res.Error)
		require.Equal(t, 3.0, res.Data[0]["Balance"])
		require.Equal(t, "2024-01-02 03:04:05", res.Data[0]["CreatedAt"])
		require.Equal(t, KindFloat, res.ColumnTypes["Balance"])
		require.Equal(t, KindDatetime, res.ColumnTypes["CreatedAt"])
	})

	t.Run("empty result", func(t *testing.T) {
		res := e.Execute(ctx, approve(t, "SELECT CustomerId FROM Customer WHERE CustomerId < 0"))
		require.True(t, res.Success, "%+v", res.Error)
		require.Equal(t, 0, res.RowCount)
		require.NotNil(t, res.Data)
		require.Equal(t, []string{"CustomerId"}, res.Columns)
	})

	t.Run("classifies errors", func(t *testing.T) {
		tests := []struct {
			sql  string
			want pipeline.ExecutionErrorType
		}{
			{"SELECT * FROM Customers", pipeline.ExecTableNotFound},
			{"SELECT Nickname FROM Customer", pipeline.ExecColumnNotFound},
			{"SELECT FROM Customer WHERE", pipeline.ExecSyntaxError},
		}
		for _, tt := range tests {
			res := e.Execute(ctx, approve(t, tt.sql))
			require.False(t, res.Success, tt.sql)
			require.NotNil(t, res.Error, tt.sql)
			assert.Equal(t, tt.want, res.Error.Type, res.Error.Message)
			assert.NotEmpty(t, res.Error.Suggestions)
			assert.Empty(t, res.Data)
			assert.Zero(t, res.RowCount)
		}
	})
}

func TestExecutor_RefusesUnapprovedStatements(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.PostgreSQL})
	require.NoError(t, err)

	for _, approval := range []*security.Approval{nil, {}} {
		res := e.Execute(context.Background(), approval)
		require.False(t, res.Success)
		require.Equal(t, pipeline.ExecPermissionError, res.Error.Type)
		require.Contains(t, res.Error.Message, "security validation")
	}

	_, approval := validator.Validate("DROP TABLE Customer")
	require.Nil(t, approval)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_CapsRowsWhileScanning(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rows := sqlmock.NewRows([]string{"id", "name"})
	for i := range 5 {
		rows.AddRow(int64(i), "row")
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM t LIMIT 3;")).WillReturnRows(rows)

	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.PostgreSQL, MaxRows: 3})
	require.NoError(t, err)

	res := e.Execute(context.Background(), approve(t, "SELECT id, name FROM t"))
	require.True(t, res.Success, "%+v", res.Error)
	require.Equal(t, 3, res.RowCount)
	require.True(t, res.Truncated)
	requireRoundTrip(t, res, 3)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_ParsesTextProtocolValues(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("n").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("amount").OfType("DECIMAL", ""),
		sqlmock.NewColumn("label").OfType("VARCHAR", ""),
		sqlmock.NewColumn("missing").OfType("INT", int64(0)),
	).AddRow([]byte("42"), []byte("3.50"), []byte("x"), nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT n, amount, label, missing FROM t LIMIT 100;")).WillReturnRows(rows)

	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.MySQL})
	require.NoError(t, err)

	res := e.Execute(context.Background(), approve(t, "SELECT n, amount, label, missing FROM t"))
	require.True(t, res.Success, "%+v", res.Error)
	require.Equal(t, pipeline.Record{"n": int64(42), "amount": 3.5, "label": "x", "missing": nil}, res.Data[0])
	require.Equal(t, map[string]string{
		"n":       KindInteger,
		"amount":  KindFloat,
		"label":   KindString,
		"missing": KindInteger,
	}, res.ColumnTypes)
}

func TestExecutor_Timeout(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery("SELECT").WillDelayFor(5 * time.Second).WillReturnRows(sqlmock.NewRows([]string{"x"}))

	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.PostgreSQL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	approval := approve(t, "SELECT pg_backend_pid() AS x")
	_, qerr := e.Query(context.Background(), approval)
	var te *TimeoutError
	require.ErrorAs(t, qerr, &te)
	require.Equal(t, 50*time.Millisecond, te.Timeout)
	require.ErrorIs(t, qerr, context.DeadlineExceeded)
}

func TestExecutor_TimeoutResult(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery("SELECT").WillDelayFor(5 * time.Second).WillReturnRows(sqlmock.NewRows([]string{"x"}))

	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.PostgreSQL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	res := e.Execute(context.Background(), approve(t, "SELECT 1 AS x"))
	require.False(t, res.Success)
	require.Equal(t, pipeline.ExecTimeoutError, res.Error.Type)
	require.Contains(t, res.Error.Message, "statement exceeded timeout")
	require.Less(t, res.ExecutionTime, 5.0)
}

func TestExecutor_CancelledContext(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.PostgreSQL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, qerr := e.Query(ctx, approve(t, "SELECT 1"))
	require.ErrorIs(t, qerr, context.Canceled)
	require.ErrorContains(t, qerr, "execution aborted")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: logger})
	require.ErrorContains(t, err, "db is required")

	cfg := Config{Logger: logger, DB: &sql.DB{}, Dialect: dialect.SQLite}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultMaxRows, cfg.MaxRows)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.NotNil(t, cfg.Clock)
}
