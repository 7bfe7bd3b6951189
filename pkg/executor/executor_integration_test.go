package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ruochenliao/text2sql/pkg/dialect"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

func TestExecutor_Postgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("chinook"),
		postgres.WithUsername("reader"),
		postgres.WithPassword("reader"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, pgContainer)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://reader:reader@%s:%s/chinook?sslmode=disable", host, port.Port())

	for _, driverName := range []string{"pgx", "postgres"} {
		t.Run(driverName, func(t *testing.T) {
			db, err := Open(ctx, OpenConfig{Dialect: dialect.PostgreSQL, Driver: driverName, DSN: dsn})
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })

			_, err = db.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS customer (
					customer_id INTEGER PRIMARY KEY,
					first_name TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					total NUMERIC(10, 2)
				)`)
			require.NoError(t, err)
			_, err = db.ExecContext(ctx, `
				INSERT INTO customer
				SELECT n, 'name' || n, TIMESTAMP '2024-01-02 03:04:05', n * 1.25
				FROM generate_series(1, 20) AS n
				ON CONFLICT DO NOTHING`)
			require.NoError(t, err)

			e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.PostgreSQL, MaxRows: 10, Timeout: time.Second})
			require.NoError(t, err)

			res := e.Execute(ctx, approve(t, "SELECT customer_id, first_name, created_at, total FROM customer ORDER BY customer_id"))
			require.True(t, res.Success, "%+v", res.Error)
			require.Equal(t, 10, res.RowCount)
			require.Equal(t, "2024-01-02 03:04:05", res.Data[0]["created_at"])
			require.Equal(t, KindDatetime, res.ColumnTypes["created_at"])
			require.Equal(t, KindInteger, res.ColumnTypes["customer_id"])
			requireRoundTrip(t, res, 10)

			res = e.Execute(ctx, approve(t, "SELECT * FROM customers"))
			require.False(t, res.Success)
			require.Equal(t, pipeline.ExecTableNotFound, res.Error.Type)

			res = e.Execute(ctx, approve(t, "SELECT nickname FROM customer"))
			require.False(t, res.Success)
			require.Equal(t, pipeline.ExecColumnNotFound, res.Error.Type)

			res = e.Execute(ctx, approve(t, "SELECT count(*) AS n FROM generate_series(1, 500000000) AS g"))
			require.False(t, res.Success)
			require.Equal(t, pipeline.ExecTimeoutError, res.Error.Type)
		})
	}
}

func TestExecutor_ClickHouse_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	chContainer, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:23.3.8.21-alpine",
		tcclickhouse.WithUsername("reader"),
		tcclickhouse.WithPassword("reader"),
		tcclickhouse.WithDatabase("default"),
	)
	testcontainers.CleanupContainer(t, chContainer)
	require.NoError(t, err)

	addr, err := chContainer.ConnectionHost(ctx)
	require.NoError(t, err)

	db, err := Open(ctx, OpenConfig{
		Dialect: dialect.ClickHouse,
		DSN:     fmt.Sprintf("clickhouse://reader:reader@%s/default", addr),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sales (day Date, region LowCardinality(String), amount Float64) ENGINE = MergeTree ORDER BY day`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO sales SELECT toDate('2024-01-01') + number, if(number % 2 = 0, 'east', 'west'), number * 10 FROM numbers(30)`)
	require.NoError(t, err)

	e, err := New(Config{Logger: logger, DB: db, Dialect: dialect.ClickHouse, MaxRows: 25})
	require.NoError(t, err)

	res := e.Execute(ctx, approve(t, "SELECT region, sum(amount) AS total FROM sales GROUP BY region ORDER BY region;"))
	require.True(t, res.Success, "%+v", res.Error)
	require.Equal(t, "SELECT region, sum(amount) AS total FROM sales GROUP BY region ORDER BY region LIMIT 25", res.SQL)
	require.Equal(t, 2, res.RowCount)
	require.Equal(t, KindFloat, res.ColumnTypes["total"])

	res = e.Execute(ctx, approve(t, "SELECT day FROM sales"))
	require.True(t, res.Success, "%+v", res.Error)
	require.Equal(t, 25, res.RowCount)
	require.Equal(t, KindDatetime, res.ColumnTypes["day"])

	res = e.Execute(ctx, approve(t, "SELECT * FROM missing_table"))
	require.False(t, res.Success)
	require.Equal(t, pipeline.ExecTableNotFound, res.Error.Type)
}
