package schema

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lmittmann/tint"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

var logger *slog.Logger

func TestMain(m *testing.M) {
	flag.Parse()
	verbose := false
	if vFlag := flag.Lookup("test.v"); vFlag != nil && vFlag.Value.String() == "true" {
		verbose = true
	}
	if verbose {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC3339,
			AddSource:  true,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	os.Exit(m.Run())
}

const chinookYAML = `
dialect: sqlite
tables:
  - name: Customer
    columns:
      - {name: CustomerId, type: INTEGER, primary_key: true}
      - {name: FirstName, type: TEXT}
      - {name: LastName, type: TEXT}
  - name: Invoice
    columns:
      - {name: InvoiceId, type: INTEGER, primary_key: true}
      - {name: CustomerId, type: INTEGER}
      - {name: Total, type: NUMERIC}
  - name: InvoiceLine
    columns:
      - {name: InvoiceLineId, type: INTEGER, primary_key: true}
      - {name: InvoiceId, type: INTEGER}
relations:
  - {from_table: Invoice, from_column: CustomerId, to_table: Customer, to_column: CustomerId}
  - {from_table: InvoiceLine, from_column: InvoiceId, to_table: Invoice, to_column: InvoiceId}
`

func TestSchema_ParseYAMLAndText(t *testing.T) {
	t.Parallel()

	s, err := ParseYAML([]byte(chinookYAML), dialect.PostgreSQL)
	require.NoError(t, err)
	require.Equal(t, dialect.SQLite, s.Dialect)
	require.Equal(t, []string{"Customer", "Invoice", "InvoiceLine"}, s.TableNames())

	want := `Database dialect: sqlite

Table: Customer (CustomerId INTEGER PK, FirstName TEXT, LastName TEXT)
Table: Invoice (InvoiceId INTEGER PK, CustomerId INTEGER, Total NUMERIC)
Table: InvoiceLine (InvoiceLineId INTEGER PK, InvoiceId INTEGER)

Relations:
- Invoice.CustomerId -> Customer.CustomerId
- InvoiceLine.InvoiceId -> Invoice.InvoiceId`
	if diff := cmp.Diff(want, s.Text()); diff != "" {
		t.Fatalf("unexpected schema text (-want +got):\n%s", diff)
	}
}

func TestSchema_MostCommonTable(t *testing.T) {
	t.Parallel()

	s, err := ParseYAML([]byte(chinookYAML), "")
	require.NoError(t, err)
	require.Equal(t, "Invoice", s.MostCommonTable())

	noRel := &Schema{Tables: []Table{{Name: "A"}, {Name: "B"}}}
	require.Equal(t, "A", noRel.MostCommonTable())

	require.Equal(t, "", (&Schema{}).MostCommonTable())
}

func TestSchema_TableLookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := &Schema{Tables: []Table{{Name: "Customer"}}}
	tbl, ok := s.Table("customer")
	require.True(t, ok)
	require.Equal(t, "Customer", tbl.Name)
	_, ok = s.Table("orders")
	require.False(t, ok)
}

func TestSchema_ValidateRejectsUnknownRelationTable(t *testing.T) {
	t.Parallel()

	s := &Schema{
		Tables:    []Table{{Name: "A"}},
		Relations: []Relation{{FromTable: "A", ToTable: "B"}},
	}
	require.ErrorContains(t, s.Validate(), `unknown table "B"`)
	_, err := NewStaticProvider(s)
	require.Error(t, err)
}

func TestSchema_LoadFileRawText(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "schema.txt")
	require.NoError(t, os.WriteFile(path, []byte("Table: Customer(CustomerId, FirstName, LastName)\n"), 0o644))

	s, err := LoadFile(path, dialect.SQLite)
	require.NoError(t, err)
	require.Equal(t, "Table: Customer(CustomerId, FirstName, LastName)", s.Text())
	require.Empty(t, s.TableNames())
}

type countingProvider struct {
	calls atomic.Int32
	err   error
}

func (p *countingProvider) Schema(context.Context) (*Schema, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Schema{Tables: []Table{{Name: "T"}}}, nil
}

func TestCachedProvider(t *testing.T) {
	t.Parallel()

	t.Run("collapses concurrent loads", func(t *testing.T) {
		up := &countingProvider{}
		p, err := NewCachedProvider(up, time.Minute)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := p.Schema(context.Background())
				if assert.NoError(t, err) {
					assert.Equal(t, "T", s.Tables[0].Name)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, up.calls.Load())

		p.Invalidate()
		_, err = p.Schema(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 2, up.calls.Load())
	})

	t.Run("does not cache errors", func(t *testing.T) {
		up := &countingProvider{err: errors.New("boom")}
		p, err := NewCachedProvider(up, time.Minute)
		require.NoError(t, err)

		_, err = p.Schema(context.Background())
		require.ErrorContains(t, err, "boom")
		_, err = p.Schema(context.Background())
		require.Error(t, err)
		require.EqualValues(t, 2, up.calls.Load())
	})
}

func TestDBProvider_SQLite(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "chinook.db")+"?_pragma=foreign_keys(ON)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE Customer (CustomerId INTEGER PRIMARY KEY, FirstName TEXT NOT NULL, LastName TEXT);
		CREATE TABLE Invoice (
			InvoiceId INTEGER PRIMARY KEY,
			CustomerId INTEGER NOT NULL REFERENCES Customer(CustomerId),
			Total NUMERIC
		);`)
	require.NoError(t, err)

	p, err := NewDBProvider(DBProviderConfig{Logger: logger, DB: db, Dialect: dialect.SQLite})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	s, err := p.Schema(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Customer", "Invoice"}, s.TableNames())

	customer, ok := s.Table("Customer")
	require.True(t, ok)
	require.Equal(t, []Column{
		{Name: "CustomerId", Type: "INTEGER", PrimaryKey: true, Nullable: true},
		{Name: "FirstName", Type: "TEXT", Nullable: false},
		{Name: "LastName", Type: "TEXT", Nullable: true},
	}, customer.Columns)

	require.Equal(t, []Relation{
		{FromTable: "Invoice", FromColumn: "CustomerId", ToTable: "Customer", ToColumn: "CustomerId"},
	}, s.Relations)
	require.Equal(t, "Customer", s.MostCommonTable())
}

func TestDBProviderConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := DBProviderConfig{}
	require.ErrorContains(t, cfg.Validate(), "logger is required")

	cfg = DBProviderConfig{Logger: logger, DB: &sql.DB{}, Dialect: "oracle"}
	require.ErrorContains(t, cfg.Validate(), "unsupported dialect")

	cfg = DBProviderConfig{Logger: logger, DB: &sql.DB{}, Dialect: dialect.MySQL}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultIntrospectPoolSize, cfg.PoolSize)
}
