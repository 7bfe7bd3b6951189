package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alitto/pond/v2"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

const defaultIntrospectPoolSize = 4

type DBProviderConfig struct {
	Logger   *slog.Logger
	DB       *sql.DB
	Dialect  dialect.Dialect
	PoolSize int
	// Tables restricts introspection to the named tables when non-empty.
	Tables []string
}

func (cfg *DBProviderConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if _, err := dialect.Parse(string(cfg.Dialect)); err != nil {
		return err
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultIntrospectPoolSize
	}
	return nil
}

// DBProvider reads the schema from the live database catalog.
type DBProvider struct {
	log  *slog.Logger
	cfg  DBProviderConfig
	pool pond.ResultPool[Table]
}

func NewDBProvider(cfg DBProviderConfig) (*DBProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate schema provider config: %w", err)
	}
	return &DBProvider{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[Table](cfg.PoolSize),
	}, nil
}

// Close stops the introspection pool.
func (p *DBProvider) Close() {
	p.pool.StopAndWait()
}

func (p *DBProvider) Schema(ctx context.Context) (*Schema, error) {
	names, err := p.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no tables found in database")
	}

	group := p.pool.NewGroupContext(ctx)
	for _, name := range names {
		group.SubmitErr(func() (Table, error) {
			cols, err := p.columns(ctx, name)
			if err != nil {
				return Table{}, fmt.Errorf("failed to read columns of %s: %w", name, err)
			}
			return Table{Name: name, Columns: cols}, nil
		})
	}
	tables, err := group.Wait()
	if err != nil {
		return nil, err
	}

	relations, err := p.relations(ctx)
	if err != nil {
		p.log.Warn("schema: failed to read relations", "dialect", p.cfg.Dialect, "error", err)
		relations = nil
	}
	relations = filterRelations(relations, names)

	p.log.Debug("schema: introspected database", "dialect", p.cfg.Dialect, "tables", len(tables), "relations", len(relations))
	return &Schema{Dialect: p.cfg.Dialect, Tables: tables, Relations: relations}, nil
}

func (p *DBProvider) tableNames(ctx context.Context) ([]string, error) {
	var q string
	switch p.cfg.Dialect {
	case dialect.SQLite:
		q = `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case dialect.PostgreSQL:
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
	case dialect.MySQL:
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	case dialect.ClickHouse:
		q = `SELECT name FROM system.tables WHERE database = currentDatabase() ORDER BY name`
	case dialect.DuckDB:
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
	}

	rows, err := p.cfg.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if p.wanted(name) {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

func (p *DBProvider) wanted(name string) bool {
	if len(p.cfg.Tables) == 0 {
		return true
	}
	for _, t := range p.cfg.Tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func (p *DBProvider) columns(ctx context.Context, table string) ([]Column, error) {
	var q string
	switch p.cfg.Dialect {
	case dialect.SQLite:
		q = `SELECT name, type, "notnull" = 0, pk > 0 FROM pragma_table_info(?) ORDER BY cid`
	case dialect.PostgreSQL:
		q = `SELECT c.column_name, c.data_type, c.is_nullable = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage k
				  ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_name = c.table_name
				  AND tc.table_schema = c.table_schema AND k.column_name = c.column_name)
			FROM information_schema.columns c
			WHERE c.table_schema = current_schema() AND c.table_name = $1
			ORDER BY c.ordinal_position`
	case dialect.MySQL:
		q = `SELECT column_name, column_type, is_nullable = 'YES', column_key = 'PRI'
			FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY ordinal_position`
	case dialect.ClickHouse:
		q = `SELECT name, type, startsWith(type, 'Nullable'), is_in_primary_key = 1
			FROM system.columns WHERE database = currentDatabase() AND table = ?
			ORDER BY position`
	case dialect.DuckDB:
		q = `SELECT column_name, data_type, is_nullable = 'YES', false
			FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?
			ORDER BY ordinal_position`
	}

	rows, err := p.cfg.DB.QueryContext(ctx, q, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.PrimaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (p *DBProvider) relations(ctx context.Context) ([]Relation, error) {
	var q string
	switch p.cfg.Dialect {
	case dialect.SQLite:
		q = `SELECT m.name, f."from", f."table", COALESCE(f."to", '')
			FROM sqlite_master m, pragma_foreign_key_list(m.name) f
			WHERE m.type = 'table'`
	case dialect.PostgreSQL:
		q = `SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			JOIN information_schema.constraint_column_usage ccu
			  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = current_schema()`
	case dialect.MySQL:
		q = `SELECT table_name, column_name, referenced_table_name, referenced_column_name
			FROM information_schema.key_column_usage
			WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL`
	case dialect.DuckDB:
		q = `SELECT table_name, constraint_column_names[1], referenced_table, referenced_column_names[1]
			FROM duckdb_constraints()
			WHERE constraint_type = 'FOREIGN KEY' AND schema_name = current_schema()`
	default:
		// ClickHouse has no foreign keys.
		return nil, nil
	}

	rows, err := p.cfg.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.FromTable, &r.FromColumn, &r.ToTable, &r.ToColumn); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

func filterRelations(rels []Relation, tables []string) []Relation {
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[strings.ToLower(t)] = true
	}
	out := rels[:0]
	for _, r := range rels {
		if known[strings.ToLower(r.FromTable)] && known[strings.ToLower(r.ToTable)] {
			out = append(out, r)
		}
	}
	return out
}
