package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

// Provider supplies the database schema. Implementations are safe for
// concurrent use.
type Provider interface {
	Schema(ctx context.Context) (*Schema, error)
}

type Column struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	PrimaryKey  bool   `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	Nullable    bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

// Relation is a foreign key edge FromTable.FromColumn -> ToTable.ToColumn.
type Relation struct {
	FromTable  string `yaml:"from_table" json:"from_table"`
	FromColumn string `yaml:"from_column" json:"from_column"`
	ToTable    string `yaml:"to_table" json:"to_table"`
	ToColumn   string `yaml:"to_column" json:"to_column"`
}

// Schema is an immutable description of the target database. Raw, when
// set, replaces the rendered text verbatim.
type Schema struct {
	Dialect   dialect.Dialect `yaml:"dialect" json:"dialect"`
	Tables    []Table         `yaml:"tables" json:"tables"`
	Relations []Relation      `yaml:"relations,omitempty" json:"relations,omitempty"`
	Raw       string          `yaml:"raw,omitempty" json:"raw,omitempty"`
}

// Text renders the schema in the fixed format embedded in every prompt.
func (s *Schema) Text() string {
	if s.Raw != "" {
		return s.Raw
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Database dialect: %s\n\n", s.Dialect)
	for _, t := range s.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			col := c.Name
			if c.Type != "" {
				col += " " + c.Type
			}
			if c.PrimaryKey {
				col += " PK"
			}
			cols = append(cols, col)
		}
		fmt.Fprintf(&sb, "Table: %s (%s)", t.Name, strings.Join(cols, ", "))
		if t.Description != "" {
			fmt.Fprintf(&sb, " -- %s", t.Description)
		}
		sb.WriteByte('\n')
	}
	if len(s.Relations) > 0 {
		sb.WriteString("\nRelations:\n")
		for _, r := range s.Relations {
			fmt.Fprintf(&sb, "- %s.%s -> %s.%s\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Table looks a table up by name, case-insensitively.
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// MostCommonTable is the table that takes part in the most relations, with
// ties broken by declaration order. With no relations it is the first table.
func (s *Schema) MostCommonTable() string {
	if len(s.Tables) == 0 {
		return ""
	}
	counts := make(map[string]int, len(s.Tables))
	for _, r := range s.Relations {
		counts[strings.ToLower(r.FromTable)]++
		counts[strings.ToLower(r.ToTable)]++
	}
	best, bestCount := s.Tables[0].Name, -1
	for _, t := range s.Tables {
		if c := counts[strings.ToLower(t.Name)]; c > bestCount {
			best, bestCount = t.Name, c
		}
	}
	return best
}

// Validate checks that relations reference declared tables.
func (s *Schema) Validate() error {
	if s.Raw != "" {
		return nil
	}
	if len(s.Tables) == 0 {
		return fmt.Errorf("schema has no tables")
	}
	for _, r := range s.Relations {
		if _, ok := s.Table(r.FromTable); !ok {
			return fmt.Errorf("relation references unknown table %q", r.FromTable)
		}
		if _, ok := s.Table(r.ToTable); !ok {
			return fmt.Errorf("relation references unknown table %q", r.ToTable)
		}
	}
	return nil
}
