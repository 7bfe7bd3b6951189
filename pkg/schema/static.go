package schema

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

// StaticProvider serves a fixed schema.
type StaticProvider struct {
	schema *Schema
}

func NewStaticProvider(s *Schema) (*StaticProvider, error) {
	if s == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &StaticProvider{schema: s}, nil
}

func (p *StaticProvider) Schema(_ context.Context) (*Schema, error) {
	return p.schema, nil
}

// LoadFile reads a schema from a YAML file. Files with any other extension
// are taken as free text.
func LoadFile(path string, d dialect.Dialect) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return ParseYAML(data, d)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("schema file %s is empty", path)
	}
	return &Schema{Dialect: d, Raw: text}, nil
}

// ParseYAML decodes a schema document. The dialect in the document wins
// over the fallback d.
func ParseYAML(data []byte, d dialect.Dialect) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema yaml: %w", err)
	}
	if s.Dialect == "" {
		s.Dialect = d
	} else {
		parsed, err := dialect.Parse(string(s.Dialect))
		if err != nil {
			return nil, err
		}
		s.Dialect = parsed
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &s, nil
}
