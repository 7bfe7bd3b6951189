package prompts

import (
	"embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

//go:embed templates/*.md templates/dialects/*.md
var templatesFS embed.FS

// Prompts is the immutable set of instruction texts, loaded once and shared
// by every stage of a coordinator.
type Prompts struct {
	Analyze  string
	Generate string
	Explain  string
	dialects map[dialect.Dialect]string
}

// Load reads all prompts from the embedded filesystem.
func Load() (*Prompts, error) {
	p := &Prompts{dialects: make(map[dialect.Dialect]string, len(dialect.All))}

	var err error
	if p.Analyze, err = load("templates/ANALYZE.md"); err != nil {
		return nil, fmt.Errorf("failed to load ANALYZE: %w", err)
	}
	if p.Generate, err = load("templates/GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Explain, err = load("templates/EXPLAIN.md"); err != nil {
		return nil, fmt.Errorf("failed to load EXPLAIN: %w", err)
	}
	for _, d := range dialect.All {
		notes, err := load("templates/dialects/" + string(d) + ".md")
		if err != nil {
			return nil, fmt.Errorf("failed to load dialect notes for %s: %w", d, err)
		}
		p.dialects[d] = notes
	}
	return p, nil
}

// MustLoad is Load for callers that treat a broken embed as a programming
// error.
func MustLoad() *Prompts {
	p, err := Load()
	if err != nil {
		panic(err)
	}
	return p
}

func load(path string) (string, error) {
	data, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// DialectNotes returns the generation notes for d, or an empty string.
func (p *Prompts) DialectNotes(d dialect.Dialect) string {
	return p.dialects[d]
}

// AnalyzeSystem renders the analyzer instructions for a schema.
func (p *Prompts) AnalyzeSystem(schema string) string {
	return strings.NewReplacer("{{SCHEMA}}", schema).Replace(p.Analyze)
}

// GenerateSystem renders the generator instructions.
func (p *Prompts) GenerateSystem(schema string, d dialect.Dialect, maxRows int) string {
	return strings.NewReplacer(
		"{{SCHEMA}}", schema,
		"{{DIALECT}}", string(d),
		"{{DIALECT_NOTES}}", p.DialectNotes(d),
		"{{MAX_ROWS}}", strconv.Itoa(maxRows),
	).Replace(p.Generate)
}

// ExplainSystem renders the explainer instructions.
func (p *Prompts) ExplainSystem(schema string) string {
	return strings.NewReplacer("{{SCHEMA}}", schema).Replace(p.Explain)
}
