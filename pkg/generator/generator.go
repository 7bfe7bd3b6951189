// Package generator turns an AnalysisRecord into a single SQL candidate.
//
// The model is asked for one read-only statement. Its answer is checked
// locally; a failing statement gets one deterministic repair pass and, if
// still invalid, is replaced by a fallback that reads the primary table.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/dialect"
	"github.com/ruochenliao/text2sql/pkg/llm"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/prompts"
	"github.com/ruochenliao/text2sql/pkg/sqltext"
)

const (
	DefaultMaxTokens = 1000
	DefaultMaxRows   = 100

	// FallbackLimit bounds the fallback statement.
	FallbackLimit = 10
)

type Config struct {
	Logger  *slog.Logger
	Client  llm.Client
	Prompts *prompts.Prompts

	Temperature float64
	MaxTokens   int64
	// MaxRows is quoted to the model so it does not add its own cap.
	MaxRows int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompts is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return errors.New("temperature must be between 0 and 1")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	return nil
}

type Generator struct {
	log     *slog.Logger
	client  llm.Client
	prompts *prompts.Prompts
	maxRows int
	opts    llm.Options
}

func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		log:     cfg.Logger,
		client:  cfg.Client,
		prompts: cfg.Prompts,
		maxRows: cfg.MaxRows,
		opts: llm.Options{
			Temperature:       cfg.Temperature,
			MaxTokens:         cfg.MaxTokens,
			CacheSystemPrompt: true,
		},
	}, nil
}

// Generate always returns a candidate. Model failures and statements that
// stay invalid after repair produce the fallback candidate.
func (g *Generator) Generate(ctx context.Context, req pipeline.GenerateRequest) pipeline.SQLCandidate {
	d, err := dialect.Parse(req.Dialect)
	if err != nil {
		d = dialect.SQLite
	}

	text, err := g.client.Complete(ctx, g.messages(req, d), g.opts)
	if err != nil {
		g.log.Warn("generator: model call failed, using fallback statement", "error", err)
		return fallback(req, d, []string{"model call failed: " + err.Error()})
	}

	sql := ExtractSQL(text)
	v := Check(sql, req.Tables)
	if v.Valid {
		return pipeline.SQLCandidate{
			Statement:         sql,
			Validation:        v,
			OptimizationNotes: notesFor(sql),
		}
	}

	g.log.Debug("generator: candidate failed local checks", "errors", v.Errors, "sql", sql)
	repaired, notes := Repair(sql, req.Tables)
	rv := Check(repaired, req.Tables)
	if !rv.Valid {
		g.log.Warn("generator: repair failed, using fallback statement", "errors", rv.Errors)
		return fallback(req, d, rv.Errors)
	}
	rv.Warnings = append(rv.Warnings, v.Errors...)
	return pipeline.SQLCandidate{
		Statement:         repaired,
		Validation:        rv,
		OptimizationNotes: append(notes, notesFor(repaired)...),
		Repaired:          true,
	}
}

func (g *Generator) messages(req pipeline.GenerateRequest, d dialect.Dialect) []llm.Message {
	msgs := []llm.Message{
		llm.System(g.prompts.GenerateSystem(req.Schema, d, g.maxRows)),
		llm.User(renderAnalysis(req.Question, req.Analysis)),
	}
	if fb := req.Feedback; fb != nil {
		if fb.PreviousSQL != "" {
			msgs = append(msgs, llm.Assistant("```sql\n"+fb.PreviousSQL+"\n```"))
		}
		msgs = append(msgs, llm.User(renderFeedback(fb)))
	}
	return msgs
}

var (
	statementStartRe = regexp.MustCompile(`(?im)^\s*(select|with)\b`)
	selectRe         = regexp.MustCompile(`(?i)\bselect\b`)
)

// ExtractSQL pulls the statement out of a model response. A fenced block
// wins; otherwise the text from the first SELECT or WITH up to the first
// semicolon is used.
func ExtractSQL(text string) string {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "```") {
		return sqltext.StripFences(text)
	}
	if loc := statementStartRe.FindStringIndex(text); loc != nil {
		text = strings.TrimSpace(text[loc[0]:])
	} else if loc := selectRe.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	}
	masked := sqltext.MaskLiterals(sqltext.StripComments(text))
	if len(masked) == len(text) {
		if i := strings.IndexByte(masked, ';'); i != -1 {
			text = text[:i+1]
		}
	}
	return strings.TrimSpace(text)
}

// fallback reads the primary table of the analysis. It is the last resort
// and is still checked by the security validator like any other candidate.
func fallback(req pipeline.GenerateRequest, d dialect.Dialect, reasons []string) pipeline.SQLCandidate {
	table := req.Analysis.TableMapping.PrimaryTable
	if table == "" && len(req.Tables) > 0 {
		table = req.Tables[0]
	}

	var stmt string
	if table == "" {
		stmt = "SELECT 1 AS no_table FROM (SELECT 1) AS t LIMIT 1;"
	} else {
		if !plainIdentRe.MatchString(table) {
			table = d.QuoteIdent(table)
		}
		stmt = fmt.Sprintf("SELECT * FROM %s LIMIT %d;", table, FallbackLimit)
	}

	warnings := []string{"fallback statement used"}
	for _, r := range reasons {
		warnings = append(warnings, "generated statement rejected: "+r)
	}
	return pipeline.SQLCandidate{
		Statement: stmt,
		Validation: pipeline.Validation{
			Valid:    true,
			Errors:   []string{},
			Warnings: warnings,
		},
		OptimizationNotes: []string{},
		Fallback:          true,
	}
}

var plainIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
