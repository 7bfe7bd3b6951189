// Package analyzer turns a user question into a structured AnalysisRecord.
package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ruochenliao/text2sql/pkg/llm"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/prompts"
)

const (
	DefaultMaxTokens = 1500
	// DefaultMaxTries allows one retry after the first model call.
	DefaultMaxTries = 2

	// FallbackConfidence is assigned to records built without a usable
	// model response.
	FallbackConfidence = 0.3
	defaultConfidence  = 0.5
)

type Config struct {
	Logger  *slog.Logger
	Client  llm.Client
	Prompts *prompts.Prompts

	Temperature   float64
	MaxTokens     int64
	MaxTries      uint
	RetryInterval time.Duration
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
	if cfg.Temperature < 0 {
		return errors.New("temperature must be non-negative")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultMaxTries
	}
	return nil
}

// Analyzer implements pipeline.Analyzer with a single model call per
// question.
type Analyzer struct {
	log     *slog.Logger
	client  llm.Client
	prompts *prompts.Prompts
	opts    llm.Options
}

func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{
		log: cfg.Logger,
		client: llm.NewRetrying(cfg.Client, llm.RetryConfig{
			Logger:          cfg.Logger,
			MaxTries:        cfg.MaxTries,
			InitialInterval: cfg.RetryInterval,
		}),
		prompts: cfg.Prompts,
		opts: llm.Options{
			Temperature:       cfg.Temperature,
			MaxTokens:         cfg.MaxTokens,
			CacheSystemPrompt: true,
		},
	}, nil
}

// Analyze never fails. A model error yields a heuristic fallback record and
// an unparseable response yields a degraded record that keeps the raw text.
func (a *Analyzer) Analyze(ctx context.Context, req pipeline.AnalyzeRequest) pipeline.AnalysisRecord {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		rec := emptyRecord(req.DefaultTable)
		rec.Confidence = 0
		rec.PotentialIssues = append(rec.PotentialIssues, "question is empty")
		return rec
	}

	messages := []llm.Message{
		llm.System(a.prompts.AnalyzeSystem(req.Schema)),
		llm.User(question),
	}
	text, err := a.client.Complete(ctx, messages, a.opts)
	if err != nil {
		a.log.Warn("analyzer: model call failed, using fallback analysis", "error", err)
		return fallbackRecord(question, req.DefaultTable, err)
	}

	var raw rawAnalysis
	if err := llm.DecodeJSON(text, &raw); err != nil {
		a.log.Warn("analyzer: could not parse model response", "error", err)
		rec := emptyRecord(req.DefaultTable)
		rec.RawResponse = text
		rec.PotentialIssues = append(rec.PotentialIssues, "analysis response was not valid JSON")
		return rec
	}

	rec := raw.record()
	canonicalizeTables(&rec, req.Tables, req.DefaultTable)
	a.log.Debug("analyzer: question analyzed",
		"intent", rec.Intent.Type,
		"primary_table", rec.TableMapping.PrimaryTable,
		"confidence", rec.Confidence)
	return rec
}

// emptyRecord is the degraded record used when the model response carried
// no structure.
func emptyRecord(defaultTable string) pipeline.AnalysisRecord {
	return pipeline.AnalysisRecord{
		Intent: pipeline.Intent{
			Type:       pipeline.IntentUnknown,
			Complexity: pipeline.ComplexitySimple,
		},
		Entities:        pipeline.Entities{Secondary: []string{}, Attributes: []string{}, Conditions: []string{}},
		TableMapping:    pipeline.TableMapping{PrimaryTable: defaultTable, RelatedTables: []string{}, JoinConditions: []string{}, RequiredFields: []string{}},
		QueryStructure:  emptyStructure(),
		Confidence:      FallbackConfidence,
		PotentialIssues: []string{},
	}
}

func fallbackRecord(question, defaultTable string, cause error) pipeline.AnalysisRecord {
	rec := emptyRecord(defaultTable)
	rec.Fallback = true
	rec.Intent.Type = guessIntent(question)
	rec.Intent.Description = question
	rec.Entities.Primary = defaultTable
	rec.PotentialIssues = append(rec.PotentialIssues, "analysis model unavailable: "+cause.Error())
	return rec
}

func emptyStructure() pipeline.QueryStructure {
	return pipeline.QueryStructure{
		SelectFields:     []string{},
		WhereConditions:  []string{},
		JoinRequirements: []string{},
		GroupByFields:    []string{},
		OrderByFields:    []string{},
	}
}

var intentCues = []struct {
	intent pipeline.IntentType
	re     *regexp.Regexp
}{
	{pipeline.IntentTimeAnalysis, regexp.MustCompile(`(?i)\b(trend|over time|per (day|week|month|quarter|year)|by (day|week|month|quarter|year)|monthly|yearly|daily|growth)\b`)},
	{pipeline.IntentSort, regexp.MustCompile(`(?i)\b(top|highest|lowest|most|least|rank(ed|ing)?|best|worst)\b`)},
	{pipeline.IntentStatistics, regexp.MustCompile(`(?i)\b(how many|count|number of|sum|total|average|avg|mean|min(imum)?|max(imum)?)\b`)},
	{pipeline.IntentFilter, regexp.MustCompile(`(?i)\b(where|whose|only|from (the )?(city|country|state)|in \d{4}|after|before|between)\b`)},
}

// guessIntent picks an intent from question keywords when no model answer
// is available.
func guessIntent(question string) pipeline.IntentType {
	for _, cue := range intentCues {
		if cue.re.MatchString(question) {
			return cue.intent
		}
	}
	return pipeline.IntentQuery
}

// canonicalizeTables rewrites model table names to their schema spelling,
// drops related tables the schema does not know and defaults a missing
// primary table.
func canonicalizeTables(rec *pipeline.AnalysisRecord, tables []string, defaultTable string) {
	if len(tables) == 0 {
		if rec.TableMapping.PrimaryTable == "" {
			rec.TableMapping.PrimaryTable = defaultTable
		}
		return
	}
	lookup := make(map[string]string, len(tables))
	for _, t := range tables {
		lookup[strings.ToLower(t)] = t
	}
	canonical := func(name string) (string, bool) {
		if i := strings.LastIndexByte(name, '.'); i != -1 {
			name = name[i+1:]
		}
		name = strings.Trim(strings.TrimSpace(name), "`\"[]")
		t, ok := lookup[strings.ToLower(name)]
		return t, ok
	}

	tm := &rec.TableMapping
	switch primary, ok := canonical(tm.PrimaryTable); {
	case ok:
		tm.PrimaryTable = primary
	case tm.PrimaryTable == "":
		tm.PrimaryTable = defaultTable
	default:
		rec.PotentialIssues = append(rec.PotentialIssues, "table "+tm.PrimaryTable+" is not in the schema")
		tm.PrimaryTable = defaultTable
	}

	related := make([]string, 0, len(tm.RelatedTables))
	for _, name := range tm.RelatedTables {
		t, ok := canonical(name)
		if !ok {
			rec.PotentialIssues = append(rec.PotentialIssues, "table "+name+" is not in the schema")
			continue
		}
		if t != tm.PrimaryTable && !contains(related, t) {
			related = append(related, t)
		}
	}
	tm.RelatedTables = related
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
