// Package visualize ranks chart types for an execution result.
package visualize

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/sqltext"
)

const (
	DefaultMaxPieSlices     = 8
	DefaultMaxBarCategories = 30
	DefaultColorScheme      = "category10"
	DefaultPageSize         = 20

	alternativeCount = 2
)

// Shape is what the query is trying to show.
type Shape string

const (
	ShapeComparison   Shape = "comparison"
	ShapeTrend        Shape = "trend"
	ShapeShare        Shape = "share"
	ShapeRanking      Shape = "ranking"
	ShapeRelationship Shape = "relationship"
	ShapeExploration  Shape = "exploration"
)

// compatibility is the base fit of each chart type for each query shape.
// Charts missing from a row score zero for that shape before data checks.
var compatibility = map[Shape]map[pipeline.ChartType]float64{
	ShapeTrend:        {pipeline.ChartLine: 0.95, pipeline.ChartArea: 0.85, pipeline.ChartBar: 0.7, pipeline.ChartScatter: 0.35, pipeline.ChartTable: 0.4},
	ShapeComparison:   {pipeline.ChartBar: 0.95, pipeline.ChartPie: 0.55, pipeline.ChartLine: 0.45, pipeline.ChartHeatmap: 0.6, pipeline.ChartArea: 0.3, pipeline.ChartTable: 0.4},
	ShapeShare:        {pipeline.ChartPie: 0.95, pipeline.ChartBar: 0.8, pipeline.ChartArea: 0.3, pipeline.ChartTable: 0.4},
	ShapeRanking:      {pipeline.ChartBar: 0.95, pipeline.ChartTable: 0.6, pipeline.ChartPie: 0.35, pipeline.ChartLine: 0.3},
	ShapeRelationship: {pipeline.ChartScatter: 0.95, pipeline.ChartHeatmap: 0.6, pipeline.ChartLine: 0.5, pipeline.ChartTable: 0.4},
	ShapeExploration:  {pipeline.ChartTable: 0.9, pipeline.ChartBar: 0.5, pipeline.ChartScatter: 0.4, pipeline.ChartLine: 0.35, pipeline.ChartPie: 0.3},
}

// chartOrder breaks score ties.
var chartOrder = []pipeline.ChartType{
	pipeline.ChartBar, pipeline.ChartLine, pipeline.ChartPie, pipeline.ChartScatter,
	pipeline.ChartArea, pipeline.ChartHeatmap, pipeline.ChartTable,
}

var (
	groupByRe  = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	orderByRe  = regexp.MustCompile(`(?i)\border\s+by\b`)
	shareCueRe = regexp.MustCompile(`(?i)\b(share|percent(age)?|proportion|distribution|breakdown|split|ratio|fraction)\b`)
)

var ErrNoResult = errors.New("no successful execution result")

type Config struct {
	Logger           *slog.Logger
	MaxPieSlices     int
	MaxBarCategories int
	ColorScheme      string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.MaxPieSlices <= 0 {
		cfg.MaxPieSlices = DefaultMaxPieSlices
	}
	if cfg.MaxBarCategories <= 0 {
		cfg.MaxBarCategories = DefaultMaxBarCategories
	}
	if cfg.ColorScheme == "" {
		cfg.ColorScheme = DefaultColorScheme
	}
	return nil
}

// Recommender implements pipeline.Recommender. It is stateless and safe for
// concurrent use.
type Recommender struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Recommender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recommender{log: cfg.Logger, cfg: cfg}, nil
}

// Recommend ranks chart types for a successful result. Zero rows short
// circuit to a table with an empty-state insight.
func (r *Recommender) Recommend(sql string, result *pipeline.ExecutionResult, analysis pipeline.AnalysisRecord) (pipeline.VisualizationRecommendation, error) {
	if result == nil || !result.Success {
		return pipeline.VisualizationRecommendation{}, ErrNoResult
	}
	if result.RowCount == 0 {
		return TableOnly(result, "The query returned no rows; there is nothing to chart."), nil
	}

	set := groupColumns(profileColumns(result))
	shape := detectShape(sql, analysis, set)

	type scored struct {
		chart pipeline.ChartType
		score float64
	}
	var ranked []scored
	for _, chart := range chartOrder {
		if s := r.score(chart, shape, set, result.RowCount); s > 0 {
			ranked = append(ranked, scored{chart, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	configs := make([]pipeline.ChartConfig, 0, len(ranked))
	for _, s := range ranked {
		configs = append(configs, pipeline.ChartConfig{
			Type:     s.chart,
			Config:   r.chartConfig(s.chart, shape, set, result),
			FitScore: round2(s.score),
		})
	}

	rec := pipeline.VisualizationRecommendation{
		Primary:      configs[0],
		Alternatives: pickAlternatives(configs),
		DataInsights: insights(shape, set, result),
		Reasoning: fmt.Sprintf("Detected a %s query with %d numeric, %d categorical and %d temporal columns; %s fits best (score %.2f).",
			shape, len(set.numeric), len(set.categorical), len(set.temporal), configs[0].Type, configs[0].FitScore),
	}
	r.log.Debug("visualize: recommendation ready", "shape", shape, "primary", rec.Primary.Type, "score", rec.Primary.FitScore)
	return rec, nil
}

// pickAlternatives takes the next two charts and makes sure the table is
// among them when it is not already the primary. Only charts the columns can
// bind are ranked, so the list is shorter than two when fewer apply.
func pickAlternatives(ranked []pipeline.ChartConfig) []pipeline.ChartConfig {
	alts := make([]pipeline.ChartConfig, 0, alternativeCount)
	for _, c := range ranked[1:] {
		if len(alts) == alternativeCount {
			break
		}
		alts = append(alts, c)
	}
	if ranked[0].Type == pipeline.ChartTable {
		return alts
	}
	for _, c := range alts {
		if c.Type == pipeline.ChartTable {
			return alts
		}
	}
	var table pipeline.ChartConfig
	for _, c := range ranked {
		if c.Type == pipeline.ChartTable {
			table = c
		}
	}
	if len(alts) == alternativeCount {
		alts[alternativeCount-1] = table
	} else {
		alts = append(alts, table)
	}
	return alts
}

// detectShape reads the query intent from the analysis and the statement's
// structure.
func detectShape(sql string, analysis pipeline.AnalysisRecord, set columnSet) Shape {
	masked := sqltext.MaskLiterals(sqltext.StripComments(sql))
	_, _, _, limited := sqltext.TrailingLimit(sqltext.Normalize(sql))
	grouped := groupByRe.MatchString(masked)
	ordered := orderByRe.MatchString(masked)
	hasMeasure := len(set.numeric) > 0
	cue := shareCueRe.MatchString(analysis.Intent.Description) || shareCueRe.MatchString(sql)

	switch {
	case len(set.temporal) > 0 && hasMeasure && (analysis.Intent.Type == pipeline.IntentTimeAnalysis || grouped || ordered):
		return ShapeTrend
	case analysis.Intent.Type == pipeline.IntentTimeAnalysis && len(set.temporal) > 0:
		return ShapeTrend
	case hasMeasure && len(set.dimensions()) > 0 && (analysis.Intent.Type == pipeline.IntentSort || (ordered && limited)):
		return ShapeRanking
	case hasMeasure && len(set.categorical) == 1 && cue:
		return ShapeShare
	case hasMeasure && len(set.dimensions()) > 0 && (grouped || analysis.Intent.Type == pipeline.IntentStatistics):
		return ShapeComparison
	case len(set.numeric) >= 2 && len(set.dimensions()) == 0:
		return ShapeRelationship
	default:
		return ShapeExploration
	}
}

// score combines the compatibility matrix with what the data allows.
func (r *Recommender) score(chart pipeline.ChartType, shape Shape, set columnSet, rows int) float64 {
	base := compatibility[shape][chart]
	if chart == pipeline.ChartTable {
		return max(base, 0.3)
	}
	if base == 0 {
		return 0
	}
	measures := len(set.numeric)
	switch chart {
	case pipeline.ChartLine, pipeline.ChartArea:
		if measures == 0 || len(set.dimensions()) == 0 {
			return 0
		}
		if len(set.temporal) == 0 {
			base *= 0.6
		}
		if rows < 3 {
			base *= 0.5
		}
	case pipeline.ChartBar:
		if measures == 0 || len(set.dimensions()) == 0 {
			return 0
		}
		if set.dimensions()[0].Distinct > r.cfg.MaxBarCategories {
			base *= 0.5
		}
	case pipeline.ChartPie:
		if measures != 1 || len(set.dimensions()) != 1 || rows > r.cfg.MaxPieSlices || rows < 2 {
			return 0
		}
		if set.numeric[0].Negatives > 0 {
			return 0
		}
		if set.numeric[0].Nulls > 0 {
			base *= 0.5
		}
	case pipeline.ChartScatter:
		if measures < 2 {
			return 0
		}
	case pipeline.ChartHeatmap:
		if measures == 0 || len(set.dimensions()) < 2 {
			return 0
		}
	}
	return base
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
