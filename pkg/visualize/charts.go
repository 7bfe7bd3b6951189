package visualize

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

// TableOnly is the recommendation used when nothing can be charted: zero
// rows, or a recommender failure the coordinator degrades from.
func TableOnly(result *pipeline.ExecutionResult, insight string) pipeline.VisualizationRecommendation {
	var columns []string
	if result != nil {
		columns = result.Columns
	}
	if columns == nil {
		columns = []string{}
	}
	return pipeline.VisualizationRecommendation{
		Primary: pipeline.ChartConfig{
			Type:     pipeline.ChartTable,
			Config:   map[string]any{"columns": columns, "page_size": DefaultPageSize, "sortable": true},
			FitScore: 1,
		},
		Alternatives: []pipeline.ChartConfig{},
		DataInsights: []string{insight},
		Reasoning:    "A table is the only view that applies to this result.",
	}
}

func (r *Recommender) chartConfig(chart pipeline.ChartType, shape Shape, set columnSet, res *pipeline.ExecutionResult) map[string]any {
	if chart == pipeline.ChartTable {
		return map[string]any{
			"columns":   res.Columns,
			"page_size": DefaultPageSize,
			"sortable":  true,
		}
	}

	var dim Column
	if dims := set.dimensions(); len(dims) > 0 {
		dim = dims[0]
	}
	measures := names(set.numeric)
	cfg := map[string]any{"color_scheme": r.cfg.ColorScheme}

	switch chart {
	case pipeline.ChartBar:
		cfg["x"] = dim.Name
		cfg["y"] = measures
		cfg["aggregation"] = aggregation(dim, res.RowCount)
		if shape == ShapeRanking {
			cfg["orientation"] = "horizontal"
			cfg["sort"] = "desc"
		} else {
			cfg["orientation"] = "vertical"
		}
	case pipeline.ChartLine, pipeline.ChartArea:
		cfg["x"] = dim.Name
		cfg["y"] = measures
		cfg["aggregation"] = aggregation(dim, res.RowCount)
		if dim.Role == RoleTemporal {
			cfg["x_type"] = "time"
		} else {
			cfg["x_type"] = "category"
		}
		if chart == pipeline.ChartArea {
			cfg["stacked"] = len(measures) > 1
		}
	case pipeline.ChartPie:
		cfg["label"] = dim.Name
		cfg["value"] = measures[0]
		cfg["show_percent"] = true
	case pipeline.ChartScatter:
		cfg["x"] = measures[0]
		cfg["y"] = measures[1]
		if dim.Name != "" {
			cfg["color"] = dim.Name
		}
	case pipeline.ChartHeatmap:
		dims := set.dimensions()
		cfg["x"] = dims[0].Name
		cfg["y"] = dims[1].Name
		cfg["value"] = measures[0]
		cfg["aggregation"] = "sum"
	}
	return cfg
}

// aggregation is "sum" when the axis column repeats values, so the renderer
// must combine rows per tick.
func aggregation(dim Column, rows int) string {
	if dim.Distinct < rows-dim.Nulls {
		return "sum"
	}
	return "none"
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func insights(shape Shape, set columnSet, res *pipeline.ExecutionResult) []string {
	out := []string{fmt.Sprintf("%d row%s across %d column%s.", res.RowCount, plural(res.RowCount), len(res.Columns), plural(len(res.Columns)))}
	if res.Truncated {
		out = append(out, fmt.Sprintf("The result was capped at %d rows; more rows match the query.", res.RowCount))
	}

	if len(set.numeric) > 0 {
		m := set.numeric[0]
		if lo, hi, avg, ok := stats(res, m.Name); ok {
			out = append(out, fmt.Sprintf("%s ranges from %s to %s (average %s).", m.Name, format(lo), format(hi), format(avg)))
		}
		if shape == ShapeTrend && len(set.temporal) > 0 {
			if first, last, ok := endpoints(res, m.Name); ok && first != 0 {
				change := (last - first) / math.Abs(first) * 100
				out = append(out, fmt.Sprintf("%s changed by %+.1f%% from the first to the last %s.", m.Name, change, set.temporal[0].Name))
			}
		}
		if shape == ShapeRanking || shape == ShapeComparison || shape == ShapeShare {
			if top, ok := leader(res, set.dimensions()[0].Name, m.Name); ok {
				out = append(out, fmt.Sprintf("%s has the highest %s.", top, m.Name))
			}
		}
	}
	if len(set.categorical) > 0 {
		c := set.categorical[0]
		out = append(out, fmt.Sprintf("%s has %d distinct value%s.", c.Name, c.Distinct, plural(c.Distinct)))
	}
	for _, c := range set.all {
		if c.Nulls > 0 {
			out = append(out, fmt.Sprintf("%s contains %d null value%s.", c.Name, c.Nulls, plural(c.Nulls)))
		}
	}
	return out
}

func stats(res *pipeline.ExecutionResult, col string) (lo, hi, avg float64, ok bool) {
	n := 0
	sum := 0.0
	for _, rec := range res.Data {
		f, isNum := toFloat(rec[col])
		if !isNum {
			continue
		}
		if n == 0 || f < lo {
			lo = f
		}
		if n == 0 || f > hi {
			hi = f
		}
		sum += f
		n++
	}
	if n == 0 {
		return 0, 0, 0, false
	}
	return lo, hi, sum / float64(n), true
}

func endpoints(res *pipeline.ExecutionResult, col string) (first, last float64, ok bool) {
	found := false
	for _, rec := range res.Data {
		f, isNum := toFloat(rec[col])
		if !isNum {
			continue
		}
		if !found {
			first, found = f, true
		}
		last = f
	}
	return first, last, found
}

func leader(res *pipeline.ExecutionResult, dim, measure string) (string, bool) {
	best, bestVal, found := "", 0.0, false
	for _, rec := range res.Data {
		f, isNum := toFloat(rec[measure])
		if !isNum || rec[dim] == nil {
			continue
		}
		if !found || f > bestVal {
			best, bestVal, found = fmt.Sprint(rec[dim]), f, true
		}
	}
	return best, found
}

func format(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
