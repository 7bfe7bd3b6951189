package visualize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruochenliao/text2sql/pkg/executor"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

func newRecommender(t *testing.T) *Recommender {
	t.Helper()
	r, err := New(Config{Logger: logger})
	require.NoError(t, err)
	return r
}

func result(columns []string, types map[string]string, rows ...[]any) *pipeline.ExecutionResult {
	res := &pipeline.ExecutionResult{
		Success:     true,
		Columns:     columns,
		ColumnTypes: types,
		Data:        []pipeline.Record{},
	}
	for _, row := range rows {
		rec := pipeline.Record{}
		for i, c := range columns {
			rec[c] = row[i]
		}
		res.Data = append(res.Data, rec)
	}
	res.RowCount = len(res.Data)
	return res
}

func chartTypes(cfgs []pipeline.ChartConfig) []pipeline.ChartType {
	out := make([]pipeline.ChartType, len(cfgs))
	for i, c := range cfgs {
		out[i] = c.Type
	}
	return out
}

func TestRecommend_EmptyResultDegradesToTable(t *testing.T) {
	t.Parallel()

	res := result([]string{"CustomerId", "FirstName"}, map[string]string{})
	rec, err := newRecommender(t).Recommend("SELECT CustomerId, FirstName FROM Customer WHERE 1 = 0;", res, pipeline.AnalysisRecord{})
	require.NoError(t, err)
	require.Equal(t, pipeline.ChartTable, rec.Primary.Type)
	require.Empty(t, rec.Alternatives)
	require.NotEmpty(t, rec.DataInsights)
	require.Contains(t, rec.DataInsights[0], "no rows")
	require.Equal(t, []string{"CustomerId", "FirstName"}, rec.Primary.Config["columns"])
}

func TestRecommend_Trend(t *testing.T) {
	t.Parallel()

	res := result([]string{"month", "total"},
		map[string]string{"month": executor.KindString, "total": executor.KindFloat},
		[]any{"2024-01", 10.0}, []any{"2024-02", 20.0}, []any{"2024-03", 30.0}, []any{"2024-04", 40.0},
	)
	analysis := pipeline.AnalysisRecord{Intent: pipeline.Intent{Type: pipeline.IntentTimeAnalysis}}
	sql := "SELECT strftime('%Y-%m', InvoiceDate) AS month, SUM(Total) AS total FROM Invoice GROUP BY month ORDER BY month;"

	rec, err := newRecommender(t).Recommend(sql, res, analysis)
	require.NoError(t, err)
	require.Equal(t, pipeline.ChartLine, rec.Primary.Type)
	require.Equal(t, 0.95, rec.Primary.FitScore)
	require.Equal(t, []pipeline.ChartType{pipeline.ChartArea, pipeline.ChartTable}, chartTypes(rec.Alternatives))
	require.Equal(t, "month", rec.Primary.Config["x"])
	require.Equal(t, []string{"total"}, rec.Primary.Config["y"])
	require.Equal(t, "time", rec.Primary.Config["x_type"])
	require.Equal(t, "none", rec.Primary.Config["aggregation"])
	require.Contains(t, rec.DataInsights, "total ranges from 10 to 40 (average 25).")
	require.Contains(t, rec.DataInsights, "total changed by +300.0% from the first to the last month.")
	require.Contains(t, rec.Reasoning, "trend")
}

func TestRecommend_Ranking(t *testing.T) {
	t.Parallel()

	res := result([]string{"FirstName", "spend"},
		map[string]string{"FirstName": executor.KindString, "spend": executor.KindFloat},
		[]any{"Helena", 49.62}, []any{"Richard", 47.62}, []any{"Luis", 46.62}, []any{"Ladislav", 45.62}, []any{"Hugh", 45.62},
	)
	analysis := pipeline.AnalysisRecord{Intent: pipeline.Intent{Type: pipeline.IntentSort}}
	sql := "SELECT c.FirstName, SUM(i.Total) AS spend FROM Customer c JOIN Invoice i ON i.CustomerId = c.CustomerId GROUP BY c.FirstName ORDER BY spend DESC LIMIT 5;"

	rec, err := newRecommender(t).Recommend(sql, res, analysis)
	require.NoError(t, err)
	require.Equal(t, pipeline.ChartBar, rec.Primary.Type)
	require.Equal(t, "horizontal", rec.Primary.Config["orientation"])
	require.Equal(t, "desc", rec.Primary.Config["sort"])
	require.Equal(t, []pipeline.ChartType{pipeline.ChartTable, pipeline.ChartPie}, chartTypes(rec.Alternatives))
	require.Contains(t, rec.DataInsights, "Helena has the highest spend.")
}

func TestRecommend_Share(t *testing.T) {
	t.Parallel()

	res := result([]string{"Genre", "tracks"},
		map[string]string{"Genre": executor.KindString, "tracks": executor.KindInteger},
		[]any{"Rock", int64(1297)}, []any{"Latin", int64(579)}, []any{"Metal", int64(374)},
	)
	analysis := pipeline.AnalysisRecord{Intent: pipeline.Intent{Type: pipeline.IntentStatistics, Description: "Share of tracks per genre"}}

	rec, err := newRecommender(t).Recommend("SELECT g.Name AS Genre, COUNT(*) AS tracks FROM Track t JOIN Genre g ON g.GenreId = t.GenreId GROUP BY g.Name;", res, analysis)
	require.NoError(t, err)
	require.Equal(t, pipeline.ChartPie, rec.Primary.Type)
	require.Equal(t, "Genre", rec.Primary.Config["label"])
	require.Equal(t, "tracks", rec.Primary.Config["value"])
	require.Equal(t, []pipeline.ChartType{pipeline.ChartBar, pipeline.ChartTable}, chartTypes(rec.Alternatives))
}

func TestRecommend_PieRejectsNegativeValues(t *testing.T) {
	t.Parallel()

	res := result([]string{"region", "margin"},
		map[string]string{"region": executor.KindString, "margin": executor.KindFloat},
		[]any{"east", 12.5}, []any{"west", -3.0}, []any{"north", 4.0},
	)
	analysis := pipeline.AnalysisRecord{Intent: pipeline.Intent{Type: pipeline.IntentStatistics, Description: "margin distribution by region"}}

	rec, err := newRecommender(t).Recommend("SELECT region, margin FROM sales_summary;", res, analysis)
	require.NoError(t, err)
	require.Equal(t, pipeline.ChartBar, rec.Primary.Type)
	require.NotContains(t, chartTypes(rec.Alternatives), pipeline.ChartPie)
}

func TestRecommend_Relationship(t *testing.T) {
	t.Parallel()

	res := result([]string{"Milliseconds", "Bytes"},
		map[string]string{"Milliseconds": executor.KindInteger, "Bytes": executor.KindInteger},
		[]any{int64(343719), int64(11170334)}, []any{int64(342562), int64(5510424)}, []any{int64(230619), int64(3990994)},
	)

	rec, err := newRecommender(t).Recommend("SELECT Milliseconds, Bytes FROM Track;", res, pipeline.AnalysisRecord{})
	require.NoError(t, err)
	require.Equal(t, pipeline.ChartScatter, rec.Primary.Type)
	require.Equal(t, "Milliseconds", rec.Primary.Config["x"])
	require.Equal(t, "Bytes", rec.Primary.Config["y"])
	require.Equal(t, []pipeline.ChartType{pipeline.ChartTable}, chartTypes(rec.Alternatives))
}

func TestRecommend_ListingIsExplored(t *testing.T) {
	t.Parallel()

	res := result([]string{"CustomerId", "FirstName", "LastName"},
		map[string]string{"CustomerId": executor.KindInteger, "FirstName": executor.KindString, "LastName": executor.KindString},
		[]any{int64(1), "Luís", "Gonçalves"}, []any{int64(2), "Leonie", "Köhler"}, []any{int64(3), "François", nil},
	)
	analysis := pipeline.AnalysisRecord{Intent: pipeline.Intent{Type: pipeline.IntentQuery}}

	rec, err := newRecommender(t).Recommend("SELECT CustomerId, FirstName, LastName FROM Customer LIMIT 100;", res, analysis)
	require.NoError(t, err)
	require.Equal(t, pipeline.ChartTable, rec.Primary.Type)
	require.Contains(t, rec.Reasoning, "exploration")
	// No measure column: nothing but the table can be drawn.
	require.Empty(t, rec.Alternatives)
	require.Contains(t, rec.DataInsights, "LastName contains 1 null value.")
	require.Contains(t, rec.DataInsights, "3 rows across 3 columns.")
}

func TestRecommend_TableAlwaysOffered(t *testing.T) {
	t.Parallel()

	r := newRecommender(t)
	results := []*pipeline.ExecutionResult{
		result([]string{"day", "n"}, map[string]string{"day": executor.KindDatetime, "n": executor.KindInteger},
			[]any{"2024-01-01 00:00:00", int64(1)}, []any{"2024-01-02 00:00:00", int64(4)}, []any{"2024-01-03 00:00:00", int64(2)}),
		result([]string{"a", "b", "c"}, map[string]string{"a": executor.KindString, "b": executor.KindString, "c": executor.KindFloat},
			[]any{"x", "p", 1.0}, []any{"y", "q", 2.0}),
		result([]string{"v"}, map[string]string{"v": executor.KindFloat}, []any{1.5}),
	}
	for _, res := range results {
		rec, err := r.Recommend("SELECT * FROM t GROUP BY 1;", res, pipeline.AnalysisRecord{})
		require.NoError(t, err)
		types := append([]pipeline.ChartType{rec.Primary.Type}, chartTypes(rec.Alternatives)...)
		require.Contains(t, types, pipeline.ChartTable)
		require.LessOrEqual(t, len(rec.Alternatives), 2)
		require.NotEmpty(t, rec.DataInsights)
	}
}

func TestRecommend_FailedResult(t *testing.T) {
	t.Parallel()

	_, err := newRecommender(t).Recommend("SELECT 1;", &pipeline.ExecutionResult{Success: false}, pipeline.AnalysisRecord{})
	require.ErrorIs(t, err, ErrNoResult)

	_, err = newRecommender(t).Recommend("SELECT 1;", nil, pipeline.AnalysisRecord{})
	require.ErrorIs(t, err, ErrNoResult)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		kind   string
		values []any
		want   Role
	}{
		{"Total", executor.KindFloat, []any{1.5}, RoleNumeric},
		{"CustomerId", executor.KindInteger, []any{int64(1)}, RoleCategorical},
		{"customer_id", executor.KindInteger, []any{int64(1)}, RoleCategorical},
		{"paid", executor.KindInteger, []any{int64(1)}, RoleNumeric},
		{"year", executor.KindInteger, []any{int64(2024)}, RoleTemporal},
		{"InvoiceDate", executor.KindDatetime, []any{"2024-01-01 00:00:00"}, RoleTemporal},
		{"InvoiceDate", executor.KindString, []any{"2024-01-01 00:00:00", "2024-01-02T10:00:00Z"}, RoleTemporal},
		{"amount", executor.KindString, []any{"1.5", "2"}, RoleNumeric},
		{"Country", executor.KindString, []any{"USA", "Canada"}, RoleCategorical},
		{"active", executor.KindBoolean, []any{true}, RoleCategorical},
		{"empty", "", nil, RoleCategorical},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.kind, func(t *testing.T) {
			require.Equal(t, tt.want, classify(tt.name, tt.kind, tt.values))
		})
	}
}
