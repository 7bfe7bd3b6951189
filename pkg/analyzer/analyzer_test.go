package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ruochenliao/text2sql/pkg/llm"
	"github.com/ruochenliao/text2sql/pkg/llm/llmtest"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/prompts"
)

const schemaText = "Table: Customer (CustomerId INTEGER PK, FirstName TEXT, LastName TEXT)\nTable: Invoice (InvoiceId INTEGER PK, CustomerId INTEGER, Total NUMERIC)"

var tables = []string{"Customer", "Invoice"}

func newAnalyzer(t *testing.T, client llm.Client) *Analyzer {
	t.Helper()
	a, err := New(Config{
		Logger:        logger,
		Client:        client,
		Prompts:       prompts.MustLoad(),
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return a
}

func request(question string) pipeline.AnalyzeRequest {
	return pipeline.AnalyzeRequest{Question: question, Schema: schemaText, Tables: tables, DefaultTable: "Customer"}
}

func TestAnalyzer_ShowAllCustomers(t *testing.T) {
	t.Parallel()

	fake := llmtest.Reply("```json\n" + `{
  "intent": {"type": "query", "description": "List every customer", "complexity": "simple"},
  "entities": {"primary": "customer", "secondary": [], "attributes": ["first name", "last name"], "conditions": []},
  "table_mapping": {"primary_table": "customer", "related_tables": [], "join_conditions": [], "required_fields": ["Customer.CustomerId"]},
  "query_structure": {"select_fields": ["CustomerId", "FirstName", "LastName"], "where_conditions": [], "join_requirements": [],
    "group_by_fields": [], "order_by_fields": [], "limit": null},
  "confidence": 0.95,
  "potential_issues": []
}` + "\n```")
	a := newAnalyzer(t, fake)

	rec := a.Analyze(context.Background(), request("Show all customers"))
	require.True(t, rec.Structured)
	require.False(t, rec.Fallback)
	require.Equal(t, pipeline.IntentQuery, rec.Intent.Type)
	require.Equal(t, pipeline.ComplexitySimple, rec.Intent.Complexity)
	require.Equal(t, "Customer", rec.TableMapping.PrimaryTable)
	require.Equal(t, []string{"CustomerId", "FirstName", "LastName"}, rec.QueryStructure.SelectFields)
	require.Nil(t, rec.QueryStructure.Limit)
	require.InDelta(t, 0.95, rec.Confidence, 1e-9)
	require.Empty(t, rec.RawResponse)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].System(), "Table: Customer (CustomerId INTEGER PK")
	require.Equal(t, "Show all customers", calls[0].LastUser())
	require.Zero(t, calls[0].Options.Temperature)
	require.Equal(t, int64(DefaultMaxTokens), calls[0].Options.MaxTokens)
}

func TestAnalyzer_TolerantDecoding(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t, llmtest.Reply(`Here is the analysis: {
  "intent": {"type": "Time Analysis", "complexity": "MEDIUM"},
  "entities": {"primary": "invoice", "secondary": "customer"},
  "table_mapping": {"primary_table": "main.\"Invoice\"", "related_tables": ["CUSTOMER", "Invoice", "Payments"]},
  "query_structure": {"group_by_fields": ["strftime('%Y-%m', InvoiceDate)"], "limit": "12"},
  "confidence": "85%"
}`))

	rec := a.Analyze(context.Background(), request("Monthly revenue trend"))
	require.True(t, rec.Structured)
	require.Equal(t, pipeline.IntentTimeAnalysis, rec.Intent.Type)
	require.Equal(t, pipeline.ComplexityMedium, rec.Intent.Complexity)
	require.Equal(t, []string{"customer"}, rec.Entities.Secondary)
	require.Equal(t, "Invoice", rec.TableMapping.PrimaryTable)
	require.Equal(t, []string{"Customer"}, rec.TableMapping.RelatedTables)
	require.Contains(t, rec.PotentialIssues, "table Payments is not in the schema")
	require.NotNil(t, rec.QueryStructure.Limit)
	require.Equal(t, 12, *rec.QueryStructure.Limit)
	require.InDelta(t, 0.85, rec.Confidence, 1e-9)
	require.NotNil(t, rec.QueryStructure.WhereConditions)
}

func TestAnalyzer_UnknownIntentAndTable(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t, llmtest.Reply(`{"intent": {"type": "aggregate"}, "table_mapping": {"primary_table": "Clients"}, "confidence": 3}`))

	rec := a.Analyze(context.Background(), request("Summarize clients"))
	require.Equal(t, pipeline.IntentUnknown, rec.Intent.Type)
	require.Equal(t, "Customer", rec.TableMapping.PrimaryTable)
	require.Contains(t, rec.PotentialIssues, "table Clients is not in the schema")
	require.InDelta(t, 0.03, rec.Confidence, 1e-9)
}

func TestAnalyzer_UnparseableResponseDegrades(t *testing.T) {
	t.Parallel()

	fake := llmtest.Reply("The user wants to see customers.")
	a := newAnalyzer(t, fake)

	rec := a.Analyze(context.Background(), request("Show all customers"))
	require.False(t, rec.Structured)
	require.False(t, rec.Fallback)
	require.Equal(t, pipeline.IntentUnknown, rec.Intent.Type)
	require.Equal(t, "The user wants to see customers.", rec.RawResponse)
	require.Equal(t, "Customer", rec.TableMapping.PrimaryTable)
	require.InDelta(t, FallbackConfidence, rec.Confidence, 1e-9)
	require.Len(t, fake.Calls(), 1)
}

func TestAnalyzer_ModelFailureFallsBackAfterOneRetry(t *testing.T) {
	t.Parallel()

	fake := llmtest.Fail(errors.New("upstream unavailable"))
	a := newAnalyzer(t, fake)

	rec := a.Analyze(context.Background(), request("How many invoices are there?"))
	require.True(t, rec.Fallback)
	require.False(t, rec.Structured)
	require.Equal(t, pipeline.IntentStatistics, rec.Intent.Type)
	require.Equal(t, "Customer", rec.TableMapping.PrimaryTable)
	require.InDelta(t, FallbackConfidence, rec.Confidence, 1e-9)
	require.Len(t, rec.PotentialIssues, 1)
	require.Contains(t, rec.PotentialIssues[0], "upstream unavailable")
	require.Len(t, fake.Calls(), DefaultMaxTries)
}

func TestAnalyzer_EmptyQuestionSkipsModel(t *testing.T) {
	t.Parallel()

	fake := llmtest.Reply("{}")
	a := newAnalyzer(t, fake)

	rec := a.Analyze(context.Background(), request("   "))
	require.Equal(t, pipeline.IntentUnknown, rec.Intent.Type)
	require.Zero(t, rec.Confidence)
	require.Empty(t, fake.Calls())
}

func TestAnalyzer_IntentAlwaysKnown(t *testing.T) {
	t.Parallel()

	responses := []string{
		"",
		"{",
		`{"intent": null}`,
		`{"intent": {"type": 7}}`,
		`{"intent": {"type": "join"}, "confidence": -2}`,
		`[1, 2, 3]`,
	}
	for _, resp := range responses {
		rec := newAnalyzer(t, llmtest.Reply(resp)).Analyze(context.Background(), request("anything"))
		require.Contains(t, pipeline.IntentTypes, rec.Intent.Type, resp)
		require.GreaterOrEqual(t, rec.Confidence, 0.0, resp)
		require.LessOrEqual(t, rec.Confidence, 1.0, resp)
	}
}

func TestGuessIntent(t *testing.T) {
	t.Parallel()

	tests := map[string]pipeline.IntentType{
		"Show all customers":                      pipeline.IntentQuery,
		"How many invoices were issued?":          pipeline.IntentStatistics,
		"Top 5 customers by spend":                pipeline.IntentSort,
		"Revenue per month":                       pipeline.IntentTimeAnalysis,
		"Customers whose last name starts with A": pipeline.IntentFilter,
	}
	for q, want := range tests {
		require.Equal(t, want, guessIntent(q), q)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	require.ErrorContains(t, cfg.Validate(), "logger is required")

	cfg = Config{Logger: logger}
	require.ErrorContains(t, cfg.Validate(), "client is required")

	cfg = Config{Logger: logger, Client: llmtest.Reply("{}")}
	require.ErrorContains(t, cfg.Validate(), "prompts is required")

	cfg = Config{Logger: logger, Client: llmtest.Reply("{}"), Prompts: prompts.MustLoad()}
	require.NoError(t, cfg.Validate())
	require.Equal(t, uint(DefaultMaxTries), cfg.MaxTries)
}
