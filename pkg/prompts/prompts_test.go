package prompts

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	p, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, p.Analyze)
	require.NotEmpty(t, p.Generate)
	require.NotEmpty(t, p.Explain)
	for _, d := range dialect.All {
		require.NotEmpty(t, p.DialectNotes(d), "missing notes for %s", d)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	p := MustLoad()

	analyze := p.AnalyzeSystem("Table: Customer (CustomerId)")
	require.Contains(t, analyze, "Table: Customer (CustomerId)")
	require.NotContains(t, analyze, "{{")

	gen := p.GenerateSystem("Table: Customer (CustomerId)", dialect.PostgreSQL, 250)
	require.Contains(t, gen, "postgres")
	require.Contains(t, gen, "date_trunc")
	require.Contains(t, gen, "250")
	require.NotContains(t, gen, "{{")

	require.NotContains(t, p.ExplainSystem("x"), "{{")
}
