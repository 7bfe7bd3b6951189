// Package fixtures renders and loads the sample Chinook-style database used
// by demos and tests.
package fixtures

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.sql.tmpl
var templatesFS embed.FS

// seq generates a sequence of integers from start to end (inclusive)
func seq(start, end int) []int {
	if start > end {
		return []int{}
	}
	result := make([]int, end-start+1)
	for i := range result {
		result[i] = start + i
	}
	return result
}

// quote renders s as a single-quoted SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var templateFuncs = template.FuncMap{
	"seq":   seq,
	"quote": quote,
}

// RenderTemplate renders a template string with the given data
func RenderTemplate(templateContent string, data any) (string, error) {
	var buf bytes.Buffer
	tmpl := template.New("").Funcs(templateFuncs)
	tmpl, err := tmpl.Parse(templateContent)
	if err != nil {
		return "", err
	}
	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderEmbedded renders one of the embedded templates by file name.
func renderEmbedded(name string, data any) (string, error) {
	content, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return RenderTemplate(string(content), data)
}
