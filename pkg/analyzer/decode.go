package analyzer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

// rawAnalysis mirrors the JSON the analyzer prompt asks for, loosely typed
// so that minor deviations in the model output still decode.
type rawAnalysis struct {
	Intent struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Complexity  string `json:"complexity"`
	} `json:"intent"`
	Entities struct {
		Primary    string     `json:"primary"`
		Secondary  stringList `json:"secondary"`
		Attributes stringList `json:"attributes"`
		Conditions stringList `json:"conditions"`
	} `json:"entities"`
	TableMapping struct {
		PrimaryTable   string     `json:"primary_table"`
		RelatedTables  stringList `json:"related_tables"`
		JoinConditions stringList `json:"join_conditions"`
		RequiredFields stringList `json:"required_fields"`
	} `json:"table_mapping"`
	QueryStructure struct {
		SelectFields     stringList      `json:"select_fields"`
		WhereConditions  stringList      `json:"where_conditions"`
		JoinRequirements stringList      `json:"join_requirements"`
		GroupByFields    stringList      `json:"group_by_fields"`
		OrderByFields    stringList      `json:"order_by_fields"`
		Limit            json.RawMessage `json:"limit"`
	} `json:"query_structure"`
	Confidence      json.RawMessage `json:"confidence"`
	PotentialIssues stringList      `json:"potential_issues"`
}

func (r *rawAnalysis) record() pipeline.AnalysisRecord {
	rec := pipeline.AnalysisRecord{
		Intent: pipeline.Intent{
			Type:        parseIntent(r.Intent.Type),
			Description: strings.TrimSpace(r.Intent.Description),
			Complexity:  pipeline.ParseComplexity(strings.ToLower(strings.TrimSpace(r.Intent.Complexity))),
		},
		Entities: pipeline.Entities{
			Primary:    strings.TrimSpace(r.Entities.Primary),
			Secondary:  r.Entities.Secondary.orEmpty(),
			Attributes: r.Entities.Attributes.orEmpty(),
			Conditions: r.Entities.Conditions.orEmpty(),
		},
		TableMapping: pipeline.TableMapping{
			PrimaryTable:   strings.TrimSpace(r.TableMapping.PrimaryTable),
			RelatedTables:  r.TableMapping.RelatedTables.orEmpty(),
			JoinConditions: r.TableMapping.JoinConditions.orEmpty(),
			RequiredFields: r.TableMapping.RequiredFields.orEmpty(),
		},
		QueryStructure: pipeline.QueryStructure{
			SelectFields:     r.QueryStructure.SelectFields.orEmpty(),
			WhereConditions:  r.QueryStructure.WhereConditions.orEmpty(),
			JoinRequirements: r.QueryStructure.JoinRequirements.orEmpty(),
			GroupByFields:    r.QueryStructure.GroupByFields.orEmpty(),
			OrderByFields:    r.QueryStructure.OrderByFields.orEmpty(),
			Limit:            parseLimit(r.QueryStructure.Limit),
		},
		Confidence:      parseConfidence(r.Confidence),
		PotentialIssues: r.PotentialIssues.orEmpty(),
		Structured:      true,
	}
	return rec
}

// parseIntent accepts the known names case-insensitively and with spaces or
// hyphens in place of underscores.
func parseIntent(s string) pipeline.IntentType {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return pipeline.ParseIntentType(s)
}

// parseConfidence reads a number or numeric string, treats values above 1 as
// percentages and clamps the result to [0, 1].
func parseConfidence(raw json.RawMessage) float64 {
	v, ok := parseNumber(raw)
	if !ok {
		return defaultConfidence
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	return min(max(v, 0), 1)
}

func parseLimit(raw json.RawMessage) *int {
	v, ok := parseNumber(raw)
	if !ok || v <= 0 {
		return nil
	}
	n := int(v)
	return &n
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// stringList decodes a JSON array of scalars, a single string or null.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		var single any
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		items = []any{single}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case nil:
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	*l = out
	return nil
}

func (l stringList) orEmpty() []string {
	if l == nil {
		return []string{}
	}
	return []string(l)
}
