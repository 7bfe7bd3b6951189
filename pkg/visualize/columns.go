package visualize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/executor"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

// Role is how a result column can be used in a chart.
type Role string

const (
	RoleNumeric     Role = "numeric"
	RoleCategorical Role = "categorical"
	RoleTemporal    Role = "temporal"
)

// Column is the profile of one result column.
type Column struct {
	Name     string
	Role     Role
	Distinct int
	Nulls    int
	// Negatives counts values below zero in numeric columns.
	Negatives int
}

var (
	datePatternRe  = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2})?([ T]\d{2}:\d{2}(:\d{2}(\.\d+)?)?)?(Z|[+-]\d{2}:?\d{2})?$`)
	temporalNameRe = regexp.MustCompile(`(?i)(^|_)(date|day|week|month|quarter|year|period|time|timestamp)s?$|(date|day|month|year)$`)
	identifierRe   = regexp.MustCompile(`^(?i:id)$|(?i:_id)$|[a-z](Id|ID)$`)
)

// profileColumns classifies every column of a successful result from its
// declared kind, its name and a scan of its values.
func profileColumns(res *pipeline.ExecutionResult) []Column {
	cols := make([]Column, 0, len(res.Columns))
	for _, name := range res.Columns {
		col := Column{Name: name}
		seen := make(map[string]struct{})
		var values []any
		for _, rec := range res.Data {
			v := rec[name]
			if v == nil {
				col.Nulls++
				continue
			}
			values = append(values, v)
			seen[fmt.Sprint(v)] = struct{}{}
		}
		col.Distinct = len(seen)
		col.Role = classify(name, res.ColumnTypes[name], values)
		if col.Role == RoleNumeric {
			for _, v := range values {
				if f, ok := toFloat(v); ok && f < 0 {
					col.Negatives++
				}
			}
		}
		cols = append(cols, col)
	}
	return cols
}

func classify(name, kind string, values []any) Role {
	switch kind {
	case executor.KindDatetime:
		return RoleTemporal
	case executor.KindInteger, executor.KindFloat:
		if identifierRe.MatchString(name) {
			return RoleCategorical
		}
		if kind == executor.KindInteger && temporalNameRe.MatchString(name) {
			return RoleTemporal
		}
		return RoleNumeric
	case executor.KindBoolean, executor.KindBytes:
		return RoleCategorical
	}

	if len(values) == 0 {
		return RoleCategorical
	}
	dates, numbers := 0, 0
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			if _, isNum := toFloat(v); isNum {
				numbers++
			}
			continue
		}
		s = strings.TrimSpace(s)
		if datePatternRe.MatchString(s) {
			dates++
		} else if _, err := strconv.ParseFloat(s, 64); err == nil {
			numbers++
		}
	}
	switch {
	case dates*5 >= len(values)*4:
		return RoleTemporal
	case numbers == len(values) && !identifierRe.MatchString(name):
		return RoleNumeric
	default:
		return RoleCategorical
	}
}

// toFloat converts the numeric values the executor produces.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type columnSet struct {
	all         []Column
	numeric     []Column
	categorical []Column
	temporal    []Column
}

func groupColumns(cols []Column) columnSet {
	set := columnSet{all: cols}
	for _, c := range cols {
		switch c.Role {
		case RoleNumeric:
			set.numeric = append(set.numeric, c)
		case RoleTemporal:
			set.temporal = append(set.temporal, c)
		default:
			set.categorical = append(set.categorical, c)
		}
	}
	return set
}

// dimensions are the columns usable on a category axis, temporal first.
func (s columnSet) dimensions() []Column {
	return append(append([]Column{}, s.temporal...), s.categorical...)
}
