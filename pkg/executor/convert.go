package executor

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// TimeFormat is the fixed layout every datetime value is rendered with.
const TimeFormat = "2006-01-02 15:04:05"

// Portable column kinds reported in ExecutionResult.ColumnTypes.
const (
	KindInteger  = "integer"
	KindFloat    = "float"
	KindBoolean  = "boolean"
	KindDatetime = "datetime"
	KindString   = "string"
	KindBytes    = "bytes"
	KindNull     = "null"
	KindOther    = "other"
)

// convertValue turns a scanned driver value into a JSON-friendly one and
// names its kind. NULL stays nil with an empty kind.
func convertValue(v any, dbType string) (any, string) {
	switch x := v.(type) {
	case nil:
		return nil, ""
	case []byte:
		if !utf8.Valid(x) {
			return fmt.Sprintf("%x", x), KindBytes
		}
		return parseText(string(x), dbType)
	case string:
		return parseText(x, dbType)
	case time.Time:
		return x.Format(TimeFormat), KindDatetime
	case *time.Time:
		if x == nil {
			return nil, ""
		}
		return x.Format(TimeFormat), KindDatetime
	case bool:
		return x, KindBoolean
	case int:
		return int64(x), KindInteger
	case int8:
		return int64(x), KindInteger
	case int16:
		return int64(x), KindInteger
	case int32:
		return int64(x), KindInteger
	case int64:
		return x, KindInteger
	case uint8:
		return int64(x), KindInteger
	case uint16:
		return int64(x), KindInteger
	case uint32:
		return int64(x), KindInteger
	case uint64:
		return x, KindInteger
	case float32:
		return float64(x), KindFloat
	case float64:
		return x, KindFloat
	case *big.Int:
		if x == nil {
			return nil, ""
		}
		return x.String(), KindInteger
	case fmt.Stringer:
		return x.String(), KindString
	default:
		return x, KindOther
	}
}

// parseText handles drivers that return every value as text, using the
// declared database type to recover numbers.
func parseText(s, dbType string) (any, string) {
	switch kindOfDatabaseType(dbType) {
	case KindInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, KindInteger
		}
	case KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, KindFloat
		}
	case KindDatetime:
		return s, KindDatetime
	}
	return s, KindString
}

// kindOfDatabaseType maps a driver's DatabaseTypeName onto a portable kind.
func kindOfDatabaseType(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	for _, wrapper := range []string{"LOWCARDINALITY(", "NULLABLE("} {
		if strings.HasPrefix(n, wrapper) {
			n = strings.TrimSuffix(strings.TrimPrefix(n, wrapper), ")")
		}
	}
	if i := strings.IndexByte(n, '('); i != -1 {
		n = n[:i]
	}
	n = strings.TrimPrefix(n, "UNSIGNED ")
	switch {
	case n == "":
		return KindNull
	case n == "INTERVAL" || n == "POINT":
		return KindOther
	case strings.Contains(n, "INT") || n == "SERIAL" || n == "BIGSERIAL":
		return KindInteger
	case strings.Contains(n, "FLOAT") || strings.Contains(n, "DOUBLE") || strings.Contains(n, "REAL") ||
		strings.Contains(n, "DECIMAL") || strings.Contains(n, "NUMERIC") || n == "MONEY":
		return KindFloat
	case strings.Contains(n, "BOOL"):
		return KindBoolean
	case strings.Contains(n, "DATE") || strings.Contains(n, "TIME"):
		return KindDatetime
	case strings.Contains(n, "CHAR") || strings.Contains(n, "TEXT") || strings.Contains(n, "STRING") ||
		n == "UUID" || n == "ENUM" || n == "JSON" || n == "JSONB":
		return KindString
	case strings.Contains(n, "BLOB") || strings.Contains(n, "BINARY") || n == "BYTEA":
		return KindBytes
	default:
		return KindOther
	}
}
