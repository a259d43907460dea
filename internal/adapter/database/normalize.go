package database

import (
	"strconv"
	"strings"
	"time"
)

var (
	integerTypes = []string{"INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT", "INT2", "INT4", "INT8", "UNSIGNED"}
	decimalTypes = []string{"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8", "MONEY"}
)

func hasTypePrefix(dbType string, names []string) bool {
	upper := strings.ToUpper(dbType)
	for _, n := range names {
		if strings.HasPrefix(upper, n) {
			return true
		}
	}
	return false
}

// normalizeValue turns driver values into JSON-friendly scalars.
func normalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		s := string(x)
		if hasTypePrefix(dbType, integerTypes) {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
		if hasTypePrefix(dbType, decimalTypes) || hasTypePrefix(dbType, integerTypes) {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
		return s
	case time.Time:
		return x.Format(time.RFC3339)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}
