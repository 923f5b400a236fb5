package tether

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Row is a scanned result row keyed by column name. FromRow hooks read typed
// values out of it with the helpers below; drivers disagree on wire types
// (sqlite hands back int64, mysql []byte), so every helper coerces.
type Row map[string]any

// Has reports whether the row carries the column at all.
func (r Row) Has(column string) bool {
	_, ok := r[column]
	return ok
}

// Null reports whether the column is present but NULL.
func (r Row) Null(column string) bool {
	v, ok := r[column]
	return ok && v == nil
}

// Int returns the column as int64, zero when absent or NULL.
func (r Row) Int(column string) int64 {
	return AsInt(r[column])
}

// String returns the column as string, empty when absent or NULL.
func (r Row) String(column string) string {
	return AsString(r[column])
}

// Float returns the column as float64, zero when absent or NULL.
func (r Row) Float(column string) float64 {
	return AsFloat(r[column])
}

// Bool returns the column as bool, false when absent or NULL.
func (r Row) Bool(column string) bool {
	return AsBool(r[column])
}

// Time returns the column as time.Time, the zero time when absent or NULL.
func (r Row) Time(column string) time.Time {
	return AsTime(r[column])
}

// AsInt coerces a driver value to int64.
func AsInt(v any) int64 {
	switch k := v.(type) {
	case nil:
		return 0
	case int64:
		return k
	case int:
		return int64(k)
	case int8:
		return int64(k)
	case int16:
		return int64(k)
	case int32:
		return int64(k)
	case uint:
		return int64(k)
	case uint8:
		return int64(k)
	case uint16:
		return int64(k)
	case uint32:
		return int64(k)
	case uint64:
		return int64(k)
	case float32:
		return int64(k)
	case float64:
		return int64(k)
	case bool:
		if k {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(k, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(k), 10, 64)
		return n
	case sql.NullInt64:
		if k.Valid {
			return k.Int64
		}
		return 0
	default:
		return 0
	}
}

// AsString coerces a driver value to string.
func AsString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case sql.NullString:
		if k.Valid {
			return k.String
		}
		return ""
	case time.Time:
		return k.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// AsFloat coerces a driver value to float64.
func AsFloat(v any) float64 {
	switch k := v.(type) {
	case nil:
		return 0
	case float64:
		return k
	case float32:
		return float64(k)
	case int64:
		return float64(k)
	case int:
		return float64(k)
	case int32:
		return float64(k)
	case uint64:
		return float64(k)
	case string:
		f, _ := strconv.ParseFloat(k, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(k), 64)
		return f
	case sql.NullFloat64:
		if k.Valid {
			return k.Float64
		}
		return 0
	default:
		return 0
	}
}

// AsBool coerces a driver value to bool. Numeric values follow SQL semantics
// where any non-zero value is true.
func AsBool(v any) bool {
	switch k := v.(type) {
	case nil:
		return false
	case bool:
		return k
	case int64:
		return k != 0
	case int:
		return k != 0
	case string:
		b, _ := strconv.ParseBool(k)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(k))
		return b
	case sql.NullBool:
		return k.Valid && k.Bool
	default:
		return AsInt(v) != 0
	}
}

// timeLayouts are tried in order when a driver returns timestamps as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime coerces a driver value to time.Time.
func AsTime(v any) time.Time {
	switch k := v.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return k
	case sql.NullTime:
		if k.Valid {
			return k.Time
		}
		return time.Time{}
	case string:
		return parseTime(k)
	case []byte:
		return parseTime(string(k))
	case int64:
		return time.Unix(k, 0)
	default:
		return time.Time{}
	}
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// normalizeValue maps driver bytes to string so Row values compare and print
// predictably across drivers. Everything else passes through.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
