package tether

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var builderPool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// getStringBuilder returns a pooled strings.Builder ready for use.
func getStringBuilder() *strings.Builder {
	return builderPool.Get().(*strings.Builder)
}

// putStringBuilder resets and returns a builder to the pool.
func putStringBuilder(sb *strings.Builder) {
	sb.Reset()
	builderPool.Put(sb)
}

// writePlaceholders writes n placeholders separated by sep, e.g. "?, ?, ?".
func writePlaceholders(sb *strings.Builder, n int, sep string) {
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteByte('?')
	}
}

// keyString converts a key value to its canonical string form so values of
// different numeric widths group together. Byte slices and fmt.Stringer
// implementations (uuid and friends) are rendered as text.
func keyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case int:
		return strconv.FormatInt(int64(k), 10)
	case int8:
		return strconv.FormatInt(int64(k), 10)
	case int16:
		return strconv.FormatInt(int64(k), 10)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int64:
		return strconv.FormatInt(k, 10)
	case uint:
		return strconv.FormatUint(uint64(k), 10)
	case uint8:
		return strconv.FormatUint(uint64(k), 10)
	case uint16:
		return strconv.FormatUint(uint64(k), 10)
	case uint32:
		return strconv.FormatUint(uint64(k), 10)
	case uint64:
		return strconv.FormatUint(k, 10)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// pkPresent reports whether a primary key value marks the row as persisted.
// Nil, non-positive numbers and empty strings mean the row was never saved.
func pkPresent(v any) bool {
	switch k := v.(type) {
	case nil:
		return false
	case int:
		return k > 0
	case int8:
		return k > 0
	case int16:
		return k > 0
	case int32:
		return k > 0
	case int64:
		return k > 0
	case uint:
		return k > 0
	case uint8:
		return k > 0
	case uint16:
		return k > 0
	case uint32:
		return k > 0
	case uint64:
		return k > 0
	case float32:
		return k > 0
	case float64:
		return k > 0
	case string:
		return k != ""
	case []byte:
		return len(k) > 0
	default:
		return keyString(v) != ""
	}
}

// fkPresent reports whether a foreign key value points at anything.
// Nil, numeric zero and empty strings are treated as "no reference".
func fkPresent(v any) bool {
	switch k := v.(type) {
	case nil:
		return false
	case int:
		return k != 0
	case int8:
		return k != 0
	case int16:
		return k != 0
	case int32:
		return k != 0
	case int64:
		return k != 0
	case uint:
		return k != 0
	case uint8:
		return k != 0
	case uint16:
		return k != 0
	case uint32:
		return k != 0
	case uint64:
		return k != 0
	case float32:
		return k != 0
	case float64:
		return k != 0
	case string:
		return k != ""
	case []byte:
		return len(k) > 0
	case bool:
		return k
	default:
		return keyString(v) != ""
	}
}

// validateIdentifier rejects column names that cannot be safely interpolated
// into SQL text. Metadata-derived identifiers are trusted; this guards the
// builder methods that accept caller-supplied column names.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty column name", ErrInvalidQuery)
	}
	dots := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return fmt.Errorf("%w: column name %q starts with a digit", ErrInvalidQuery, name)
			}
		case c == '.':
			dots++
			if dots > 1 || i == 0 || i == len(name)-1 {
				return fmt.Errorf("%w: malformed column name %q", ErrInvalidQuery, name)
			}
		default:
			return fmt.Errorf("%w: column name %q contains invalid character %q", ErrInvalidQuery, name, string(c))
		}
	}
	return nil
}
