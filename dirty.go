package tether

import (
	"fmt"
	"reflect"
)

// Dirty tracking compares an instance's current attributes against the
// snapshot taken when it was hydrated or last saved. Hand-built instances
// carry no snapshot and count as fully dirty until their first save.

// snapshot records the instance's current column values as its originals.
// Called after hydration and after every successful insert or update.
func (s *Schema) snapshot(e Entity) {
	orig := make(Row, len(s.columns))
	for _, col := range s.columns {
		orig[col] = s.value(e, col)
	}
	e.store().original = orig
}

// Original returns the value a column held when the instance was hydrated or
// last saved. The bool is false when the instance is untracked or the name
// does not resolve to a column.
func (c *Client) Original(e Entity, name string) (any, bool) {
	if e == nil {
		return nil, false
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return nil, false
	}
	orig := e.store().original
	if orig == nil {
		return nil, false
	}
	col, ok := s.resolveAttribute(name)
	if !ok {
		return nil, false
	}
	v, ok := orig[col]
	return v, ok
}

// IsDirty reports whether any of the named attributes changed since the
// instance was hydrated or last saved. With no names it checks every column.
// Untracked instances are always dirty; names that resolve to no column are
// ignored.
func (c *Client) IsDirty(e Entity, names ...string) bool {
	if e == nil {
		return false
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return false
	}
	orig := e.store().original
	if orig == nil {
		return true
	}
	cols := s.columns
	if len(names) > 0 {
		cols = make([]string, 0, len(names))
		for _, name := range names {
			if col, ok := s.resolveAttribute(name); ok {
				cols = append(cols, col)
			}
		}
	}
	for _, col := range cols {
		if !valuesEqual(orig[col], s.value(e, col)) {
			return true
		}
	}
	return false
}

// IsClean is the negation of IsDirty.
func (c *Client) IsClean(e Entity, names ...string) bool {
	return !c.IsDirty(e, names...)
}

// Changes returns the changed non-primary-key columns mapped to their current
// values. Untracked instances report every non-primary-key column.
func (c *Client) Changes(e Entity) map[string]any {
	if e == nil {
		return nil
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return nil
	}
	orig := e.store().original
	changed := make(map[string]any)
	for _, col := range s.columns {
		if col == s.PrimaryKey {
			continue
		}
		current := s.value(e, col)
		if orig == nil || !valuesEqual(orig[col], current) {
			changed[col] = current
		}
	}
	return changed
}

// valuesEqual compares two attribute values across the type drift that scanning
// introduces: a column hydrated as int64 must compare equal to the int the
// caller assigned.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	// Interface equality panics on non-comparable dynamic types such as
	// []byte, so gate the fast path.
	if av.Comparable() && bv.Comparable() && a == b {
		return true
	}
	if av.Kind() == reflect.Pointer {
		if av.IsNil() {
			return false
		}
		av = av.Elem()
	}
	if bv.Kind() == reflect.Pointer {
		if bv.IsNil() {
			return false
		}
		bv = bv.Elem()
	}
	if !av.IsValid() || !bv.IsValid() {
		return false
	}

	ak, bk := av.Kind(), bv.Kind()
	switch {
	case isIntKind(ak) && isIntKind(bk):
		return av.Int() == bv.Int()
	case isUintKind(ak) && isUintKind(bk):
		return av.Uint() == bv.Uint()
	case isIntKind(ak) && isUintKind(bk):
		n := av.Int()
		return n >= 0 && uint64(n) == bv.Uint()
	case isUintKind(ak) && isIntKind(bk):
		n := bv.Int()
		return n >= 0 && av.Uint() == uint64(n)
	case isFloatKind(ak) && isFloatKind(bk):
		return av.Float() == bv.Float()
	case isIntKind(ak) && isFloatKind(bk):
		return float64(av.Int()) == bv.Float()
	case isFloatKind(ak) && isIntKind(bk):
		return av.Float() == float64(bv.Int())
	case ak == reflect.String && bk == reflect.String:
		return av.String() == bv.String()
	}

	if ab, ok := underlyingBytes(av); ok {
		if bb, ok := underlyingBytes(bv); ok {
			return string(ab) == string(bb)
		}
		if bk == reflect.String {
			return string(ab) == bv.String()
		}
	}
	if bb, ok := underlyingBytes(bv); ok && ak == reflect.String {
		return av.String() == string(bb)
	}

	if reflect.DeepEqual(a, b) {
		return true
	}
	// Stringly-typed last resort covers uuid arrays and driver-specific
	// wrappers that DeepEqual cannot relate.
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func underlyingBytes(v reflect.Value) ([]byte, bool) {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		return v.Bytes(), true
	}
	return nil, false
}

func isIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
