package tether

// Model is the embeddable base for entity types. It carries the per-instance
// relation cache that eager and lazy loading both populate, and the attribute
// snapshot taken at hydration that dirty checks compare against. Instances are
// request-scoped; neither map is safe for concurrent mutation.
type Model struct {
	relations map[string]any
	original  Row
}

func (m *Model) store() *Model { return m }

// Relation returns the cached value for a relation and whether it was ever
// loaded. A loaded-but-missing single relation yields (nil, true).
func (m *Model) Relation(name string) (any, bool) {
	if m.relations == nil {
		return nil, false
	}
	v, ok := m.relations[name]
	return v, ok
}

// SetRelation stores a loaded relation value in the cache, replacing any
// previous value under the same name.
func (m *Model) SetRelation(name string, value any) {
	if m.relations == nil {
		m.relations = make(map[string]any)
	}
	m.relations[name] = value
}

// ForgetRelation drops a cached relation so the next access reloads it.
func (m *Model) ForgetRelation(name string) {
	delete(m.relations, name)
}

// RelationLoaded reports whether a relation has been loaded into the cache.
func (m *Model) RelationLoaded(name string) bool {
	_, ok := m.relations[name]
	return ok
}

// Related returns a cached single-value relation asserted to the concrete
// type, e.g. Related[*User](post, "author"). The bool is false when the
// relation was never loaded, loaded empty, or holds a different type.
func Related[E Entity](e Entity, name string) (E, bool) {
	var zero E
	if e == nil {
		return zero, false
	}
	v, ok := e.store().Relation(name)
	if !ok || v == nil {
		return zero, false
	}
	out, ok := v.(E)
	if !ok {
		return zero, false
	}
	return out, true
}

// RelatedSlice returns a cached many-value relation converted to a concrete
// slice, e.g. RelatedSlice[*Comment](post, "comments").
func RelatedSlice[E Entity](e Entity, name string) ([]E, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.store().Relation(name)
	if !ok {
		return nil, false
	}
	entities, ok := v.([]Entity)
	if !ok {
		return nil, false
	}
	out := make([]E, 0, len(entities))
	for _, ent := range entities {
		typed, ok := ent.(E)
		if !ok {
			return nil, false
		}
		out = append(out, typed)
	}
	return out, true
}
