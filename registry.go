package tether

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

// Registry caches resolved model metadata keyed by concrete type. It is
// constructed once, carried by the Client, and safe for concurrent use:
// readers take the fast path, racing first-time registrations serialize
// through double-checked locking and recompute idempotently.
type Registry struct {
	mu      sync.RWMutex
	schemas map[reflect.Type]*Schema
	pl      *pluralize.Client
}

// NewRegistry returns an empty metadata registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[reflect.Type]*Schema),
		pl:      pluralize.NewClient(),
	}
}

// Register eagerly resolves metadata for the given entities. Types register
// themselves lazily on first use as well; eager registration only moves
// declaration mistakes to startup.
func (r *Registry) Register(entities ...Entity) error {
	for _, e := range entities {
		if _, err := r.schemaFor(e); err != nil {
			return err
		}
	}
	return nil
}

// All returns every registered schema sorted by table name.
func (r *Registry) All() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// DescribeTable returns the table binding and primary key column for e's
// type, registering it on first use.
func (r *Registry) DescribeTable(e Entity) (table, primaryKey string, err error) {
	s, err := r.schemaFor(e)
	if err != nil {
		return "", "", err
	}
	return s.Table, s.PrimaryKey, nil
}

// DescribeRelation resolves name against e's declared relations using the
// two-step naming convention. A nil descriptor with a nil error means the
// name exists but is not a relation, or does not exist at all.
func (r *Registry) DescribeRelation(e Entity, name string) (*RelationDescriptor, error) {
	s, err := r.schemaFor(e)
	if err != nil {
		return nil, err
	}
	return s.resolveRelation(name), nil
}

// schemaFor returns the cached schema for e's concrete type, building it on
// first use.
func (r *Registry) schemaFor(e Entity) (*Schema, error) {
	if e == nil {
		return nil, ErrNilEntity
	}
	t := reflect.TypeOf(e)

	r.mu.RLock()
	s, ok := r.schemas[t]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schemas[t]; ok {
		return s, nil
	}

	s, err := r.buildSchema(t, e)
	if err != nil {
		return nil, err
	}
	r.schemas[t] = s
	return s, nil
}

// buildSchema runs Configure and resolves every declared relation's default
// keys. Caller holds the write lock.
func (r *Registry) buildSchema(t reflect.Type, e Entity) (*Schema, error) {
	name := shortTypeName(t)

	d := newDefinition()
	e.Configure(d)

	if d.table == "" {
		return nil, wrapMetadataError(name, ErrNoTableBinding)
	}
	pk := d.primaryKey
	if pk == "" {
		pk = "id"
	}

	s := &Schema{
		Table:      d.table,
		PrimaryKey: pk,
		typ:        t,
		name:       name,
		prototype:  e,
		columns:    d.columns,
		accessors:  d.accessors,
		createdAt:  d.createdAt,
		updatedAt:  d.updatedAt,
		relations:  make(map[string]*RelationDescriptor, len(d.relations)),
	}

	for _, rel := range d.relations {
		desc, err := r.resolveDescriptor(s, rel)
		if err != nil {
			return nil, err
		}
		if _, dup := s.relations[desc.Name]; dup {
			return nil, wrapMetadataError(name, fmt.Errorf("duplicate relation %q", desc.Name))
		}
		s.relations[desc.Name] = desc
		s.relOrder = append(s.relOrder, desc.Name)
	}

	return s, nil
}

// resolveDescriptor fills in the default keys a declaration left blank.
// Foreign keys derive from singularized table names, so "posts" hands its
// children a "post_id" column; pivot tables join the two sorted singulars.
func (r *Registry) resolveDescriptor(owner *Schema, rel declaredRelation) (*RelationDescriptor, error) {
	if rel.related == nil {
		return nil, wrapRelationError(rel.name, owner.name, ErrNilEntity)
	}
	if rel.name == "" {
		return nil, wrapMetadataError(owner.name, fmt.Errorf("relation with empty name"))
	}

	relatedTable, relatedPK, err := r.peek(rel.related)
	if err != nil {
		return nil, wrapRelationError(rel.name, owner.name, err)
	}

	desc := &RelationDescriptor{
		Name:    rel.name,
		Kind:    rel.kind,
		Related: rel.related,
	}

	switch cfg := rel.config.(type) {
	case BelongsToConfig:
		desc.OnDelete = cfg.OnDelete
		desc.ForeignKey = cfg.ForeignKey
		if desc.ForeignKey == "" {
			desc.ForeignKey = rel.name + "_id"
		}
		desc.OwnerKey = cfg.OwnerKey
		if desc.OwnerKey == "" {
			desc.OwnerKey = relatedPK
		}

	case HasOneConfig:
		desc.OnDelete = cfg.OnDelete
		desc.ForeignKey = cfg.ForeignKey
		if desc.ForeignKey == "" {
			desc.ForeignKey = r.pl.Singular(owner.Table) + "_id"
		}
		desc.LocalKey = cfg.LocalKey
		if desc.LocalKey == "" {
			desc.LocalKey = owner.PrimaryKey
		}

	case HasManyConfig:
		desc.OnDelete = cfg.OnDelete
		desc.ForeignKey = cfg.ForeignKey
		if desc.ForeignKey == "" {
			desc.ForeignKey = r.pl.Singular(owner.Table) + "_id"
		}
		desc.LocalKey = cfg.LocalKey
		if desc.LocalKey == "" {
			desc.LocalKey = owner.PrimaryKey
		}

	case BelongsToManyConfig:
		desc.OnDelete = cfg.OnDelete
		ownerSide := r.pl.Singular(owner.Table)
		relatedSide := r.pl.Singular(relatedTable)

		desc.PivotTable = cfg.PivotTable
		if desc.PivotTable == "" {
			pair := []string{ownerSide, relatedSide}
			sort.Strings(pair)
			desc.PivotTable = pair[0] + "_" + pair[1]
		}
		desc.ForeignPivotKey = cfg.ForeignPivotKey
		if desc.ForeignPivotKey == "" {
			desc.ForeignPivotKey = ownerSide + "_id"
		}
		desc.RelatedPivotKey = cfg.RelatedPivotKey
		if desc.RelatedPivotKey == "" {
			desc.RelatedPivotKey = relatedSide + "_id"
		}
		desc.ParentKey = cfg.ParentKey
		if desc.ParentKey == "" {
			desc.ParentKey = owner.PrimaryKey
		}
		desc.RelatedKey = cfg.RelatedKey
		if desc.RelatedKey == "" {
			desc.RelatedKey = relatedPK
		}

	default:
		return nil, wrapRelationError(rel.name, owner.name, ErrUnknownRelationKind)
	}

	return desc, nil
}

// peek reads just the table binding and primary key from a type's Configure
// without resolving its full schema, so mutually related types can register
// in either order.
func (r *Registry) peek(e Entity) (table, primaryKey string, err error) {
	d := newDefinition()
	e.Configure(d)
	if d.table == "" {
		return "", "", wrapMetadataError(shortTypeName(reflect.TypeOf(e)), ErrNoTableBinding)
	}
	if d.primaryKey == "" {
		d.primaryKey = "id"
	}
	return d.table, d.primaryKey, nil
}

func shortTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Schema is the resolved, immutable metadata for one model type.
type Schema struct {
	Table      string
	PrimaryKey string

	typ       reflect.Type
	name      string
	prototype Entity
	columns   []string
	accessors map[string]Accessor
	createdAt string
	updatedAt string
	relations map[string]*RelationDescriptor
	relOrder  []string

	// relCache memoizes name resolution per lookup name; racing writers
	// store identical values.
	relCache sync.Map
}

// Name returns the model type's short name.
func (s *Schema) Name() string { return s.name }

// Columns returns the registered column names in declaration order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Relations returns the declared relation descriptors in declaration order.
func (s *Schema) Relations() []*RelationDescriptor {
	out := make([]*RelationDescriptor, 0, len(s.relOrder))
	for _, name := range s.relOrder {
		out = append(out, s.relations[name])
	}
	return out
}

func (s *Schema) hasColumn(column string) bool {
	_, ok := s.accessors[column]
	return ok
}

// value reads a registered column off an instance; nil for unknown columns.
func (s *Schema) value(e Entity, column string) any {
	a, ok := s.accessors[column]
	if !ok {
		return nil
	}
	return a.Get(e)
}

// setValue writes a registered column on an instance, reporting whether the
// column exists.
func (s *Schema) setValue(e Entity, column string, v any) bool {
	a, ok := s.accessors[column]
	if !ok {
		return false
	}
	a.Set(e, v)
	return true
}

func (s *Schema) pkValue(e Entity) any {
	return s.value(e, s.PrimaryKey)
}

func (s *Schema) setPK(e Entity, v any) {
	s.setValue(e, s.PrimaryKey, v)
}

// hydrate builds an instance from a scanned row through the type's FromRow
// hook and snapshots it for dirty checks.
func (s *Schema) hydrate(row Row) Entity {
	e := s.prototype.FromRow(row)
	if e != nil {
		s.snapshot(e)
	}
	return e
}

// resolveAttribute maps an external name to a registered column. The storage
// convention (snake_case) is tried first, then the bare name.
func (s *Schema) resolveAttribute(name string) (string, bool) {
	for _, candidate := range attributeCandidates(name) {
		if _, ok := s.accessors[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

// resolveRelation maps an external name to a relation descriptor, or nil when
// the name is not a relation. Candidates follow resolveAttribute, but the
// scan stops at the first candidate naming ANY registered field: a plain
// column under the storage convention shadows a relation declared under the
// bare name, deliberately.
func (s *Schema) resolveRelation(name string) *RelationDescriptor {
	if v, ok := s.relCache.Load(name); ok {
		desc, _ := v.(*RelationDescriptor)
		return desc
	}

	var desc *RelationDescriptor
	for _, candidate := range attributeCandidates(name) {
		if d, ok := s.relations[candidate]; ok {
			desc = d
			break
		}
		if _, ok := s.accessors[candidate]; ok {
			break
		}
	}

	s.relCache.Store(name, desc)
	return desc
}

// attributeCandidates returns the lookup name under both naming conventions,
// de-duplicated, storage convention first.
func attributeCandidates(name string) []string {
	snake := strcase.ToSnake(name)
	if snake == name {
		return []string{name}
	}
	return []string{snake, name}
}
