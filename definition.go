package tether

// Definition collects a model type's declared metadata while Configure runs.
// The registry turns it into an immutable Schema afterwards; a Definition is
// never shared or reused.
type Definition struct {
	table      string
	primaryKey string
	columns    []string
	accessors  map[string]Accessor
	createdAt  string
	updatedAt  string
	relations  []declaredRelation
}

// declaredRelation is a relation as written in Configure, before default keys
// are resolved.
type declaredRelation struct {
	name    string
	kind    RelationKind
	related Entity
	config  any
}

func newDefinition() *Definition {
	return &Definition{accessors: make(map[string]Accessor)}
}

// Table declares the table binding. A type whose Configure never calls Table
// cannot be registered.
func (d *Definition) Table(name string) *Definition {
	d.table = name
	return d
}

// PrimaryKey overrides the primary key column, default "id".
func (d *Definition) PrimaryKey(column string) *Definition {
	d.primaryKey = column
	return d
}

// Attribute registers the accessor pair for a column. Declaration order is
// preserved; re-declaring a column replaces its accessor in place.
func (d *Definition) Attribute(column string, a Accessor) *AttributeDef {
	if _, dup := d.accessors[column]; !dup {
		d.columns = append(d.columns, column)
	}
	d.accessors[column] = a
	return &AttributeDef{d: d, column: column}
}

// BelongsTo declares an inverse relation: this model carries the foreign key
// pointing at related.
func (d *Definition) BelongsTo(name string, related Entity, cfg BelongsToConfig) *Definition {
	d.relations = append(d.relations, declaredRelation{name: name, kind: KindBelongsTo, related: related, config: cfg})
	return d
}

// HasOne declares a one-to-one relation where related carries the foreign key.
func (d *Definition) HasOne(name string, related Entity, cfg HasOneConfig) *Definition {
	d.relations = append(d.relations, declaredRelation{name: name, kind: KindHasOne, related: related, config: cfg})
	return d
}

// HasMany declares a one-to-many relation where related carries the foreign key.
func (d *Definition) HasMany(name string, related Entity, cfg HasManyConfig) *Definition {
	d.relations = append(d.relations, declaredRelation{name: name, kind: KindHasMany, related: related, config: cfg})
	return d
}

// BelongsToMany declares a many-to-many relation joined through a pivot table.
func (d *Definition) BelongsToMany(name string, related Entity, cfg BelongsToManyConfig) *Definition {
	d.relations = append(d.relations, declaredRelation{name: name, kind: KindBelongsToMany, related: related, config: cfg})
	return d
}

// AttributeDef chains per-column flags onto a freshly declared attribute.
type AttributeDef struct {
	d      *Definition
	column string
}

// PrimaryKey marks this column as the primary key.
func (a *AttributeDef) PrimaryKey() *AttributeDef {
	a.d.primaryKey = a.column
	return a
}

// CreatedAt makes the engine stamp this column on insert.
func (a *AttributeDef) CreatedAt() *AttributeDef {
	a.d.createdAt = a.column
	return a
}

// UpdatedAt makes the engine stamp this column on insert and update.
func (a *AttributeDef) UpdatedAt() *AttributeDef {
	a.d.updatedAt = a.column
	return a
}
