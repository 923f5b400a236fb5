package tether

import (
	"context"
)

// RelationKind identifies one of the four supported relation shapes.
type RelationKind string

const (
	// KindBelongsTo is the inverse side: the declaring model holds the
	// foreign key and references a single owner record.
	KindBelongsTo RelationKind = "belongs_to"

	// KindHasOne is a one-to-one relationship where the related table holds
	// the foreign key and at most one row matches.
	KindHasOne RelationKind = "has_one"

	// KindHasMany is a one-to-many relationship where the related table
	// holds the foreign key.
	KindHasMany RelationKind = "has_many"

	// KindBelongsToMany is a many-to-many relationship joined through a
	// pivot table with exactly two foreign key columns.
	KindBelongsToMany RelationKind = "belongs_to_many"
)

// CascadePolicy declares what happens to a relation's rows when the owner is
// destroyed. The zero value means the relation is skipped entirely.
type CascadePolicy string

const (
	// CascadeDestroy loads each dependent row and runs its own cascading
	// delete, recursing down the graph.
	CascadeDestroy CascadePolicy = "destroy"

	// CascadeDeleteAll removes dependent rows with a single statement,
	// skipping their own cascade metadata.
	CascadeDeleteAll CascadePolicy = "delete_all"

	// CascadeNullify clears the foreign key on dependent rows.
	CascadeNullify CascadePolicy = "nullify"

	// CascadeRestrict refuses the delete while dependent rows exist.
	CascadeRestrict CascadePolicy = "restrict"
)

// BelongsToConfig overrides the default keys of a belongs-to relation.
// ForeignKey lives on the declaring model, default "{name}_id". OwnerKey is
// the referenced column on the related side, default its primary key.
type BelongsToConfig struct {
	ForeignKey string
	OwnerKey   string
	OnDelete   CascadePolicy
}

// HasOneConfig overrides the default keys of a has-one relation. ForeignKey
// lives on the related model, default "{owner}_id" derived from the declaring
// table. LocalKey is the matched column on the declaring side, default its
// primary key.
type HasOneConfig struct {
	ForeignKey string
	LocalKey   string
	OnDelete   CascadePolicy
}

// HasManyConfig overrides the default keys of a has-many relation; the key
// rules match HasOneConfig.
type HasManyConfig struct {
	ForeignKey string
	LocalKey   string
	OnDelete   CascadePolicy
}

// BelongsToManyConfig overrides the defaults of a many-to-many relation.
// PivotTable defaults to the two singular table names sorted and joined with
// an underscore; the pivot key columns default to "{side}_id".
type BelongsToManyConfig struct {
	PivotTable      string
	ForeignPivotKey string
	RelatedPivotKey string
	ParentKey       string
	RelatedKey      string
	OnDelete        CascadePolicy
}

// RelationDescriptor is the registry's resolved view of one declared
// relation: its kind, the related prototype and every key it joins on.
type RelationDescriptor struct {
	Name     string
	Kind     RelationKind
	OnDelete CascadePolicy

	// Related is a prototype instance of the related model type; the
	// registry resolves its schema on demand.
	Related Entity

	// ForeignKey/OwnerKey serve BelongsTo; ForeignKey/LocalKey serve HasOne
	// and HasMany.
	ForeignKey string
	OwnerKey   string
	LocalKey   string

	// Pivot keys, BelongsToMany only.
	PivotTable      string
	ForeignPivotKey string
	RelatedPivotKey string
	ParentKey       string
	RelatedKey      string
}

// strategy is the closed per-kind loading interface. Load fetches for a
// single owner, BatchLoad fetches for many owners with one foreign-key query
// and fills every owner's relation cache, ApplyCascade evaluates a delete
// policy before the owner row goes away.
type strategy interface {
	Load(ctx context.Context, owner Entity) (any, error)
	BatchLoad(ctx context.Context, owners []Entity) error
	ApplyCascade(ctx context.Context, owner Entity, policy CascadePolicy) error
}

// strategyFor builds the loader for a resolved descriptor. The kind set is
// closed; anything else fails with a RelationError.
func (c *Client) strategyFor(owner *Schema, desc *RelationDescriptor) (strategy, error) {
	related, err := c.registry.schemaFor(desc.Related)
	if err != nil {
		return nil, wrapRelationError(desc.Name, owner.name, err)
	}

	switch desc.Kind {
	case KindBelongsTo:
		return &belongsTo{c: c, owner: owner, related: related, desc: desc}, nil
	case KindHasOne:
		return &hasOne{hasMany{c: c, owner: owner, related: related, desc: desc}}, nil
	case KindHasMany:
		return &hasMany{c: c, owner: owner, related: related, desc: desc}, nil
	case KindBelongsToMany:
		return &belongsToMany{c: c, owner: owner, related: related, desc: desc}, nil
	default:
		return nil, wrapRelationError(desc.Name, owner.name, ErrUnknownRelationKind)
	}
}
