package tether

import "context"

// belongsTo loads the inverse side of a link: the owner row carries the
// foreign key and the related table carries the referenced key.
type belongsTo struct {
	c       *Client
	owner   *Schema
	related *Schema
	desc    *RelationDescriptor
}

// Load fetches the single referenced row, or nil when the foreign key is
// absent or nothing matches. An absent key never touches storage.
func (b *belongsTo) Load(ctx context.Context, owner Entity) (any, error) {
	fk := b.owner.value(owner, b.desc.ForeignKey)
	if !fkPresent(fk) {
		return nil, nil
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(b.related.Table)
	sb.WriteString(" WHERE ")
	sb.WriteString(b.desc.OwnerKey)
	sb.WriteString(" = ? LIMIT 1")

	rows, err := b.c.runQuery(ctx, "SELECT", sb.String(), []any{fk})
	if err != nil {
		return nil, wrapRelationError(b.desc.Name, b.owner.name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return b.related.hydrate(rows[0]), nil
}

// BatchLoad resolves the relation for every owner with at most one IN query.
// Every owner's cache is seeded up front, so owners whose key matched nothing
// read as nil afterwards without further queries.
func (b *belongsTo) BatchLoad(ctx context.Context, owners []Entity) error {
	keys := make([]any, 0, len(owners))
	seen := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		o.store().SetRelation(b.desc.Name, nil)
		fk := b.owner.value(o, b.desc.ForeignKey)
		if !fkPresent(fk) {
			continue
		}
		k := keyString(fk)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, fk)
	}
	if len(keys) == 0 {
		return nil
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(b.related.Table)
	sb.WriteString(" WHERE ")
	sb.WriteString(b.desc.OwnerKey)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(keys), ", ")
	sb.WriteString(")")

	rows, err := b.c.runQuery(ctx, "SELECT", sb.String(), keys)
	if err != nil {
		return wrapRelationError(b.desc.Name, b.owner.name, err)
	}

	byKey := make(map[string]Entity, len(rows))
	for _, row := range rows {
		k := keyString(row[b.desc.OwnerKey])
		if _, ok := byKey[k]; ok {
			continue
		}
		byKey[k] = b.related.hydrate(row)
	}

	for _, o := range owners {
		fk := b.owner.value(o, b.desc.ForeignKey)
		if !fkPresent(fk) {
			continue
		}
		if e, ok := byKey[keyString(fk)]; ok {
			o.store().SetRelation(b.desc.Name, e)
		}
	}
	return nil
}

// ApplyCascade is a no-op: the owner is the child side of this link, and
// deleting a child never propagates to its parent.
func (b *belongsTo) ApplyCascade(ctx context.Context, owner Entity, policy CascadePolicy) error {
	return nil
}
