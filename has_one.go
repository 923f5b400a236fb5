package tether

import "context"

// hasOne is a one-row hasMany: same key layout, single result. It embeds
// hasMany and narrows loading to the first matching row per owner.
type hasOne struct {
	hasMany
}

// Load fetches the single dependent row, or nil when the owner has no usable
// local key or nothing matches.
func (h *hasOne) Load(ctx context.Context, owner Entity) (any, error) {
	local := h.owner.value(owner, h.desc.LocalKey)
	if !fkPresent(local) {
		return nil, nil
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(h.related.Table)
	sb.WriteString(" WHERE ")
	sb.WriteString(h.desc.ForeignKey)
	sb.WriteString(" = ? LIMIT 1")

	rows, err := h.c.runQuery(ctx, "SELECT", sb.String(), []any{local})
	if err != nil {
		return nil, wrapRelationError(h.desc.Name, h.owner.name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return h.related.hydrate(rows[0]), nil
}

// BatchLoad seeds every owner with nil and keeps the first matching row per
// key from a single IN query.
func (h *hasOne) BatchLoad(ctx context.Context, owners []Entity) error {
	keys := make([]any, 0, len(owners))
	seen := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		o.store().SetRelation(h.desc.Name, nil)
		local := h.owner.value(o, h.desc.LocalKey)
		if !fkPresent(local) {
			continue
		}
		k := keyString(local)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, local)
	}
	if len(keys) == 0 {
		return nil
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(h.related.Table)
	sb.WriteString(" WHERE ")
	sb.WriteString(h.desc.ForeignKey)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(keys), ", ")
	sb.WriteString(")")

	rows, err := h.c.runQuery(ctx, "SELECT", sb.String(), keys)
	if err != nil {
		return wrapRelationError(h.desc.Name, h.owner.name, err)
	}

	byKey := make(map[string]Entity, len(keys))
	for _, row := range rows {
		k := keyString(row[h.desc.ForeignKey])
		if _, ok := byKey[k]; ok {
			continue
		}
		byKey[k] = h.related.hydrate(row)
	}

	for _, o := range owners {
		local := h.owner.value(o, h.desc.LocalKey)
		if !fkPresent(local) {
			continue
		}
		if e, ok := byKey[keyString(local)]; ok {
			o.store().SetRelation(h.desc.Name, e)
		}
	}
	return nil
}

// ApplyCascade destroys the single dependent row through its own cascades;
// every other policy behaves exactly like hasMany.
func (h *hasOne) ApplyCascade(ctx context.Context, owner Entity, policy CascadePolicy) error {
	if policy != CascadeDestroy {
		return h.hasMany.ApplyCascade(ctx, owner, policy)
	}

	v, err := h.Load(ctx, owner)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return h.c.destroyEntity(ctx, v.(Entity))
}
