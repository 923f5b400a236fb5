package tether

import (
	"context"
	"fmt"
)

// hasMany loads the owning side of a one-to-many link: the related table
// carries the foreign key pointing back at the owner's local key.
type hasMany struct {
	c       *Client
	owner   *Schema
	related *Schema
	desc    *RelationDescriptor
}

// Load fetches every dependent row. The result is always a non-nil []Entity;
// an owner without a usable local key reads as empty without a query.
func (h *hasMany) Load(ctx context.Context, owner Entity) (any, error) {
	local := h.owner.value(owner, h.desc.LocalKey)
	if !fkPresent(local) {
		return []Entity{}, nil
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(h.related.Table)
	sb.WriteString(" WHERE ")
	sb.WriteString(h.desc.ForeignKey)
	sb.WriteString(" = ?")

	rows, err := h.c.runQuery(ctx, "SELECT", sb.String(), []any{local})
	if err != nil {
		return nil, wrapRelationError(h.desc.Name, h.owner.name, err)
	}
	return h.hydrateAll(rows), nil
}

// BatchLoad groups the dependents of every owner behind a single IN query.
// Owners are seeded with an empty slice first so misses stay cached.
func (h *hasMany) BatchLoad(ctx context.Context, owners []Entity) error {
	keys := make([]any, 0, len(owners))
	seen := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		o.store().SetRelation(h.desc.Name, []Entity{})
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

	groups := make(map[string][]Entity, len(keys))
	for _, row := range rows {
		k := keyString(row[h.desc.ForeignKey])
		groups[k] = append(groups[k], h.related.hydrate(row))
	}

	for _, o := range owners {
		local := h.owner.value(o, h.desc.LocalKey)
		if !fkPresent(local) {
			continue
		}
		if g, ok := groups[keyString(local)]; ok {
			o.store().SetRelation(h.desc.Name, g)
		}
	}
	return nil
}

// ApplyCascade evaluates the relation's delete policy for one owner. Destroy
// recurses through each dependent's own cascades; DeleteAll and Nullify issue
// a single statement; Restrict fails while dependents exist.
func (h *hasMany) ApplyCascade(ctx context.Context, owner Entity, policy CascadePolicy) error {
	switch policy {
	case CascadeDestroy:
		v, err := h.Load(ctx, owner)
		if err != nil {
			return err
		}
		for _, child := range v.([]Entity) {
			if err := h.c.destroyEntity(ctx, child); err != nil {
				return err
			}
		}
		return nil

	case CascadeDeleteAll:
		local := h.owner.value(owner, h.desc.LocalKey)
		query := "DELETE FROM " + h.related.Table + " WHERE " + h.desc.ForeignKey + " = ?"
		if _, err := h.c.runExec(ctx, "DELETE", query, []any{local}); err != nil {
			return wrapRelationError(h.desc.Name, h.owner.name, err)
		}
		return nil

	case CascadeNullify:
		local := h.owner.value(owner, h.desc.LocalKey)
		query := "UPDATE " + h.related.Table + " SET " + h.desc.ForeignKey + " = NULL WHERE " + h.desc.ForeignKey + " = ?"
		if _, err := h.c.runExec(ctx, "UPDATE", query, []any{local}); err != nil {
			return wrapRelationError(h.desc.Name, h.owner.name, err)
		}
		return nil

	case CascadeRestrict:
		n, err := h.countDependents(ctx, owner)
		if err != nil {
			return err
		}
		if n > 0 {
			return wrapRelationError(h.desc.Name, h.owner.name,
				fmt.Errorf("%w: %d dependent %s row(s)", ErrRestricted, n, h.related.name))
		}
		return nil
	}
	return nil
}

func (h *hasMany) countDependents(ctx context.Context, owner Entity) (int64, error) {
	local := h.owner.value(owner, h.desc.LocalKey)
	query := "SELECT COUNT(*) AS aggregate FROM " + h.related.Table + " WHERE " + h.desc.ForeignKey + " = ?"
	rows, err := h.c.runQuery(ctx, "SELECT", query, []any{local})
	if err != nil {
		return 0, wrapRelationError(h.desc.Name, h.owner.name, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Int("aggregate"), nil
}

func (h *hasMany) hydrateAll(rows []Row) []Entity {
	out := make([]Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.related.hydrate(row))
	}
	return out
}
