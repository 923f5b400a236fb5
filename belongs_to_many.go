package tether

import (
	"context"
	"fmt"
)

// belongsToMany loads a many-to-many link joined through a pivot table with
// one foreign key per side. Loading joins the related table to the pivot;
// mutations touch only pivot rows unless a destroy cascade is in play.
type belongsToMany struct {
	c       *Client
	owner   *Schema
	related *Schema
	desc    *RelationDescriptor
}

// Load fetches every related row joined through the pivot for one owner. The
// result is always a non-nil []Entity.
func (m *belongsToMany) Load(ctx context.Context, owner Entity) (any, error) {
	parent := m.owner.value(owner, m.desc.ParentKey)
	if !fkPresent(parent) {
		return []Entity{}, nil
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("SELECT ")
	sb.WriteString(m.related.Table)
	sb.WriteString(".* FROM ")
	sb.WriteString(m.related.Table)
	sb.WriteString(" INNER JOIN ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(" ON ")
	sb.WriteString(m.related.Table)
	sb.WriteString(".")
	sb.WriteString(m.desc.RelatedKey)
	sb.WriteString(" = ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(".")
	sb.WriteString(m.desc.RelatedPivotKey)
	sb.WriteString(" WHERE ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(".")
	sb.WriteString(m.desc.ForeignPivotKey)
	sb.WriteString(" = ?")

	rows, err := m.c.runQuery(ctx, "SELECT", sb.String(), []any{parent})
	if err != nil {
		return nil, wrapRelationError(m.desc.Name, m.owner.name, err)
	}

	out := make([]Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, m.related.hydrate(row))
	}
	return out, nil
}

// BatchLoad folds the pivot walk for every owner into one join query. The
// owner-side pivot key rides along aliased so rows can be grouped, and is
// stripped again before hydration.
func (m *belongsToMany) BatchLoad(ctx context.Context, owners []Entity) error {
	keys := make([]any, 0, len(owners))
	seen := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		o.store().SetRelation(m.desc.Name, []Entity{})
		parent := m.owner.value(o, m.desc.ParentKey)
		if !fkPresent(parent) {
			continue
		}
		k := keyString(parent)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, parent)
	}
	if len(keys) == 0 {
		return nil
	}

	alias := "pivot_" + m.desc.ForeignPivotKey

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("SELECT ")
	sb.WriteString(m.related.Table)
	sb.WriteString(".*, ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(".")
	sb.WriteString(m.desc.ForeignPivotKey)
	sb.WriteString(" AS ")
	sb.WriteString(alias)
	sb.WriteString(" FROM ")
	sb.WriteString(m.related.Table)
	sb.WriteString(" INNER JOIN ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(" ON ")
	sb.WriteString(m.related.Table)
	sb.WriteString(".")
	sb.WriteString(m.desc.RelatedKey)
	sb.WriteString(" = ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(".")
	sb.WriteString(m.desc.RelatedPivotKey)
	sb.WriteString(" WHERE ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(".")
	sb.WriteString(m.desc.ForeignPivotKey)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(keys), ", ")
	sb.WriteString(")")

	rows, err := m.c.runQuery(ctx, "SELECT", sb.String(), keys)
	if err != nil {
		return wrapRelationError(m.desc.Name, m.owner.name, err)
	}

	groups := make(map[string][]Entity, len(keys))
	for _, row := range rows {
		k := keyString(row[alias])
		delete(row, alias)
		groups[k] = append(groups[k], m.related.hydrate(row))
	}

	for _, o := range owners {
		parent := m.owner.value(o, m.desc.ParentKey)
		if !fkPresent(parent) {
			continue
		}
		if g, ok := groups[keyString(parent)]; ok {
			o.store().SetRelation(m.desc.Name, g)
		}
	}
	return nil
}

// ApplyCascade evaluates the delete policy against the pivot. Destroy removes
// the related rows through their own cascades and then clears the pivot;
// DeleteAll and Nullify clear pivot rows only, leaving related rows intact;
// Restrict fails while any pivot row references the owner.
func (m *belongsToMany) ApplyCascade(ctx context.Context, owner Entity, policy CascadePolicy) error {
	switch policy {
	case CascadeDestroy:
		v, err := m.Load(ctx, owner)
		if err != nil {
			return err
		}
		for _, rel := range v.([]Entity) {
			if err := m.c.destroyEntity(ctx, rel); err != nil {
				return err
			}
		}
		return m.detachAll(ctx, owner)

	case CascadeDeleteAll, CascadeNullify:
		return m.detachAll(ctx, owner)

	case CascadeRestrict:
		parent := m.owner.value(owner, m.desc.ParentKey)
		query := "SELECT COUNT(*) AS aggregate FROM " + m.desc.PivotTable + " WHERE " + m.desc.ForeignPivotKey + " = ?"
		rows, err := m.c.runQuery(ctx, "SELECT", query, []any{parent})
		if err != nil {
			return wrapRelationError(m.desc.Name, m.owner.name, err)
		}
		var n int64
		if len(rows) > 0 {
			n = rows[0].Int("aggregate")
		}
		if n > 0 {
			return wrapRelationError(m.desc.Name, m.owner.name,
				fmt.Errorf("%w: %d linked %s row(s)", ErrRestricted, n, m.related.name))
		}
		return nil
	}
	return nil
}

func (m *belongsToMany) parentKey(owner Entity) (any, error) {
	parent := m.owner.value(owner, m.desc.ParentKey)
	if !fkPresent(parent) {
		return nil, wrapRelationError(m.desc.Name, m.owner.name,
			fmt.Errorf("%w: owner has no %s value", ErrInvalidQuery, m.desc.ParentKey))
	}
	return parent, nil
}

// attach links owner to each id with a single multi-row pivot INSERT.
func (m *belongsToMany) attach(ctx context.Context, owner Entity, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	parent, err := m.parentKey(owner)
	if err != nil {
		return err
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("INSERT INTO ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(" (")
	sb.WriteString(m.desc.ForeignPivotKey)
	sb.WriteString(", ")
	sb.WriteString(m.desc.RelatedPivotKey)
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(ids)*2)
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?)")
		args = append(args, parent, id)
	}

	if _, err := m.c.runExec(ctx, "INSERT", sb.String(), args); err != nil {
		return wrapRelationError(m.desc.Name, m.owner.name, err)
	}
	owner.store().ForgetRelation(m.desc.Name)
	return nil
}

// detach unlinks the given ids, or every link when none are given.
func (m *belongsToMany) detach(ctx context.Context, owner Entity, ids []any) error {
	if len(ids) == 0 {
		return m.detachAll(ctx, owner)
	}
	parent, err := m.parentKey(owner)
	if err != nil {
		return err
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("DELETE FROM ")
	sb.WriteString(m.desc.PivotTable)
	sb.WriteString(" WHERE ")
	sb.WriteString(m.desc.ForeignPivotKey)
	sb.WriteString(" = ? AND ")
	sb.WriteString(m.desc.RelatedPivotKey)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(ids), ", ")
	sb.WriteString(")")

	args := append([]any{parent}, ids...)
	if _, err := m.c.runExec(ctx, "DELETE", sb.String(), args); err != nil {
		return wrapRelationError(m.desc.Name, m.owner.name, err)
	}
	owner.store().ForgetRelation(m.desc.Name)
	return nil
}

func (m *belongsToMany) detachAll(ctx context.Context, owner Entity) error {
	parent, err := m.parentKey(owner)
	if err != nil {
		return err
	}
	query := "DELETE FROM " + m.desc.PivotTable + " WHERE " + m.desc.ForeignPivotKey + " = ?"
	if _, err := m.c.runExec(ctx, "DELETE", query, []any{parent}); err != nil {
		return wrapRelationError(m.desc.Name, m.owner.name, err)
	}
	owner.store().ForgetRelation(m.desc.Name)
	return nil
}

// sync replaces the owner's links wholesale: clear, then attach.
func (m *belongsToMany) sync(ctx context.Context, owner Entity, ids []any) error {
	if err := m.detachAll(ctx, owner); err != nil {
		return err
	}
	return m.attach(ctx, owner, ids)
}

func (c *Client) pivotStrategy(e Entity, relation string) (*belongsToMany, error) {
	if e == nil {
		return nil, ErrNilEntity
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return nil, err
	}
	desc := s.resolveRelation(relation)
	if desc == nil {
		return nil, wrapRelationError(relation, s.name, ErrRelationNotFound)
	}
	if desc.Kind != KindBelongsToMany {
		return nil, wrapRelationError(relation, s.name, ErrNotPivot)
	}
	strat, err := c.strategyFor(s, desc)
	if err != nil {
		return nil, err
	}
	return strat.(*belongsToMany), nil
}

// Attach links e to each related id through the relation's pivot table with
// one INSERT. The relation must be a belongs-to-many.
func (c *Client) Attach(ctx context.Context, e Entity, relation string, ids ...any) error {
	m2m, err := c.pivotStrategy(e, relation)
	if err != nil {
		return err
	}
	return m2m.attach(ctx, e, ids)
}

// Detach unlinks the given related ids from e, or every link when no ids are
// given. Related rows are never touched.
func (c *Client) Detach(ctx context.Context, e Entity, relation string, ids ...any) error {
	m2m, err := c.pivotStrategy(e, relation)
	if err != nil {
		return err
	}
	return m2m.detach(ctx, e, ids)
}

// Sync makes the pivot match ids exactly by clearing the owner's links and
// re-attaching. An empty id list leaves the owner unlinked.
func (c *Client) Sync(ctx context.Context, e Entity, relation string, ids ...any) error {
	m2m, err := c.pivotStrategy(e, relation)
	if err != nil {
		return err
	}
	return m2m.sync(ctx, e, ids)
}
