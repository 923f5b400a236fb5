package tether

import (
	"context"
	"fmt"
)

// ValidateSchema cross-checks registered metadata against the live database:
// every bound table and inferred pivot table must exist, and every declared
// column and relation key column must be present. Run it at startup after
// registering entities to move drift errors out of request paths.
func (c *Client) ValidateSchema(ctx context.Context) error {
	rows, err := c.runQuery(ctx, "SELECT", c.dialect.QueryListTables, nil)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		for _, v := range row {
			if name := AsString(v); name != "" {
				existing[name] = struct{}{}
			}
		}
	}

	probed := make(map[string]map[string]struct{})
	columnsOf := func(table string) (map[string]struct{}, error) {
		if cols, ok := probed[table]; ok {
			return cols, nil
		}
		cols, err := c.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		probed[table] = cols
		return cols, nil
	}

	for _, s := range c.registry.All() {
		if _, ok := existing[s.Table]; !ok {
			return wrapMetadataError(s.name, fmt.Errorf("table %s was inferred but does not exist, database is out of sync", s.Table))
		}
		cols, err := columnsOf(s.Table)
		if err != nil {
			return err
		}
		for _, col := range s.Columns() {
			if _, ok := cols[col]; !ok {
				return wrapMetadataError(s.name, fmt.Errorf("column %s.%s was declared but does not exist", s.Table, col))
			}
		}
		for _, desc := range s.Relations() {
			if err := c.validateRelation(ctx, s, desc, existing, columnsOf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) validateRelation(ctx context.Context, s *Schema, desc *RelationDescriptor, existing map[string]struct{}, columnsOf func(string) (map[string]struct{}, error)) error {
	related, err := c.registry.schemaFor(desc.Related)
	if err != nil {
		return err
	}

	switch desc.Kind {
	case KindBelongsTo:
		cols, err := columnsOf(s.Table)
		if err != nil {
			return err
		}
		if _, ok := cols[desc.ForeignKey]; !ok {
			return wrapRelationError(desc.Name, s.name,
				fmt.Errorf("foreign key %s.%s does not exist", s.Table, desc.ForeignKey))
		}

	case KindHasOne, KindHasMany:
		cols, err := columnsOf(related.Table)
		if err != nil {
			return err
		}
		if _, ok := cols[desc.ForeignKey]; !ok {
			return wrapRelationError(desc.Name, s.name,
				fmt.Errorf("foreign key %s.%s does not exist", related.Table, desc.ForeignKey))
		}

	case KindBelongsToMany:
		if _, ok := existing[desc.PivotTable]; !ok {
			return wrapRelationError(desc.Name, s.name,
				fmt.Errorf("pivot table %s was inferred but does not exist", desc.PivotTable))
		}
		cols, err := columnsOf(desc.PivotTable)
		if err != nil {
			return err
		}
		if _, ok := cols[desc.ForeignPivotKey]; !ok {
			return wrapRelationError(desc.Name, s.name,
				fmt.Errorf("pivot key %s.%s does not exist", desc.PivotTable, desc.ForeignPivotKey))
		}
		if _, ok := cols[desc.RelatedPivotKey]; !ok {
			return wrapRelationError(desc.Name, s.name,
				fmt.Errorf("pivot key %s.%s does not exist", desc.PivotTable, desc.RelatedPivotKey))
		}
	}
	return nil
}

// tableColumns probes a table's column set with a zero-row select, which
// works identically across the supported dialects.
func (c *Client) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	if err := validateIdentifier(table); err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + table + " LIMIT 0"
	rows, err := c.reader().QueryContext(ctx, query)
	if err != nil {
		return nil, wrapQueryError("SELECT", query, nil, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, wrapQueryError("SELECT", query, nil, err)
	}
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		out[name] = struct{}{}
	}
	return out, rows.Err()
}
