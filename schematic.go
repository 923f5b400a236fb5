package tether

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/table"
)

// Schematic writes a visual rendering of every registered schema to w: one
// column table per model plus a line per relation with its resolved keys.
// Useful while wiring up a new model set.
func (c *Client) Schematic(w io.Writer) {
	fmt.Fprintf(w, "SQL Dialect: %s\n", c.dialect.Name)

	for _, s := range c.registry.All() {
		fmt.Fprintf(w, "table: %s\n", s.Table)

		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"Column", "Is Primary Key", "Created At", "Updated At"})
		for _, col := range s.Columns() {
			tw.AppendRow(table.Row{col, col == s.PrimaryKey, col == s.createdAt, col == s.updatedAt})
		}
		fmt.Fprintln(w, tw.Render())

		for _, rel := range s.Relations() {
			related, err := c.registry.schemaFor(rel.Related)
			if err != nil {
				continue
			}
			switch rel.Kind {
			case KindBelongsTo:
				fmt.Fprintf(w, "%s N-1 %s (%s.%s -> %s.%s)\n",
					s.Table, related.Table, s.Table, rel.ForeignKey, related.Table, rel.OwnerKey)
			case KindHasOne:
				fmt.Fprintf(w, "%s 1-1 %s (%s.%s -> %s.%s)\n",
					s.Table, related.Table, related.Table, rel.ForeignKey, s.Table, rel.LocalKey)
			case KindHasMany:
				fmt.Fprintf(w, "%s 1-N %s (%s.%s -> %s.%s)\n",
					s.Table, related.Table, related.Table, rel.ForeignKey, s.Table, rel.LocalKey)
			case KindBelongsToMany:
				fmt.Fprintf(w, "%s N-N %s (via %s: %s, %s)\n",
					s.Table, related.Table, rel.PivotTable, rel.ForeignPivotKey, rel.RelatedPivotKey)
			}
		}
		fmt.Fprintln(w)
	}
}

// PrintSchematic renders the schematic to standard output.
func (c *Client) PrintSchematic() {
	c.Schematic(os.Stdout)
}
