package tether

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sort directions for OrderBy.
const (
	ASC  = "ASC"
	DESC = "DESC"
)

// predicate is one term of the flat WHERE chain. conj prefixes every term
// after the first; terms compile in insertion order with no precedence
// grouping.
type predicate struct {
	conj   string
	column string
	op     string
	values []any
	in     bool
}

// QueryBuilder accumulates one statement against E's table. It is single-use:
// chain the clauses, then call exactly one terminal operation. Misuse is
// carried in the builder and surfaces at the terminal.
type QueryBuilder[E Entity] struct {
	c      *Client
	schema *Schema

	preds  []predicate
	orders [][2]string
	limit  *int
	offset *int
	eager  []string

	done bool
	err  error
}

// Query starts a builder over E's table.
func Query[E Entity](c *Client) *QueryBuilder[E] {
	var proto E
	q := &QueryBuilder[E]{c: c}

	s, err := c.registry.schemaFor(proto)
	if err != nil {
		q.err = err
		return q
	}
	q.schema = s
	return q
}

func (q *QueryBuilder[E]) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// begin guards a terminal operation: surface accumulated misuse and refuse a
// second execution of the same builder.
func (q *QueryBuilder[E]) begin() error {
	if q.err != nil {
		return q.err
	}
	if q.done {
		return fmt.Errorf("%w: builder already executed", ErrInvalidQuery)
	}
	q.done = true
	return nil
}

// Where appends one AND term. The two-argument form implies equality; the
// three-argument form names the operator explicitly.
func (q *QueryBuilder[E]) Where(column string, args ...any) *QueryBuilder[E] {
	return q.addPredicate("AND", column, args...)
}

// OrWhere appends one OR term; argument forms match Where.
func (q *QueryBuilder[E]) OrWhere(column string, args ...any) *QueryBuilder[E] {
	return q.addPredicate("OR", column, args...)
}

// WhereIn appends one AND term matching any of values.
func (q *QueryBuilder[E]) WhereIn(column string, values ...any) *QueryBuilder[E] {
	if len(values) == 0 {
		q.fail(fmt.Errorf("%w: WhereIn needs at least one value", ErrInvalidQuery))
		return q
	}
	q.preds = append(q.preds, predicate{conj: "AND", column: column, op: "IN", values: values, in: true})
	return q
}

func (q *QueryBuilder[E]) addPredicate(conj, column string, args ...any) *QueryBuilder[E] {
	switch len(args) {
	case 1:
		q.preds = append(q.preds, predicate{conj: conj, column: column, op: "=", values: args})
	case 2:
		op, ok := args[0].(string)
		if !ok {
			q.fail(fmt.Errorf("%w: operator must be a string", ErrInvalidQuery))
			return q
		}
		q.preds = append(q.preds, predicate{conj: conj, column: column, op: op, values: args[1:]})
	default:
		q.fail(fmt.Errorf("%w: where takes (column, value) or (column, operator, value)", ErrInvalidQuery))
	}
	return q
}

// OrderBy appends one ORDER BY term; repeated calls accumulate in call order.
func (q *QueryBuilder[E]) OrderBy(column, direction string) *QueryBuilder[E] {
	q.orders = append(q.orders, [2]string{column, direction})
	return q
}

// Limit caps the result row count; the last call wins.
func (q *QueryBuilder[E]) Limit(n int) *QueryBuilder[E] {
	q.limit = &n
	return q
}

// Offset skips rows; the last call wins.
func (q *QueryBuilder[E]) Offset(n int) *QueryBuilder[E] {
	q.offset = &n
	return q
}

// With queues relation names for eager loading after Get. Dot syntax walks
// nested relations level by level ("comments.author"); duplicates collapse.
func (q *QueryBuilder[E]) With(names ...string) *QueryBuilder[E] {
	for _, name := range names {
		if name == "" {
			continue
		}
		dup := false
		for _, have := range q.eager {
			if have == name {
				dup = true
				break
			}
		}
		if !dup {
			q.eager = append(q.eager, name)
		}
	}
	return q
}

func (q *QueryBuilder[E]) compileWhere(sb *strings.Builder) []any {
	if len(q.preds) == 0 {
		return nil
	}
	sb.WriteString(" WHERE ")

	var args []any
	for i, p := range q.preds {
		if i > 0 {
			sb.WriteString(" ")
			sb.WriteString(p.conj)
			sb.WriteString(" ")
		}
		sb.WriteString(p.column)
		if p.in {
			sb.WriteString(" IN (")
			writePlaceholders(sb, len(p.values), ", ")
			sb.WriteString(")")
		} else {
			sb.WriteString(" ")
			sb.WriteString(p.op)
			sb.WriteString(" ?")
		}
		args = append(args, p.values...)
	}
	return args
}

// compileSelect builds SELECT columns FROM table [WHERE] and, when ordered is
// set, the ORDER BY / LIMIT / OFFSET tail.
func (q *QueryBuilder[E]) compileSelect(columns string, ordered bool) (string, []any) {
	sb := getStringBuilder()
	defer putStringBuilder(sb)

	sb.WriteString("SELECT ")
	sb.WriteString(columns)
	sb.WriteString(" FROM ")
	sb.WriteString(q.schema.Table)

	args := q.compileWhere(sb)

	if ordered {
		if len(q.orders) > 0 {
			sb.WriteString(" ORDER BY ")
			for i, o := range q.orders {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(o[0])
				sb.WriteString(" ")
				sb.WriteString(o[1])
			}
		}
		if q.limit != nil {
			sb.WriteString(" LIMIT ")
			sb.WriteString(strconv.Itoa(*q.limit))
		}
		if q.offset != nil {
			sb.WriteString(" OFFSET ")
			sb.WriteString(strconv.Itoa(*q.offset))
		}
	}

	return sb.String(), args
}

// ToSQL compiles the SELECT this builder would run, for inspection. It does
// not consume the builder.
func (q *QueryBuilder[E]) ToSQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	query, args := q.compileSelect("*", true)
	return query, args, nil
}

// Get compiles and runs the SELECT, hydrates every row, then batch-loads
// each queued eager relation across the whole result set.
func (q *QueryBuilder[E]) Get(ctx context.Context) ([]E, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}

	query, args := q.compileSelect("*", true)
	rows, err := q.c.runQuery(ctx, "SELECT", query, args)
	if err != nil {
		return nil, err
	}

	out := make([]E, 0, len(rows))
	owners := make([]Entity, 0, len(rows))
	for _, row := range rows {
		e := q.schema.hydrate(row)
		out = append(out, e.(E))
		owners = append(owners, e)
	}

	if len(owners) > 0 && len(q.eager) > 0 {
		if err := q.c.eagerLoad(ctx, q.schema, owners, q.eager); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// First runs the query with LIMIT 1 and returns the single row. Absence is
// ErrNotFound.
func (q *QueryBuilder[E]) First(ctx context.Context) (E, error) {
	var zero E

	q.Limit(1)
	out, err := q.Get(ctx)
	if err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, ErrNotFound
	}
	return out[0], nil
}

// Find fetches one row by primary key.
func (q *QueryBuilder[E]) Find(ctx context.Context, id any) (E, error) {
	if q.schema != nil {
		q.Where(q.schema.PrimaryKey, id)
	}
	return q.First(ctx)
}

// Count runs SELECT COUNT(*) honoring the WHERE chain and ignoring order,
// limit and offset.
func (q *QueryBuilder[E]) Count(ctx context.Context) (int64, error) {
	if err := q.begin(); err != nil {
		return 0, err
	}

	query, args := q.compileSelect("COUNT(*) AS aggregate", false)
	rows, err := q.c.runQuery(ctx, "SELECT", query, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Int("aggregate"), nil
}

// Exists reports whether any row matches the WHERE chain.
func (q *QueryBuilder[E]) Exists(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q *QueryBuilder[E]) aggregate(ctx context.Context, fn, column string) (float64, error) {
	if err := q.begin(); err != nil {
		return 0, err
	}

	query, args := q.compileSelect(fn+"("+column+") AS aggregate", false)
	rows, err := q.c.runQuery(ctx, "SELECT", query, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || rows[0].Null("aggregate") {
		return 0, nil
	}
	return rows[0].Float("aggregate"), nil
}

// Sum totals column across matching rows; no matches total zero.
func (q *QueryBuilder[E]) Sum(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "SUM", column)
}

// Avg averages column across matching rows; no matches average zero.
func (q *QueryBuilder[E]) Avg(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "AVG", column)
}

// Min returns the smallest column value among matching rows.
func (q *QueryBuilder[E]) Min(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "MIN", column)
}

// Max returns the largest column value among matching rows.
func (q *QueryBuilder[E]) Max(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "MAX", column)
}

// Pluck returns a single column from every matching row, honoring order,
// limit and offset.
func (q *QueryBuilder[E]) Pluck(ctx context.Context, column string) ([]any, error) {
	if err := q.begin(); err != nil {
		return nil, err
	}

	query, args := q.compileSelect(column, true)
	rows, err := q.c.runQuery(ctx, "SELECT", query, args)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[column]; ok {
			out = append(out, v)
			continue
		}
		// aliased or qualified selections come back under the driver's name
		if len(row) == 1 {
			for _, v := range row {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// Delete removes every matching row in one statement and returns the affected
// count. Cascade metadata is never consulted; use Client.Destroy for that.
func (q *QueryBuilder[E]) Delete(ctx context.Context) (int64, error) {
	if err := q.begin(); err != nil {
		return 0, err
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("DELETE FROM ")
	sb.WriteString(q.schema.Table)
	args := q.compileWhere(sb)

	return q.c.runExec(ctx, "DELETE", sb.String(), args)
}

// Update applies values to every matching row in one statement and returns
// the affected count. Keys resolve through the attribute naming conventions;
// unknown keys are skipped. A column flagged UpdatedAt is stamped unless
// values already set it.
func (q *QueryBuilder[E]) Update(ctx context.Context, values map[string]any) (int64, error) {
	if err := q.begin(); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("UPDATE ")
	sb.WriteString(q.schema.Table)
	sb.WriteString(" SET ")

	args := make([]any, 0, len(values)+1)
	n := 0
	touched := false
	for _, k := range keys {
		col, ok := q.schema.resolveAttribute(k)
		if !ok {
			continue
		}
		if col == q.schema.updatedAt {
			touched = true
		}
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col)
		sb.WriteString(" = ?")
		args = append(args, values[k])
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if q.schema.updatedAt != "" && !touched {
		sb.WriteString(", ")
		sb.WriteString(q.schema.updatedAt)
		sb.WriteString(" = ?")
		args = append(args, now(ctx))
	}

	args = append(args, q.compileWhere(sb)...)

	return q.c.runExec(ctx, "UPDATE", sb.String(), args)
}

// FirstOrCreate returns the first row matching attrs, creating one from attrs
// when nothing matches. Attrs join any predicates already on the builder.
func (q *QueryBuilder[E]) FirstOrCreate(ctx context.Context, attrs map[string]any) (E, error) {
	var zero E
	if q.err != nil {
		return zero, q.err
	}

	q.whereAttrs(attrs)
	e, err := q.First(ctx)
	if err == nil {
		return e, nil
	}
	if !IsNotFound(err) {
		return zero, err
	}
	return Create[E](ctx, q.c, attrs)
}

// UpdateOrCreate patches the first row matching match with values, or creates
// a row from both maps merged when nothing matches.
func (q *QueryBuilder[E]) UpdateOrCreate(ctx context.Context, match, values map[string]any) (E, error) {
	var zero E
	if q.err != nil {
		return zero, q.err
	}

	q.whereAttrs(match)
	e, err := q.First(ctx)
	if err == nil {
		if err := q.c.Patch(ctx, e, values); err != nil {
			return zero, err
		}
		return e, nil
	}
	if !IsNotFound(err) {
		return zero, err
	}

	merged := make(map[string]any, len(match)+len(values))
	for k, v := range match {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return Create[E](ctx, q.c, merged)
}

// whereAttrs appends an equality predicate per resolvable key, in sorted key
// order so compiled SQL stays deterministic.
func (q *QueryBuilder[E]) whereAttrs(attrs map[string]any) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if col, ok := q.schema.resolveAttribute(k); ok {
			q.Where(col, attrs[k])
		}
	}
}

// eagerLoad resolves every eager name against one owner set. Each dotted
// path batch-loads one relation per level, so a page of posts with
// "comments.author" costs one query for comments and one for authors.
func (c *Client) eagerLoad(ctx context.Context, s *Schema, owners []Entity, names []string) error {
	for _, name := range names {
		if err := c.eagerLoadPath(ctx, s, owners, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) eagerLoadPath(ctx context.Context, s *Schema, owners []Entity, path string) error {
	head, rest, nested := strings.Cut(path, ".")

	desc := s.resolveRelation(head)
	if desc == nil {
		return wrapRelationError(head, s.name, ErrRelationNotFound)
	}
	strat, err := c.strategyFor(s, desc)
	if err != nil {
		return err
	}
	if err := strat.BatchLoad(ctx, owners); err != nil {
		return err
	}
	if !nested {
		return nil
	}

	next := make([]Entity, 0, len(owners))
	for _, o := range owners {
		v, ok := o.store().Relation(desc.Name)
		if !ok || v == nil {
			continue
		}
		switch rel := v.(type) {
		case []Entity:
			next = append(next, rel...)
		case Entity:
			next = append(next, rel)
		}
	}
	if len(next) == 0 {
		return nil
	}

	related, err := c.registry.schemaFor(desc.Related)
	if err != nil {
		return err
	}
	return c.eagerLoadPath(ctx, related, next, rest)
}
