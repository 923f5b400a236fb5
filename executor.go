package tether

import (
	"context"
	"database/sql"
	"time"
)

// Executor is the storage boundary: anything that can run a parameterized
// statement and hand back rows or an affected count. *sql.DB and *sql.Tx both
// satisfy it; passing a transaction scopes every engine operation to it.
type Executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// scanRows drains a result set into Row maps, normalizing driver byte slices
// to strings.
func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, col := range cols {
			r[col] = normalizeValue(vals[i])
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// reader picks the executor for SELECT statements, routing to a replica when
// a resolver is configured.
func (c *Client) reader() Executor {
	if c.resolver != nil {
		return c.resolver.Replica()
	}
	return c.db
}

// writer picks the executor for mutating statements.
func (c *Client) writer() Executor {
	if c.resolver != nil {
		return c.resolver.Primary()
	}
	return c.db
}

// prepared returns a cached prepared statement when statement caching is on
// and the target is the root *sql.DB. A nil statement with a nil error means
// "run unprepared".
func (c *Client) prepared(ctx context.Context, target Executor, query string) (*sql.Stmt, func(), error) {
	if c.stmts == nil {
		return nil, nil, nil
	}
	db, ok := target.(*sql.DB)
	if !ok {
		return nil, nil, nil
	}
	if stmt, release := c.stmts.Get(query); stmt != nil {
		return stmt, release, nil
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	cached, release := c.stmts.PutAndGet(query, stmt)
	return cached, release, nil
}

// queryOn executes a SELECT-shaped statement against target and scans every
// row. All reads and RETURNING writes funnel through here so rebinding,
// statement caching, tracing and error wrapping happen exactly once.
func (c *Client) queryOn(ctx context.Context, target Executor, op, query string, args []any) ([]Row, error) {
	query = c.dialect.Rebind(query)
	begin := time.Now()

	var (
		rows *sql.Rows
		err  error
	)
	if stmt, release, perr := c.prepared(ctx, target, query); perr != nil {
		err = perr
	} else if stmt != nil {
		defer release()
		rows, err = stmt.QueryContext(ctx, args...)
	} else {
		rows, err = target.QueryContext(ctx, query, args...)
	}

	var out []Row
	if err == nil {
		out, err = scanRows(rows)
	}

	c.log.Trace(ctx, begin, func() (string, int64) { return query, int64(len(out)) }, err)
	if err != nil {
		return nil, wrapQueryError(op, query, args, err)
	}
	return out, nil
}

// runQuery executes a read statement against the read executor.
func (c *Client) runQuery(ctx context.Context, op, query string, args []any) ([]Row, error) {
	return c.queryOn(ctx, c.reader(), op, query, args)
}

// execOn executes a mutating statement and returns the raw driver result.
func (c *Client) execOn(ctx context.Context, op, query string, args []any) (sql.Result, error) {
	query = c.dialect.Rebind(query)
	begin := time.Now()

	var (
		res sql.Result
		err error
	)
	target := c.writer()
	if stmt, release, perr := c.prepared(ctx, target, query); perr != nil {
		err = perr
	} else if stmt != nil {
		defer release()
		res, err = stmt.ExecContext(ctx, args...)
	} else {
		res, err = target.ExecContext(ctx, query, args...)
	}

	affected := int64(-1)
	if err == nil && res != nil {
		if n, aerr := res.RowsAffected(); aerr == nil {
			affected = n
		}
	}

	c.log.Trace(ctx, begin, func() (string, int64) { return query, affected }, err)
	if err != nil {
		return nil, wrapQueryError(op, query, args, err)
	}
	return res, nil
}

// runExec executes a mutating statement and returns the affected row count.
func (c *Client) runExec(ctx context.Context, op, query string, args []any) (int64, error) {
	res, err := c.execOn(ctx, op, query, args)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// runInsert executes an INSERT and returns the generated key. Dialects with
// RETURNING support read it off the result row; the rest fall back to
// LastInsertId.
func (c *Client) runInsert(ctx context.Context, query string, args []any, pk string) (any, error) {
	if c.dialect.UseReturning {
		rows, err := c.queryOn(ctx, c.writer(), "INSERT", query+" RETURNING "+pk, args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0][pk], nil
	}

	res, err := c.execOn(ctx, "INSERT", query, args)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil
	}
	return id, nil
}

// ExecRaw runs a caller-written statement on the primary connection, with
// placeholder rebinding, tracing and error wrapping intact.
func (c *Client) ExecRaw(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.execOn(ctx, "EXEC", query, args)
}

// QueryRaw runs a caller-written SELECT and hydrates every row into E.
func QueryRaw[E Entity](ctx context.Context, c *Client, query string, args ...any) ([]E, error) {
	var proto E
	s, err := c.registry.schemaFor(proto)
	if err != nil {
		return nil, err
	}

	rows, err := c.runQuery(ctx, "SELECT", query, args)
	if err != nil {
		return nil, err
	}

	out := make([]E, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.hydrate(row).(E))
	}
	return out, nil
}
