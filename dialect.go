package tether

import "strconv"

// Dialect describes the SQL flavor the engine compiles for. Statements are
// built with ? placeholders and rebound to the dialect's positional form at
// execution time.
type Dialect struct {
	Name string

	// Numbered switches placeholder binding to $1..$N form.
	Numbered bool

	// UseReturning appends a RETURNING clause on insert to capture the
	// generated key instead of reading LastInsertId.
	UseReturning bool

	// QueryListTables lists the schema's table names, one per row.
	QueryListTables string
}

var (
	MySQL = &Dialect{
		Name:            "mysql",
		QueryListTables: "SHOW TABLES",
	}

	PostgreSQL = &Dialect{
		Name:            "postgres",
		Numbered:        true,
		UseReturning:    true,
		QueryListTables: "SELECT tablename FROM pg_tables WHERE schemaname = 'public'",
	}

	SQLite = &Dialect{
		Name:            "sqlite3",
		QueryListTables: "SELECT name FROM sqlite_schema WHERE type='table'",
	}
)

// Rebind converts engine placeholders to the dialect's positional form.
func (d *Dialect) Rebind(query string) string {
	if d == nil || !d.Numbered {
		return query
	}
	return rebind(query)
}

// rebind rewrites ? placeholders to numbered $N form, leaving question marks
// inside single-quoted literals alone.
func rebind(query string) string {
	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String()
}
