package tether

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/tetherorm/tether/logger"
)

// Config assembles a Client.
type Config struct {
	// DB executes every statement; *sql.DB or *sql.Tx.
	DB Executor

	// Dialect selects placeholder style, RETURNING support and schema
	// introspection queries.
	Dialect *Dialect

	// Entities are registered eagerly when present; types also register
	// themselves lazily on first use.
	Entities []Entity

	// Logger defaults to logger.Default.
	Logger logger.Interface

	// Registry lets multiple clients share resolved metadata. A private
	// registry is created when nil.
	Registry *Registry

	// Replicas route read statements away from the primary. DB must be the
	// primary *sql.DB when set.
	Replicas []*sql.DB

	// LoadBalancer picks among replicas, default round-robin.
	LoadBalancer LoadBalancer

	// StmtCacheSize enables the prepared statement LRU when positive.
	// Ignored when replicas are configured or DB is not a *sql.DB.
	StmtCacheSize int
}

// Client binds the metadata registry, a storage executor and a dialect into
// the handle every engine operation hangs off. Construct one per database at
// startup and pass it by reference; it is safe for concurrent use.
type Client struct {
	db       Executor
	dialect  *Dialect
	registry *Registry
	log      logger.Interface
	resolver *DBResolver
	stmts    *StmtCache
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("tether: Config.DB is required")
	}
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("tether: Config.Dialect is required")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default
	}

	c := &Client{
		db:       cfg.DB,
		dialect:  cfg.Dialect,
		registry: registry,
		log:      log,
	}

	if len(cfg.Replicas) > 0 {
		primary, ok := cfg.DB.(*sql.DB)
		if !ok {
			return nil, fmt.Errorf("tether: read replicas require a *sql.DB primary")
		}
		lb := cfg.LoadBalancer
		if lb == nil {
			lb = &RoundRobinLoadBalancer{}
		}
		c.resolver = NewDBResolver(WithPrimary(primary), WithReplicas(cfg.Replicas...), WithLoadBalancer(lb))
	} else if cfg.StmtCacheSize > 0 {
		if _, ok := cfg.DB.(*sql.DB); ok {
			c.stmts = NewStmtCache(cfg.StmtCacheSize)
		}
	}

	if err := registry.Register(cfg.Entities...); err != nil {
		return nil, err
	}

	return c, nil
}

// Registry returns the client's metadata registry.
func (c *Client) Registry() *Registry { return c.registry }

// Dialect returns the configured dialect.
func (c *Client) Dialect() *Dialect { return c.dialect }

// Close releases the prepared statement cache. The underlying database
// handle stays open; the caller owns it.
func (c *Client) Close() error {
	if c.stmts != nil {
		return c.stmts.Close()
	}
	return nil
}

// Attr reads an attribute by external name using the two-step naming
// convention (snake_case first, bare name second). Unresolved names read as
// nil, never an error.
func (c *Client) Attr(e Entity, name string) any {
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return nil
	}
	col, ok := s.resolveAttribute(name)
	if !ok {
		return nil
	}
	return s.value(e, col)
}

// SetAttr writes an attribute by external name, reporting whether a column
// matched.
func (c *Client) SetAttr(e Entity, name string, v any) bool {
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return false
	}
	col, ok := s.resolveAttribute(name)
	if !ok {
		return false
	}
	return s.setValue(e, col, v)
}

// Fill writes every matching key of attrs onto e; unknown keys are skipped.
func (c *Client) Fill(e Entity, attrs map[string]any) {
	for k, v := range attrs {
		c.SetAttr(e, k, v)
	}
}

// Get resolves name as a relation first and a plain attribute second.
// Cached relation values return without touching storage; a cache miss
// constructs the strategy, loads, caches and returns. A column that shadows
// a same-named relation under the storage convention wins. A name matching
// neither fails with a RelationError.
func (c *Client) Get(ctx context.Context, e Entity, name string) (any, error) {
	if e == nil {
		return nil, ErrNilEntity
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return nil, err
	}

	if v, ok := e.store().Relation(name); ok {
		return v, nil
	}

	if desc := s.resolveRelation(name); desc != nil {
		if v, ok := e.store().Relation(desc.Name); ok {
			return v, nil
		}
		strat, err := c.strategyFor(s, desc)
		if err != nil {
			return nil, err
		}
		v, err := strat.Load(ctx, e)
		if err != nil {
			return nil, err
		}
		e.store().SetRelation(desc.Name, v)
		return v, nil
	}

	if col, ok := s.resolveAttribute(name); ok {
		return s.value(e, col), nil
	}

	return nil, wrapRelationError(name, s.name, ErrRelationNotFound)
}

// Persisted reports whether e carries a usable primary key.
func (c *Client) Persisted(e Entity) bool {
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return false
	}
	return pkPresent(s.pkValue(e))
}

// Save inserts instances without a primary key and updates persisted ones.
func (c *Client) Save(ctx context.Context, e Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return err
	}
	if pkPresent(s.pkValue(e)) {
		return c.update(ctx, s, e)
	}
	return c.insert(ctx, s, e)
}

// Insert writes a new row from e's attributes regardless of key state, so
// rows with caller-assigned keys can be created explicitly.
func (c *Client) Insert(ctx context.Context, e Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return err
	}
	return c.insert(ctx, s, e)
}

// Update rewrites e's row by primary key.
func (c *Client) Update(ctx context.Context, e Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return err
	}
	return c.update(ctx, s, e)
}

// Patch fills attrs into e and saves it.
func (c *Client) Patch(ctx context.Context, e Entity, attrs map[string]any) error {
	if e == nil {
		return ErrNilEntity
	}
	c.Fill(e, attrs)
	return c.Save(ctx, e)
}

func (c *Client) insert(ctx context.Context, s *Schema, e Entity) error {
	if s.createdAt != "" {
		s.setValue(e, s.createdAt, now(ctx))
	}
	if s.updatedAt != "" {
		s.setValue(e, s.updatedAt, now(ctx))
	}

	cols := make([]string, 0, len(s.columns))
	args := make([]any, 0, len(s.columns))
	for _, col := range s.columns {
		if col == s.PrimaryKey && !pkPresent(s.value(e, col)) {
			continue
		}
		cols = append(cols, col)
		args = append(args, s.value(e, col))
	}
	if len(cols) == 0 {
		return wrapMetadataError(s.name, fmt.Errorf("no insertable columns"))
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("INSERT INTO ")
	sb.WriteString(s.Table)
	sb.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col)
	}
	sb.WriteString(") VALUES (")
	writePlaceholders(sb, len(cols), ", ")
	sb.WriteString(")")

	id, err := c.runInsert(ctx, sb.String(), args, s.PrimaryKey)
	if err != nil {
		return err
	}
	if id != nil && !pkPresent(s.pkValue(e)) {
		s.setPK(e, id)
	}
	s.snapshot(e)
	return nil
}

func (c *Client) update(ctx context.Context, s *Schema, e Entity) error {
	pk := s.pkValue(e)
	if !pkPresent(pk) {
		return fmt.Errorf("%w: update requires a persisted row", ErrInvalidQuery)
	}
	if s.updatedAt != "" {
		s.setValue(e, s.updatedAt, now(ctx))
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("UPDATE ")
	sb.WriteString(s.Table)
	sb.WriteString(" SET ")

	args := make([]any, 0, len(s.columns))
	n := 0
	for _, col := range s.columns {
		if col == s.PrimaryKey {
			continue
		}
		if n > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col)
		sb.WriteString(" = ?")
		args = append(args, s.value(e, col))
		n++
	}
	if n == 0 {
		return nil
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(s.PrimaryKey)
	sb.WriteString(" = ?")
	args = append(args, pk)

	if _, err := c.runExec(ctx, "UPDATE", sb.String(), args); err != nil {
		return err
	}
	s.snapshot(e)
	return nil
}

// Delete removes e's row by primary key without consulting cascade metadata.
// It returns false without querying when e was never persisted.
func (c *Client) Delete(ctx context.Context, e Entity) (bool, error) {
	if e == nil {
		return false, ErrNilEntity
	}
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return false, err
	}
	pk := s.pkValue(e)
	if !pkPresent(pk) {
		return false, nil
	}

	query := "DELETE FROM " + s.Table + " WHERE " + s.PrimaryKey + " = ?"
	n, err := c.runExec(ctx, "DELETE", query, []any{pk})
	if err != nil {
		return false, err
	}
	e.store().original = nil
	return n > 0, nil
}

// InsertMany writes entities of a single type with one multi-row INSERT.
// Primary keys are left to the database; generated keys are not backfilled.
func (c *Client) InsertMany(ctx context.Context, entities ...Entity) error {
	if len(entities) == 0 {
		return nil
	}
	s, err := c.registry.schemaFor(entities[0])
	if err != nil {
		return err
	}

	t := reflect.TypeOf(entities[0])
	for _, e := range entities[1:] {
		if reflect.TypeOf(e) != t {
			return fmt.Errorf("%w: mixed entity types in batch insert", ErrInvalidQuery)
		}
	}

	cols := make([]string, 0, len(s.columns))
	for _, col := range s.columns {
		if col == s.PrimaryKey {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return wrapMetadataError(s.name, fmt.Errorf("no insertable columns"))
	}

	sb := getStringBuilder()
	defer putStringBuilder(sb)
	sb.WriteString("INSERT INTO ")
	sb.WriteString(s.Table)
	sb.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col)
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(cols)*len(entities))
	for i, e := range entities {
		if s.createdAt != "" {
			s.setValue(e, s.createdAt, now(ctx))
		}
		if s.updatedAt != "" {
			s.setValue(e, s.updatedAt, now(ctx))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		writePlaceholders(sb, len(cols), ", ")
		sb.WriteString(")")
		for _, col := range cols {
			args = append(args, s.value(e, col))
		}
	}

	if _, err := c.runExec(ctx, "INSERT", sb.String(), args); err != nil {
		return err
	}
	for _, e := range entities {
		s.snapshot(e)
	}
	return nil
}

// Create hydrates a fresh E from attrs through its FromRow hook and saves it.
func Create[E Entity](ctx context.Context, c *Client, attrs map[string]any) (E, error) {
	var proto E
	var zero E

	e, ok := proto.FromRow(Row{}).(E)
	if !ok {
		return zero, wrapMetadataError(shortTypeName(reflect.TypeOf(proto)), fmt.Errorf("FromRow returned a foreign type"))
	}
	c.Fill(e, attrs)
	if err := c.Save(ctx, e); err != nil {
		return zero, err
	}
	return e, nil
}
