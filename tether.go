// Package tether is a relation-centric ORM engine. Model types declare their
// table binding, attribute accessors and relations once, in Configure; the
// engine resolves relation names through a metadata registry, loads related
// rows through per-kind strategies (batched for eager loads, one IN query per
// relation), compiles chainable queries to parameterized SQL and evaluates
// cascade policies on delete.
//
// Models embed Model, implement Configure and FromRow, and are registered on
// a Client:
//
//	type Post struct {
//		tether.Model
//		ID       int64
//		Title    string
//		AuthorID int64
//	}
//
//	func (*Post) Configure(d *tether.Definition) {
//		d.Table("posts")
//		d.Attribute("id", tether.Attr(
//			func(p *Post) any { return p.ID },
//			func(p *Post, v any) { p.ID = tether.AsInt(v) },
//		)).PrimaryKey()
//		d.Attribute("title", tether.Attr(
//			func(p *Post) any { return p.Title },
//			func(p *Post, v any) { p.Title = tether.AsString(v) },
//		))
//		d.Attribute("author_id", tether.Attr(
//			func(p *Post) any { return p.AuthorID },
//			func(p *Post, v any) { p.AuthorID = tether.AsInt(v) },
//		))
//		d.BelongsTo("author", &User{}, tether.BelongsToConfig{})
//	}
//
//	func (*Post) FromRow(r tether.Row) tether.Entity {
//		return &Post{ID: r.Int("id"), Title: r.String("title"), AuthorID: r.Int("author_id")}
//	}
package tether

// Entity is implemented by every model type. Configure declares metadata,
// FromRow hydrates instances (the engine never constructs a model any other
// way), and the unexported store method is supplied by embedding Model.
type Entity interface {
	Configure(d *Definition)
	FromRow(row Row) Entity

	store() *Model
}

// Accessor is one entry in a model's registered field-accessor table: an
// explicit getter/setter pair for a single column.
type Accessor struct {
	Get func(e Entity) any
	Set func(e Entity, v any)
}

// Attr builds an Accessor from functions typed to the concrete model, so
// Configure bodies stay free of type assertions.
func Attr[E Entity](get func(E) any, set func(E, any)) Accessor {
	return Accessor{
		Get: func(e Entity) any { return get(e.(E)) },
		Set: func(e Entity, v any) { set(e.(E), v) },
	}
}
