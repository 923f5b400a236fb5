package tether

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func relationByName(t *testing.T, r *Registry, e Entity, name string) *RelationDescriptor {
	t.Helper()

	desc, err := r.DescribeRelation(e, name)
	if err != nil {
		t.Fatalf("DescribeRelation failed: %v", err)
	}
	if desc == nil {
		t.Fatalf("relation %q not resolved", name)
	}
	return desc
}

func TestRegistry_DescribeTable(t *testing.T) {
	r := NewRegistry()

	table, pk, err := r.DescribeTable(&Comment{})
	if err != nil {
		t.Fatalf("DescribeTable failed: %v", err)
	}
	if table != "comments" || pk != "id" {
		t.Errorf("expected comments/id, got %s/%s", table, pk)
	}
}

func TestRegistry_BelongsToDefaults(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(blogEntities()...); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Comment declares BelongsTo("post") with every key left blank.
	desc := relationByName(t, r, &Comment{}, "post")
	if desc.Kind != KindBelongsTo {
		t.Errorf("expected belongs_to, got %s", desc.Kind)
	}
	if desc.ForeignKey != "post_id" {
		t.Errorf("expected foreign key post_id, got %q", desc.ForeignKey)
	}
	if desc.OwnerKey != "id" {
		t.Errorf("expected owner key id, got %q", desc.OwnerKey)
	}
}

func TestRegistry_HasManyDefaults(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(blogEntities()...); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Post declares HasMany("comments") with every key left blank, so the
	// foreign key derives from the singularized owner table.
	desc := relationByName(t, r, &Post{}, "comments")
	if desc.ForeignKey != "post_id" {
		t.Errorf("expected foreign key post_id, got %q", desc.ForeignKey)
	}
	if desc.LocalKey != "id" {
		t.Errorf("expected local key id, got %q", desc.LocalKey)
	}

	// User overrides the foreign key explicitly.
	desc = relationByName(t, r, &User{}, "posts")
	if desc.ForeignKey != "author_id" {
		t.Errorf("expected foreign key author_id, got %q", desc.ForeignKey)
	}
}

func TestRegistry_HasOneDefaults(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(blogEntities()...); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	desc := relationByName(t, r, &User{}, "profile")
	if desc.Kind != KindHasOne {
		t.Errorf("expected has_one, got %s", desc.Kind)
	}
	if desc.ForeignKey != "user_id" {
		t.Errorf("expected foreign key user_id, got %q", desc.ForeignKey)
	}
	if desc.LocalKey != "id" {
		t.Errorf("expected local key id, got %q", desc.LocalKey)
	}
}

func TestRegistry_BelongsToManyDefaults(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(blogEntities()...); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	desc := relationByName(t, r, &Post{}, "tags")
	if desc.PivotTable != "post_tag" {
		t.Errorf("expected pivot table post_tag, got %q", desc.PivotTable)
	}
	if desc.ForeignPivotKey != "post_id" {
		t.Errorf("expected foreign pivot key post_id, got %q", desc.ForeignPivotKey)
	}
	if desc.RelatedPivotKey != "tag_id" {
		t.Errorf("expected related pivot key tag_id, got %q", desc.RelatedPivotKey)
	}
	if desc.ParentKey != "id" || desc.RelatedKey != "id" {
		t.Errorf("expected id/id keys, got %q/%q", desc.ParentKey, desc.RelatedKey)
	}

	// The mirror side sorts to the same pivot table with swapped key roles.
	desc = relationByName(t, r, &Tag{}, "posts")
	if desc.PivotTable != "post_tag" {
		t.Errorf("expected pivot table post_tag, got %q", desc.PivotTable)
	}
	if desc.ForeignPivotKey != "tag_id" {
		t.Errorf("expected foreign pivot key tag_id, got %q", desc.ForeignPivotKey)
	}
	if desc.RelatedPivotKey != "post_id" {
		t.Errorf("expected related pivot key post_id, got %q", desc.RelatedPivotKey)
	}
}

type unboundModel struct {
	Model
	ID int64
}

func (*unboundModel) Configure(d *Definition) {
	// No Table call on purpose.
	d.Attribute("id", Attr(
		func(m *unboundModel) any { return m.ID },
		func(m *unboundModel, v any) { m.ID = AsInt(v) },
	)).PrimaryKey()
}

func (*unboundModel) FromRow(r Row) Entity {
	return &unboundModel{ID: r.Int("id")}
}

func TestRegistry_MissingTableBinding(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&unboundModel{})
	if err == nil {
		t.Fatal("expected registration to fail")
	}
	if !errors.Is(err, ErrNoTableBinding) {
		t.Errorf("expected ErrNoTableBinding, got %v", err)
	}

	var me *MetadataError
	if !errors.As(err, &me) {
		t.Fatalf("expected a MetadataError, got %T", err)
	}
	if me.Model != "unboundModel" {
		t.Errorf("expected model name unboundModel, got %q", me.Model)
	}
}

func TestRegistry_AttributeResolution(t *testing.T) {
	c, _ := newTestClient(t)
	u := &User{Name: "Alice", CreatedAt: time.Now()}

	if got := c.Attr(u, "name"); got != "Alice" {
		t.Errorf(`Attr("name") = %v, want Alice`, got)
	}
	// Bare convention falls back through snake_case first.
	if got := c.Attr(u, "Name"); got != "Alice" {
		t.Errorf(`Attr("Name") = %v, want Alice`, got)
	}
	if got := c.Attr(u, "CreatedAt"); got != u.CreatedAt {
		t.Errorf(`Attr("CreatedAt") = %v, want %v`, got, u.CreatedAt)
	}
	if got := c.Attr(u, "no_such_column"); got != nil {
		t.Errorf("unresolved attribute should read nil, got %v", got)
	}

	if !c.SetAttr(u, "Email", "alice@tether.dev") {
		t.Fatal("SetAttr should resolve Email")
	}
	if u.Email != "alice@tether.dev" {
		t.Errorf("expected email to be written, got %q", u.Email)
	}
	if c.SetAttr(u, "bogus", 1) {
		t.Error("SetAttr should report false for unknown names")
	}
}

// shadowedModel declares a column whose storage name collides with a relation
// declared under the bare convention.
type shadowedModel struct {
	Model
	ID    int64
	Badge string
}

func (*shadowedModel) Configure(d *Definition) {
	d.Table("shadowed_models")
	d.Attribute("id", Attr(
		func(m *shadowedModel) any { return m.ID },
		func(m *shadowedModel, v any) { m.ID = AsInt(v) },
	)).PrimaryKey()
	d.Attribute("badge", Attr(
		func(m *shadowedModel) any { return m.Badge },
		func(m *shadowedModel, v any) { m.Badge = AsString(v) },
	))
	d.BelongsTo("Badge", &Tag{}, BelongsToConfig{ForeignKey: "badge"})
}

func (*shadowedModel) FromRow(r Row) Entity {
	return &shadowedModel{ID: r.Int("id"), Badge: r.String("badge")}
}

func TestRegistry_ColumnShadowsRelation(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.Registry().Register(&shadowedModel{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	s, err := c.Registry().schemaFor(&shadowedModel{})
	if err != nil {
		t.Fatalf("schemaFor failed: %v", err)
	}

	// The snake_case candidate "badge" names a plain column, which stops the
	// scan before the bare candidate can reach the relation.
	if desc := s.resolveRelation("Badge"); desc != nil {
		t.Errorf("expected column to shadow relation, resolved %q", desc.Name)
	}

	// Get therefore reads the column instead of loading the relation.
	m := &shadowedModel{ID: 1, Badge: "gold"}
	v, err := c.Get(context.Background(), m, "Badge")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "gold" {
		t.Errorf("expected shadowing column value gold, got %v", v)
	}
}

func TestRegistry_AllSortedByTable(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(blogEntities()...); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	all := r.All()
	if len(all) != 5 {
		t.Fatalf("expected 5 schemas, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Table > all[i].Table {
			t.Fatalf("schemas out of order: %s before %s", all[i-1].Table, all[i].Table)
		}
	}
}

func TestRegistry_ConcurrentResolution(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.schemaFor(&Post{}); err != nil {
				t.Errorf("schemaFor failed: %v", err)
			}
		}()
	}
	wg.Wait()

	s, err := r.schemaFor(&Post{})
	if err != nil {
		t.Fatalf("schemaFor failed: %v", err)
	}
	if s.Table != "posts" {
		t.Errorf("expected table posts, got %q", s.Table)
	}
}
