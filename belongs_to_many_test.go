package tether

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

// pivotTagIDs reads the tag side of post_tag for one post, ordered for
// stable comparison.
func pivotTagIDs(t *testing.T, db *sql.DB, postID int) []int {
	t.Helper()

	rows, err := db.Query(`SELECT tag_id FROM post_tag WHERE post_id = ? ORDER BY tag_id`, postID)
	if err != nil {
		t.Fatalf("pivot query failed: %v", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBelongsToMany_Load(t *testing.T) {
	c, db := newTestClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	post, err := Query[*Post](c).Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if _, err := c.Get(ctx, post, "tags"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	tags, ok := RelatedSlice[*Tag](post, "tags")
	if !ok || len(tags) != 2 {
		t.Fatalf("expected 2 tags, got ok=%v len=%d", ok, len(tags))
	}
	labels := map[string]bool{}
	for _, tag := range tags {
		labels[tag.Label] = true
	}
	if !labels["go"] || !labels["tutorial"] {
		t.Errorf("unexpected labels: %v", labels)
	}
}

func TestBelongsToMany_LoadInverse(t *testing.T) {
	c, db := newTestClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	tag, err := Query[*Tag](c).Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if _, err := c.Get(ctx, tag, "posts"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	posts, ok := RelatedSlice[*Post](tag, "posts")
	if !ok || len(posts) != 2 {
		t.Fatalf("expected 2 posts tagged go, got ok=%v len=%d", ok, len(posts))
	}
	got := map[int64]bool{}
	for _, p := range posts {
		got[p.ID] = true
	}
	if !got[1] || !got[3] {
		t.Errorf("unexpected post ids: %v", got)
	}
}

func TestBelongsToMany_BatchLoad(t *testing.T) {
	c, counter, db := newCountingClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	counter.reset()
	posts, err := Query[*Post](c).OrderBy("id", ASC).With("tags").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if counter.total() != 2 {
		t.Errorf("expected 2 statements, got %d", counter.total())
	}

	tags, _ := RelatedSlice[*Tag](posts[0], "tags")
	if len(tags) != 2 {
		t.Errorf("expected 2 tags on post 1, got %d", len(tags))
	}
	for _, tag := range tags {
		if tag.ID == 0 || tag.Label == "" {
			t.Errorf("tag hydrated incompletely: %+v", tag)
		}
	}

	// Untagged owners read as loaded and empty.
	if !posts[1].RelationLoaded("tags") {
		t.Error("post 2 tags should be cached after batch load")
	}
	if tags, _ := RelatedSlice[*Tag](posts[1], "tags"); len(tags) != 0 {
		t.Errorf("expected no tags on post 2, got %d", len(tags))
	}

	if tags, _ := RelatedSlice[*Tag](posts[2], "tags"); len(tags) != 1 || tags[0].Label != "go" {
		t.Errorf("unexpected tags on post 3: %+v", tags)
	}
}

func TestClient_Attach(t *testing.T) {
	c, db := newTestClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	post, err := Query[*Post](c).Find(ctx, 2)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if _, err := c.Get(ctx, post, "tags"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := c.Attach(ctx, post, "tags", 1, 2); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if got := pivotTagIDs(t, db, 2); !equalInts(got, []int{1, 2}) {
		t.Errorf("expected pivot rows [1 2], got %v", got)
	}

	// Mutations invalidate the cached relation.
	if post.RelationLoaded("tags") {
		t.Error("Attach should forget the cached relation")
	}
}

func TestClient_Detach(t *testing.T) {
	c, db := newTestClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	post, err := Query[*Post](c).Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if err := c.Detach(ctx, post, "tags", 2); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if got := pivotTagIDs(t, db, 1); !equalInts(got, []int{1}) {
		t.Errorf("expected pivot rows [1], got %v", got)
	}

	// Only links go away; the tag row itself stays.
	var tags int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&tags); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if tags != 2 {
		t.Errorf("expected tag rows untouched, got %d", tags)
	}
}

func TestClient_DetachAll(t *testing.T) {
	c, db := newTestClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	post, err := Query[*Post](c).Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if err := c.Detach(ctx, post, "tags"); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if got := pivotTagIDs(t, db, 1); len(got) != 0 {
		t.Errorf("expected no pivot rows, got %v", got)
	}

	// Other owners keep their links.
	if got := pivotTagIDs(t, db, 3); !equalInts(got, []int{1}) {
		t.Errorf("expected post 3 links intact, got %v", got)
	}
}

func TestClient_Sync(t *testing.T) {
	c, db := newTestClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	if _, err := db.Exec(`INSERT INTO tags (id, label) VALUES (3, 'channels')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	post, err := Query[*Post](c).Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if err := c.Sync(ctx, post, "tags", 2, 3); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := pivotTagIDs(t, db, 1); !equalInts(got, []int{2, 3}) {
		t.Errorf("expected pivot rows [2 3], got %v", got)
	}

	var tags int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&tags); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if tags != 3 {
		t.Errorf("Sync must not delete related rows, got %d", tags)
	}

	// Syncing to nothing just clears the links.
	if err := c.Sync(ctx, post, "tags"); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := pivotTagIDs(t, db, 1); len(got) != 0 {
		t.Errorf("expected no pivot rows, got %v", got)
	}
}

func TestClient_AttachNonPivot(t *testing.T) {
	c, db := newTestClient(t)
	seedBlog(t, db)
	ctx := context.Background()

	post, err := Query[*Post](c).Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	err = c.Attach(ctx, post, "author", 2)
	if !errors.Is(err, ErrNotPivot) {
		t.Errorf("expected ErrNotPivot, got %v", err)
	}

	err = c.Attach(ctx, post, "nope", 2)
	if !errors.Is(err, ErrRelationNotFound) {
		t.Errorf("expected ErrRelationNotFound, got %v", err)
	}
}

func TestClient_AttachUnsavedOwner(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.Attach(context.Background(), &Post{}, "tags", 1)
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for unsaved owner, got %v", err)
	}
}
