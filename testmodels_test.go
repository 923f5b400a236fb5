package tether

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tetherorm/tether/logger"
)

// Shared blog fixtures. Users write posts, posts collect comments and carry
// tags through a pivot table, each user may have one profile.

type User struct {
	Model
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (*User) Configure(d *Definition) {
	d.Table("users")
	d.Attribute("id", Attr(
		func(u *User) any { return u.ID },
		func(u *User, v any) { u.ID = AsInt(v) },
	)).PrimaryKey()
	d.Attribute("name", Attr(
		func(u *User) any { return u.Name },
		func(u *User, v any) { u.Name = AsString(v) },
	))
	d.Attribute("email", Attr(
		func(u *User) any { return u.Email },
		func(u *User, v any) { u.Email = AsString(v) },
	))
	d.Attribute("created_at", Attr(
		func(u *User) any { return u.CreatedAt },
		func(u *User, v any) { u.CreatedAt = AsTime(v) },
	)).CreatedAt()
	d.Attribute("updated_at", Attr(
		func(u *User) any { return u.UpdatedAt },
		func(u *User, v any) { u.UpdatedAt = AsTime(v) },
	)).UpdatedAt()
	d.HasMany("posts", &Post{}, HasManyConfig{ForeignKey: "author_id", OnDelete: CascadeDestroy})
	d.HasOne("profile", &Profile{}, HasOneConfig{OnDelete: CascadeDeleteAll})
}

func (*User) FromRow(r Row) Entity {
	return &User{
		ID:        r.Int("id"),
		Name:      r.String("name"),
		Email:     r.String("email"),
		CreatedAt: r.Time("created_at"),
		UpdatedAt: r.Time("updated_at"),
	}
}

type Post struct {
	Model
	ID       int64
	AuthorID int64
	Title    string
	Status   string
	Views    int64
}

func (*Post) Configure(d *Definition) {
	d.Table("posts")
	d.Attribute("id", Attr(
		func(p *Post) any { return p.ID },
		func(p *Post, v any) { p.ID = AsInt(v) },
	)).PrimaryKey()
	d.Attribute("author_id", Attr(
		func(p *Post) any { return p.AuthorID },
		func(p *Post, v any) { p.AuthorID = AsInt(v) },
	))
	d.Attribute("title", Attr(
		func(p *Post) any { return p.Title },
		func(p *Post, v any) { p.Title = AsString(v) },
	))
	d.Attribute("status", Attr(
		func(p *Post) any { return p.Status },
		func(p *Post, v any) { p.Status = AsString(v) },
	))
	d.Attribute("views", Attr(
		func(p *Post) any { return p.Views },
		func(p *Post, v any) { p.Views = AsInt(v) },
	))
	d.BelongsTo("author", &User{}, BelongsToConfig{ForeignKey: "author_id"})
	d.HasMany("comments", &Comment{}, HasManyConfig{OnDelete: CascadeDeleteAll})
	d.BelongsToMany("tags", &Tag{}, BelongsToManyConfig{})
}

func (*Post) FromRow(r Row) Entity {
	return &Post{
		ID:       r.Int("id"),
		AuthorID: r.Int("author_id"),
		Title:    r.String("title"),
		Status:   r.String("status"),
		Views:    r.Int("views"),
	}
}

type Comment struct {
	Model
	ID     int64
	PostID int64
	Body   string
}

func (*Comment) Configure(d *Definition) {
	d.Table("comments")
	d.Attribute("id", Attr(
		func(c *Comment) any { return c.ID },
		func(c *Comment, v any) { c.ID = AsInt(v) },
	)).PrimaryKey()
	d.Attribute("post_id", Attr(
		func(c *Comment) any { return c.PostID },
		func(c *Comment, v any) { c.PostID = AsInt(v) },
	))
	d.Attribute("body", Attr(
		func(c *Comment) any { return c.Body },
		func(c *Comment, v any) { c.Body = AsString(v) },
	))
	d.BelongsTo("post", &Post{}, BelongsToConfig{})
}

func (*Comment) FromRow(r Row) Entity {
	return &Comment{ID: r.Int("id"), PostID: r.Int("post_id"), Body: r.String("body")}
}

type Tag struct {
	Model
	ID    int64
	Label string
}

func (*Tag) Configure(d *Definition) {
	d.Table("tags")
	d.Attribute("id", Attr(
		func(t *Tag) any { return t.ID },
		func(t *Tag, v any) { t.ID = AsInt(v) },
	)).PrimaryKey()
	d.Attribute("label", Attr(
		func(t *Tag) any { return t.Label },
		func(t *Tag, v any) { t.Label = AsString(v) },
	))
	d.BelongsToMany("posts", &Post{}, BelongsToManyConfig{})
}

func (*Tag) FromRow(r Row) Entity {
	return &Tag{ID: r.Int("id"), Label: r.String("label")}
}

type Profile struct {
	Model
	ID     int64
	UserID int64
	Bio    string
}

func (*Profile) Configure(d *Definition) {
	d.Table("profiles")
	d.Attribute("id", Attr(
		func(p *Profile) any { return p.ID },
		func(p *Profile, v any) { p.ID = AsInt(v) },
	)).PrimaryKey()
	d.Attribute("user_id", Attr(
		func(p *Profile) any { return p.UserID },
		func(p *Profile, v any) { p.UserID = AsInt(v) },
	))
	d.Attribute("bio", Attr(
		func(p *Profile) any { return p.Bio },
		func(p *Profile, v any) { p.Bio = AsString(v) },
	))
	d.BelongsTo("user", &User{}, BelongsToConfig{})
}

func (*Profile) FromRow(r Row) Entity {
	return &Profile{ID: r.Int("id"), UserID: r.Int("user_id"), Bio: r.String("bio")}
}

const blogSchema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		email TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);
	CREATE TABLE posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id INTEGER,
		title TEXT,
		status TEXT,
		views INTEGER
	);
	CREATE TABLE comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER,
		body TEXT
	);
	CREATE TABLE tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT
	);
	CREATE TABLE post_tag (
		post_id INTEGER,
		tag_id INTEGER
	);
	CREATE TABLE profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		bio TEXT
	);
`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(blogSchema); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
	return db
}

func blogEntities() []Entity {
	return []Entity{&User{}, &Post{}, &Comment{}, &Tag{}, &Profile{}}
}

func newTestClient(t *testing.T) (*Client, *sql.DB) {
	t.Helper()

	db := openTestDB(t)
	c, err := NewClient(Config{
		DB:       db,
		Dialect:  SQLite,
		Entities: blogEntities(),
		Logger:   logger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return c, db
}

func seedBlog(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO users (id, name, email) VALUES
			(1, 'Alice', 'alice@example.com'),
			(2, 'Bob', 'bob@example.com');
		INSERT INTO posts (id, author_id, title, status, views) VALUES
			(1, 1, 'Go concurrency', 'published', 150),
			(2, 1, 'Channels in depth', 'draft', 40),
			(3, 2, 'Generics on the ground', 'published', 220);
		INSERT INTO comments (id, post_id, body) VALUES
			(1, 1, 'Nice write-up'),
			(2, 1, 'Helped a lot'),
			(3, 3, 'More please');
		INSERT INTO tags (id, label) VALUES
			(1, 'go'),
			(2, 'tutorial');
		INSERT INTO post_tag (post_id, tag_id) VALUES
			(1, 1),
			(1, 2),
			(3, 1);
		INSERT INTO profiles (id, user_id, bio) VALUES
			(1, 1, 'Gopher since the beginning');
	`)
	if err != nil {
		t.Fatalf("failed to seed data: %v", err)
	}
}

// countingExecutor wraps an Executor and counts statements, so tests can pin
// the exact number of queries an operation issues.
type countingExecutor struct {
	inner    Executor
	queries  int32
	commands int32
}

func (e *countingExecutor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	atomic.AddInt32(&e.queries, 1)
	return e.inner.QueryContext(ctx, query, args...)
}

func (e *countingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	atomic.AddInt32(&e.commands, 1)
	return e.inner.ExecContext(ctx, query, args...)
}

func (e *countingExecutor) total() int {
	return int(atomic.LoadInt32(&e.queries) + atomic.LoadInt32(&e.commands))
}

func (e *countingExecutor) reset() {
	atomic.StoreInt32(&e.queries, 0)
	atomic.StoreInt32(&e.commands, 0)
}

func newCountingClient(t *testing.T) (*Client, *countingExecutor, *sql.DB) {
	t.Helper()

	db := openTestDB(t)
	counter := &countingExecutor{inner: db}
	c, err := NewClient(Config{
		DB:       counter,
		Dialect:  SQLite,
		Entities: blogEntities(),
		Logger:   logger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return c, counter, db
}
