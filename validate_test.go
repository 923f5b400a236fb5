package tether

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestValidateSchema_HappyPath(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.ValidateSchema(context.Background()); err != nil {
		t.Fatalf("expected the blog schema to validate, got %v", err)
	}
}

func TestValidateSchema_MissingTable(t *testing.T) {
	c, db := newTestClient(t)

	if _, err := db.Exec(`DROP TABLE profiles`); err != nil {
		t.Fatalf("drop failed: %v", err)
	}

	err := c.ValidateSchema(context.Background())
	if err == nil {
		t.Fatal("expected a drift error")
	}
	var merr *MetadataError
	if !errors.As(err, &merr) || merr.Model != "Profile" {
		t.Errorf("expected the model named, got %v", err)
	}
	if !strings.Contains(err.Error(), "was inferred but does not exist") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateSchema_MissingColumn(t *testing.T) {
	c, db := newTestClient(t)

	// Rebuild users without the email column the model declares.
	stmts := `
		DROP TABLE users;
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);
	`
	if _, err := db.Exec(stmts); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	err := c.ValidateSchema(context.Background())
	if err == nil {
		t.Fatal("expected a drift error")
	}
	if !strings.Contains(err.Error(), "users.email") {
		t.Errorf("expected the missing column named, got %v", err)
	}
}

func TestValidateSchema_MissingForeignKey(t *testing.T) {
	c, db := newTestClient(t)

	stmts := `
		DROP TABLE profiles;
		CREATE TABLE profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bio TEXT
		);
	`
	if _, err := db.Exec(stmts); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	err := c.ValidateSchema(context.Background())
	if err == nil {
		t.Fatal("expected a drift error")
	}
	// Profile declares user_id as an attribute, so the declared-column
	// check names it before the relation walk would.
	if !strings.Contains(err.Error(), "profiles.user_id") {
		t.Errorf("expected the key column named, got %v", err)
	}
}

func TestValidateSchema_MissingPivot(t *testing.T) {
	c, db := newTestClient(t)

	if _, err := db.Exec(`DROP TABLE post_tag`); err != nil {
		t.Fatalf("drop failed: %v", err)
	}

	err := c.ValidateSchema(context.Background())
	if err == nil {
		t.Fatal("expected a drift error")
	}
	var relErr *RelationError
	if !errors.As(err, &relErr) || relErr.Relation != "tags" {
		t.Errorf("expected the relation named, got %v", err)
	}
	if !strings.Contains(err.Error(), "pivot table post_tag") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateSchema_PivotMissingKeyColumn(t *testing.T) {
	c, db := newTestClient(t)

	stmts := `
		DROP TABLE post_tag;
		CREATE TABLE post_tag (post_id INTEGER);
	`
	if _, err := db.Exec(stmts); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	err := c.ValidateSchema(context.Background())
	if err == nil {
		t.Fatal("expected a drift error")
	}
	if !strings.Contains(err.Error(), "post_tag.tag_id") {
		t.Errorf("expected the pivot key named, got %v", err)
	}
}
