package stores

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return squealx.NewDb(sqlDB, "sqlite", "testdb")
}

func documentsSchema() *rowguard.TableSchema {
	return &rowguard.TableSchema{
		Name: "documents",
		Fields: []rowguard.Field{
			{Name: "id", Type: "text"},
			{Name: "title", Type: "text"},
			{Name: "owner_id", Type: "text", Indexed: true},
		},
		Permissions: &rowguard.TablePermissions{
			Read:   rowguard.Owner("owner_id"),
			Update: rowguard.Owner("owner_id"),
			Delete: rowguard.Owner("owner_id"),
		},
	}
}

func TestSQLRowStorePredicatePushdown(t *testing.T) {
	db := openTestDB(t)
	schema := documentsSchema()
	if err := EnsureTables(db, schema); err != nil {
		t.Fatalf("ensure tables: %v", err)
	}
	store, _ := NewSQLRowStore(db)
	ctx := context.Background()

	for _, row := range []rowguard.Row{
		{"id": "d1", "title": "alpha", "owner_id": "alice"},
		{"id": "d2", "title": "beta", "owner_id": "alice"},
		{"id": "d3", "title": "gamma", "owner_id": "bob"},
	} {
		if err := store.Insert(ctx, "documents", row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	set, err := rowguard.CompileSchema([]*rowguard.TableSchema{schema}, nil, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	alice := &rowguard.StaticSession{ID: "alice"}

	rows, err := store.Select(ctx, "documents", schema.FieldNames(), set.RowFilter("documents", rowguard.ActionRead, alice))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for alice, got %d", len(rows))
	}
	for _, row := range rows {
		if row["owner_id"] != "alice" {
			t.Fatalf("leaked foreign row: %+v", row)
		}
	}

	bob := &rowguard.StaticSession{ID: "bob"}
	rows, err = store.Select(ctx, "documents", schema.FieldNames(), set.RowFilter("documents", rowguard.ActionRead, bob))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "d3" {
		t.Fatalf("unexpected rows for bob: %+v", rows)
	}
}

func TestSQLRowStoreUpdateDeleteAffected(t *testing.T) {
	db := openTestDB(t)
	schema := documentsSchema()
	if err := EnsureTables(db, schema); err != nil {
		t.Fatalf("ensure tables: %v", err)
	}
	store, _ := NewSQLRowStore(db)
	ctx := context.Background()

	if err := store.Insert(ctx, "documents", rowguard.Row{"id": "d1", "title": "alpha", "owner_id": "alice"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	set, err := rowguard.CompileSchema([]*rowguard.TableSchema{schema}, nil, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// bob's predicate excludes alice's row: zero affected, no error
	bob := &rowguard.StaticSession{ID: "bob"}
	n, err := store.Update(ctx, "documents", rowguard.Row{"title": "hijacked"}, set.RowFilter("documents", rowguard.ActionUpdate, bob))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 affected for bob, got %d", n)
	}

	alice := &rowguard.StaticSession{ID: "alice"}
	n, err = store.Update(ctx, "documents", rowguard.Row{"title": "renamed"}, set.RowFilter("documents", rowguard.ActionUpdate, alice))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 affected for alice, got %d", n)
	}

	n, err = store.Delete(ctx, "documents", set.RowFilter("documents", rowguard.ActionDelete, bob))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deleted for bob, got %d", n)
	}
	n, err = store.Delete(ctx, "documents", set.RowFilter("documents", rowguard.ActionDelete, alice))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted for alice, got %d", n)
	}
}
