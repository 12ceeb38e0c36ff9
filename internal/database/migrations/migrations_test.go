package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	tables := []string{
		"file_nodes", "trashed_nodes", "file_versions", "guids",
		"comments", "provider_roots", "operations", "schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheckStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckStatus(db)
		if !errors.Is(err, ErrNeedsMigration) {
			t.Errorf("CheckStatus() error = %v, want ErrNeedsMigration", err)
		}
	})

	t.Run("ok after migration", func(t *testing.T) {
		db := openTestDB(t)
		if err := Up(db); err != nil {
			t.Fatalf("Up() failed: %v", err)
		}

		if err := CheckStatus(db); err != nil {
			t.Errorf("CheckStatus() after migration returned error: %v", err)
		}
	})
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("first Up() failed: %v", err)
	}
	if err := Up(db); err != nil {
		t.Errorf("second Up() failed: %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after double migration returned error: %v", err)
	}
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if v != 1 {
		t.Errorf("LatestVersion() = %d, want 1", v)
	}
}

func TestSchema_NodeTupleUnique(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	insert := `INSERT INTO file_nodes (id, project_id, parent_id, provider, kind, path, name, created_at, modified_at)
		VALUES (?, 'p1', 'root', 'github', 'file', '/a.txt', 'a.txt', datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert, "n1"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "n2"); err == nil {
		t.Error("expected unique constraint violation for duplicate node tuple, but insert succeeded")
	}
}

func TestSchema_OneRootPerProvider(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	insert := `INSERT INTO file_nodes (id, project_id, parent_id, provider, kind, path, name, created_at, modified_at)
		VALUES (?, 'p1', NULL, 'osfstorage', 'folder', '/', '', datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert, "r1"); err != nil {
		t.Fatalf("first root insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "r2"); err == nil {
		t.Error("expected unique violation for a second root, but insert succeeded")
	}
}

func TestSchema_CommentRequiresGuid(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO comments (id, project_id, root_target, user_id, content, created_at)
		VALUES ('c1', 'p1', 'missing-guid', 'u1', 'hi', datetime('now'))`)
	if err == nil {
		t.Error("expected foreign key violation, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database with foreign keys enabled.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
