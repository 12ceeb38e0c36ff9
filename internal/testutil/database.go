package testutil

import (
	"testing"

	"fmeta-go/internal/database"
	"fmeta-go/internal/meta"
)

// NewTestDatabase opens an in-memory SQLite database with migrations applied.
// It is closed when the test completes.
func NewTestDatabase(t *testing.T) meta.Database {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
