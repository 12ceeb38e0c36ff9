//go:build ignore

// generate_schema migrates an in-memory database and writes its DDL to
// internal/database/schema.sql.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fmeta-go/internal/database"
	"fmeta-go/internal/database/migrations"
)

const header = `-- Generated from internal/database/migrations/files/*.sql. Do not edit.
-- Regenerate with: go generate ./internal/database

`

func main() {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		fail("opening database", err)
	}
	defer db.Close()

	if err := migrations.Up(db); err != nil {
		fail("migrating", err)
	}

	ddl, err := dumpSchema(db)
	if err != nil {
		fail("dumping schema", err)
	}

	out := filepath.Join("internal", "database", "schema.sql")
	if err := os.WriteFile(out, []byte(header+ddl), 0644); err != nil {
		fail("writing "+out, err)
	}
	fmt.Printf("wrote %s\n", out)
}

// dumpSchema returns tables then indexes, skipping SQLite internals and the
// migration bookkeeping table.
func dumpSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT sql FROM sqlite_master
		WHERE type IN ('table', 'index') AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%' AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", err
		}
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String(), rows.Err()
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
