package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"fmeta-go/internal/database/migrations"
	"fmeta-go/internal/meta"
	"fmeta-go/internal/model"
)

// SQLiteDatabase implements meta.Database using SQLite.
type SQLiteDatabase struct {
	*store
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and applies pending migrations.
// path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path), nil
}

// NewSQLiteDatabaseFromDB wraps an open connection. The caller is responsible
// for its PRAGMAs and schema.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string) *SQLiteDatabase {
	return &SQLiteDatabase{
		store: &store{db: db},
		db:    db,
		path:  path,
	}
}

// OpenConnection opens a SQLite connection with foreign keys enforced.
// The pool is capped at one connection: every ":memory:" connection is a
// separate database, and SQLite serializes writers anyway.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// InTx runs fn in a transaction. The transaction commits when fn returns nil
// and rolls back otherwise.
func (s *SQLiteDatabase) InTx(ctx context.Context, fn func(meta.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&store{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation string, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		StartedAt:  time.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
	}
	res, err := s.db.Exec(
		`INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)`,
		op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		sql.NullTime{Time: time.Now().UTC(), Valid: true}, status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*model.Operation, error) {
	return queryMany(context.Background(), s.db, scanOperation, "operations",
		`SELECT id, started_at, finished_at, operation, parameters, status FROM operations
		 ORDER BY id DESC LIMIT ?`, limit)
}

func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM operations`).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id.Int64, nil
}

// Path returns the database file path, or ":memory:".
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ meta.Database = (*SQLiteDatabase)(nil)
