package database

import (
	"fmt"
	"path/filepath"

	"fmeta-go/internal/config"
	"fmeta-go/internal/meta"
)

// NewDatabaseFromConfig opens the metadata database described by cfg.
// File-backed databases are named after the instance.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, instanceID string) (meta.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, instanceID+".db"))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
