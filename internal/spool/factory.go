package spool

import (
	"errors"
	"fmt"

	"fmeta-go/internal/config"
	"fmeta-go/internal/meta"
)

// DefaultMaxEvents is the spool capacity when none is configured.
const DefaultMaxEvents = 10000

// ErrSpoolFull is returned by Stage when the spool is at capacity.
var ErrSpoolFull = errors.New("event spool is full")

// NewSpoolFromConfig creates an EventSpool based on the config type.
func NewSpoolFromConfig(cfg config.SpoolConfig) (meta.EventSpool, error) {
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	switch cfg.Type {
	case "memory":
		return NewMemorySpool(maxEvents), nil
	case "filesystem":
		if cfg.SpoolDir == "" {
			return nil, fmt.Errorf("filesystem spool requires spool_dir to be set")
		}
		s, err := NewFileSystemSpool(cfg.SpoolDir, maxEvents)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown spool type: %s", cfg.Type)
	}
}
