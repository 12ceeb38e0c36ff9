package meta

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to match them; structured variants below wrap them.
var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrVersionNotFound       = errors.New("version not found")
	ErrSubclassMismatch      = errors.New("subclass mismatch")
	ErrUnresolvedDestination = errors.New("unresolved destination")
	ErrInvalidEvent          = errors.New("invalid event")
	ErrGatewayNotConfigured  = errors.New("gateway not configured")
)

// ConflictError reports a uniqueness violation or a restore/delete that cannot proceed.
// Message is the reason string surfaced to users.
type ConflictError struct {
	Message      string
	ResourceType string // "file", "folder", "trashed_file", "version"
	ResourceID   string // ID of the existing or blocking record, if known
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Is allows errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// SubclassMismatchError reports a record whose provider/kind differs from the expected type.
type SubclassMismatchError struct {
	ID       string
	Expected string
	Got      string
}

func (e *SubclassMismatchError) Error() string {
	return fmt.Sprintf("node %s is %s, expected %s", e.ID, e.Got, e.Expected)
}

// Is allows errors.Is(err, ErrSubclassMismatch).
func (e *SubclassMismatchError) Is(target error) bool {
	return target == ErrSubclassMismatch
}
