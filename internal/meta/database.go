package meta

import (
	"context"

	"fmeta-go/internal/model"
)

// Referent kinds a Guid may point at.
const (
	ReferentFile        = "file"
	ReferentTrashedFile = "trashed_file"
)

// Store provides metadata storage operations.
// Find* methods return (nil, nil) when no record matches.
// Create* methods return an error wrapping ErrConflict on uniqueness violations.
type Store interface {
	// Live nodes

	// FindNodeByID returns a live node by ID.
	FindNodeByID(ctx context.Context, id string) (*model.FileNode, error)

	// FindNodeByPath returns the live node of the given kind at a provider path within a project.
	FindNodeByPath(ctx context.Context, projectID, provider, path string, kind model.Kind) (*model.FileNode, error)

	// FindRootNode returns the root folder of a provider within a project.
	FindRootNode(ctx context.Context, projectID, provider string) (*model.FileNode, error)

	// FindChildren returns the live nodes whose parent is parentID, ordered by name.
	FindChildren(ctx context.Context, parentID string) ([]*model.FileNode, error)

	// FindChildByName returns the live child of parentID with the given name and kind.
	FindChildByName(ctx context.Context, parentID, name string, kind model.Kind) (*model.FileNode, error)

	// CreateNode inserts a live node.
	CreateNode(ctx context.Context, node *model.FileNode) error

	// UpdateNode rewrites every mutable column of a live node.
	UpdateNode(ctx context.Context, node *model.FileNode) error

	// DeleteNode removes a live node. Deleting a missing node is not an error.
	DeleteNode(ctx context.Context, id string) error

	// Tombstones

	// FindTrashedByID returns a tombstone by ID.
	FindTrashedByID(ctx context.Context, id string) (*model.TrashedFileNode, error)

	// FindTrashedChildren returns the tombstones whose parent is parentID.
	FindTrashedChildren(ctx context.Context, parentID string) ([]*model.TrashedFileNode, error)

	// UpsertTrashed inserts or replaces a tombstone keyed by ID.
	UpsertTrashed(ctx context.Context, trashed *model.TrashedFileNode) error

	// DeleteTrashed removes a tombstone. Deleting a missing tombstone is not an error.
	DeleteTrashed(ctx context.Context, id string) error

	// Versions

	// FindVersionsForNode returns a file's versions ordered by Seq ascending.
	FindVersionsForNode(ctx context.Context, nodeID string) ([]*model.FileVersion, error)

	// FindLatestVersion returns the version with the highest Seq.
	FindLatestVersion(ctx context.Context, nodeID string) (*model.FileVersion, error)

	// FindVersionByIdentifier returns a file's version by revision identifier.
	FindVersionByIdentifier(ctx context.Context, nodeID, identifier string) (*model.FileVersion, error)

	// FindVersionByID returns a version by ID.
	FindVersionByID(ctx context.Context, id string) (*model.FileVersion, error)

	// FindArchivedVersionBySHA256 returns any version, across all files, with the given
	// content hash and a non-null archive reference.
	FindArchivedVersionBySHA256(ctx context.Context, sha256 string) (*model.FileVersion, error)

	// CreateVersion inserts a version.
	CreateVersion(ctx context.Context, version *model.FileVersion) error

	// UpdateVersionArchive sets the archive reference and content hash of a version.
	UpdateVersionArchive(ctx context.Context, id, sha256, archiveRef string) error

	// Guids

	// FindGuid returns a Guid by ID.
	FindGuid(ctx context.Context, id string) (*model.Guid, error)

	// FindGuidsByReferent returns every Guid currently pointing at the referent.
	FindGuidsByReferent(ctx context.Context, kind, referentID string) ([]*model.Guid, error)

	// CreateGuid inserts a Guid.
	CreateGuid(ctx context.Context, guid *model.Guid) error

	// RepointGuid points a Guid at a new referent.
	RepointGuid(ctx context.Context, id, kind, referentID string) error

	// RepointGuidsByReferent moves every Guid pointing at one referent to another.
	RepointGuidsByReferent(ctx context.Context, fromKind, fromID, toKind, toID string) (int64, error)

	// Comments

	// CreateComment inserts a comment.
	CreateComment(ctx context.Context, comment *model.Comment) error

	// FindCommentsByRootTarget returns the comments anchored to a Guid, oldest first.
	FindCommentsByRootTarget(ctx context.Context, guidID string) ([]*model.Comment, error)

	// RetargetComments moves every comment rooted at guidID to projectID.
	RetargetComments(ctx context.Context, guidID, projectID string) (int64, error)

	// Provider roots

	// SetProviderRoot stores the configured root folder of a path-following provider.
	SetProviderRoot(ctx context.Context, projectID, provider, rootPath string) error

	// FindProviderRoot returns the configured root folder, or "" when none is set.
	FindProviderRoot(ctx context.Context, projectID, provider string) (string, error)
}

// Database is a Store with transaction and lifecycle control.
type Database interface {
	Store

	// InTx runs fn inside a single transaction. fn must use the Store it is given.
	InTx(ctx context.Context, fn func(Store) error) error

	// Operation tracking

	// CreateOperation records the start of a mutating operation.
	CreateOperation(operation, parameters string) (*model.Operation, error)

	// FinishOperation marks an operation finished with the given status.
	FinishOperation(id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*model.Operation, error)

	// MaxOperationID returns the highest operation ID, or 0.
	MaxOperationID() (int64, error)

	// CheckMigrations verifies the schema is up-to-date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	// Close closes the database connection.
	Close() error
}
