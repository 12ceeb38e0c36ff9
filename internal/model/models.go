package model

import (
	"database/sql"
	"time"
)

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// FileNode is a live file or folder at a storage provider.
// Folders have no stored child list: children are the live nodes whose ParentID is the folder's ID.
type FileNode struct {
	ID               string         // UUID
	ProjectID        string         // Owning project
	ParentID         sql.NullString // NULL only for a provider root
	Provider         string         // Provider tag, e.g. "osfstorage", "github"
	Kind             Kind
	Path             string         // Absolute path at the provider; folders end in "/"
	Name             string         // Display name
	MaterializedPath string         // Stored for gateway providers; empty for the built-in store (computed)
	CheckoutUserID   sql.NullString // Files only
	History          string         // JSON of the last metadata reported by the gateway
	CreatedAt        time.Time
	ModifiedAt       time.Time
	LastTouched      sql.NullTime
}

// IsFile reports whether n is a file.
func (n *FileNode) IsFile() bool { return n.Kind == KindFile }

// IsRoot reports whether n is a provider root folder.
func (n *FileNode) IsRoot() bool { return !n.ParentID.Valid }

// TrashedFileNode is the tombstone of a deleted FileNode. It keeps the same ID.
type TrashedFileNode struct {
	FileNode
	DeletedBy string
	DeletedAt time.Time
}

// FileVersion is an immutable revision of a file.
type FileVersion struct {
	ID           string // UUID; empty for ephemeral versions that were never saved
	NodeID       string // Owning file
	Seq          int64  // Position in the owning file's ledger, starting at 1
	Identifier   string // Provider revision token, or Seq as a string for the built-in store
	CreatorID    string
	Location     string // JSON-encoded opaque backend locator
	LocationHash string // SHA-256 of the canonical location encoding
	Size         int64
	ContentType  string
	ModifiedAt   sql.NullTime
	SHA256       string         // Content hash, when known
	ArchiveRef   sql.NullString // Reference to a long-term archival copy
	Draft        bool           // Unpublished content; rendered with a placeholder
	CreatedAt    time.Time
}

// Saved reports whether v exists in the ledger.
func (v *FileVersion) Saved() bool { return v.ID != "" }

// Guid is a stable external identifier that points at exactly one referent.
type Guid struct {
	ID           string
	ReferentKind string
	ReferentID   string
	CreatedAt    time.Time
}

// Comment is a comment anchored to a Guid through RootTarget.
type Comment struct {
	ID         string
	ProjectID  string
	RootTarget string // Guid ID
	UserID     string
	Content    string
	CreatedAt  time.Time
}

// Operation records a CLI operation that mutated the database.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Operation  string
	Parameters string
	Status     string
}
