package meta

import "io"

// Vault stores encrypted archive copies of version content and the instance's
// metadata snapshots. Content and metadata are streamed through io.Reader/io.Writer.
type Vault interface {
	// PutContent stores content under its SHA-256 checksum. Storing the same
	// checksum again is a no-op.
	PutContent(checksum string, r io.Reader, size int64) error

	// GetContent writes the content stored under checksum to w.
	GetContent(checksum string, w io.Writer) error

	// PutMetadata stores a named metadata item for an instance, tagged with version.
	// Known names: "db" (SQLite snapshot), "public_key", "private_key".
	PutMetadata(instanceID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata writes a named metadata item for an instance to w.
	GetMetadata(instanceID string, name string, w io.Writer) error

	// GetMetadataVersion returns the stored version of a metadata item, or 0.
	GetMetadataVersion(instanceID string, name string) (int64, error)

	// ValidateSetup checks that the vault is reachable and writable.
	ValidateSetup() error
}
