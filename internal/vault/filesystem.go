package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fmeta-go/internal/meta"
)

// FileSystemVault stores archives and metadata snapshots under a directory:
//
//	<root>/
//	  archives/
//	    <checksum>              (encrypted version content)
//	  instances/
//	    <instance_id>/
//	      <name>                (metadata item, e.g. db or public_key)
//	      <name>.version
type FileSystemVault struct {
	name         string
	root         string
	archiveDir   string
	instancesDir string
}

// NewFileSystemVault creates a vault rooted at root, creating its directories.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	v := &FileSystemVault{
		name:         name,
		root:         root,
		archiveDir:   filepath.Join(root, "archives"),
		instancesDir: filepath.Join(root, "instances"),
	}
	for _, dir := range []string{v.archiveDir, v.instancesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
	}
	return v, nil
}

// PutContent stores an archive under its checksum. An archive that already
// exists is left untouched, but r is still drained and its size checked.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	if err := validName(checksum); err != nil {
		return err
	}
	destPath := filepath.Join(v.archiveDir, checksum)
	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}
	return writeAtomic(destPath, r, size)
}

// GetContent writes the archive stored under checksum to w.
func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	if err := validName(checksum); err != nil {
		return err
	}
	return copyFrom(filepath.Join(v.archiveDir, checksum), w, "content not found: "+checksum)
}

// PutMetadata stores a named metadata item for an instance, then its version tag.
func (v *FileSystemVault) PutMetadata(instanceID, name string, r io.Reader, size int64, version int64) error {
	dir, err := v.instanceDir(instanceID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, name), r, size); err != nil {
		return err
	}
	tag := strconv.FormatInt(version, 10)
	return writeAtomic(filepath.Join(dir, name+".version"), strings.NewReader(tag), int64(len(tag)))
}

// GetMetadataVersion returns the version tag of a metadata item, or 0 if none was stored.
func (v *FileSystemVault) GetMetadataVersion(instanceID, name string) (int64, error) {
	dir, err := v.instanceDir(instanceID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".version"))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata writes a named metadata item for an instance to w.
func (v *FileSystemVault) GetMetadata(instanceID, name string, w io.Writer) error {
	dir, err := v.instanceDir(instanceID, name)
	if err != nil {
		return err
	}
	return copyFrom(filepath.Join(dir, name), w, fmt.Sprintf("metadata %q not found for instance %s", name, instanceID))
}

// ValidateSetup verifies that the vault directories exist.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.archiveDir, v.instancesDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

func (v *FileSystemVault) instanceDir(instanceID, name string) (string, error) {
	if err := validName(instanceID); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(v.instancesDir, instanceID), nil
}

// validName rejects keys that would escape the vault directory.
func validName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid vault key %q", s)
	}
	return nil
}

// writeAtomic writes r to destPath through a temp file and rename.
func writeAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func copyFrom(srcPath string, w io.Writer, notFoundMsg string) error {
	f, err := os.Open(srcPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", notFoundMsg, meta.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

var _ meta.Vault = (*FileSystemVault)(nil)
