package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"fmeta-go/internal/meta"
)

// memoryItem is a stored metadata item and its version tag.
type memoryItem struct {
	data    []byte
	version int64
}

// MemoryVault keeps archives and metadata snapshots in memory. It is used in
// tests and by the "memory" vault type. Safe for concurrent use.
type MemoryVault struct {
	name     string
	mu       sync.RWMutex
	archives map[string][]byte      // checksum -> ciphertext
	items    map[string]*memoryItem // "instance/name" -> item
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		archives: make(map[string][]byte),
		items:    make(map[string]*memoryItem),
	}
}

func itemKey(instanceID, name string) string {
	return instanceID + "/" + name
}

func readExactly(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

// PutContent stores an archive under its checksum.
func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.archives[checksum]; !ok {
		m.archives[checksum] = data
	}
	return nil
}

// GetContent writes the archive stored under checksum to w.
func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.archives[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content not found: %s: %w", checksum, meta.ErrNotFound)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

// PutMetadata stores a named metadata item for an instance.
func (m *MemoryVault) PutMetadata(instanceID, name string, r io.Reader, size int64, version int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey(instanceID, name)] = &memoryItem{data: data, version: version}
	return nil
}

// GetMetadataVersion returns the version tag of a metadata item, or 0.
func (m *MemoryVault) GetMetadataVersion(instanceID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if item, ok := m.items[itemKey(instanceID, name)]; ok {
		return item.version, nil
	}
	return 0, nil
}

// GetMetadata writes a named metadata item for an instance to w.
func (m *MemoryVault) GetMetadata(instanceID, name string, w io.Writer) error {
	m.mu.RLock()
	item, ok := m.items[itemKey(instanceID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metadata %q not found for instance %s: %w", name, instanceID, meta.ErrNotFound)
	}
	_, err := io.Copy(w, bytes.NewReader(item.data))
	return err
}

// ValidateSetup always succeeds.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ meta.Vault = (*MemoryVault)(nil)
