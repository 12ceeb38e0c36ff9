package testutil

import (
	"crypto/sha256"
	"encoding/hex"

	"fmeta-go/internal/vault"
)

// NewTestVault creates an in-memory vault. The concrete type is returned so
// tests can inspect stored archives.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}

// SHA256Hex is the archive key of plaintext data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
