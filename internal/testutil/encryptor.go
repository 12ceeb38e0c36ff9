package testutil

import (
	"fmeta-go/internal/encryption"
	"fmeta-go/internal/meta"
)

// NewTestEncryptor returns the keyless masking encryptor. Callers that need
// Encryptions() can type-assert to *encryption.TestEncryptor.
func NewTestEncryptor() meta.Encryptor {
	return encryption.NewTestEncryptor()
}
