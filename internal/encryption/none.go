package encryption

import (
	"io"

	"fmeta-go/internal/meta"
)

// NoneEncryptor stores archives as plaintext. Selected with encryption type "none"
// for vaults that encrypt at rest themselves.
type NoneEncryptor struct{}

var _ meta.Encryptor = NoneEncryptor{}

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (NoneEncryptor) Unlock(string) (meta.DecryptionContext, error) {
	return plaintext{}, nil
}

func (NoneEncryptor) IsConfigured() bool { return true }

type plaintext struct{}

func (plaintext) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
