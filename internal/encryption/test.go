package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"fmeta-go/internal/meta"
)

// testHeader marks output of TestEncryptor.
var testHeader = []byte("FMENC\x00\x01\x00")

// testMask is XORed over every payload byte so archived plaintext never shows
// through in the vault.
const testMask = 0x5a

// ErrWrongPassphrase is returned by TestEncryptor.Unlock for a passphrase
// other than the one given to Setup.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor is a deterministic, keyless stand-in for age. Before Setup
// any passphrase unlocks it; after Setup only the same one does.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
	encrypted  int
}

var _ meta.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if err := mask(r, w); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	e.mu.Lock()
	e.encrypted++
	e.mu.Unlock()
	return nil
}

// Encryptions reports how many payloads have been encrypted.
func (e *TestEncryptor) Encryptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encrypted
}

func (e *TestEncryptor) Unlock(passphrase string) (meta.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext reverses TestEncryptor.Encrypt.
type TestDecryptionContext struct{}

var _ meta.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if err := mask(r, w); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}

func mask(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := bw.WriteByte(b ^ testMask); err != nil {
			return err
		}
	}
	return bw.Flush()
}
