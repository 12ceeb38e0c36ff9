package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestTestEncryptor_EncryptDecrypt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x5a, 0xfe}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()
			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			payload, ok := bytes.CutPrefix(encrypted.Bytes(), testHeader)
			if !ok {
				t.Fatal("encrypted output does not start with test header")
			}
			if len(tt.input) > 0 && bytes.Equal(payload, tt.input) {
				t.Error("payload is stored in the clear")
			}
			if e.Encryptions() != 1 {
				t.Errorf("Encryptions() = %d, want 1", e.Encryptions())
			}

			dc, err := e.Unlock("any-passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var decrypted bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %q, want %q", decrypted.Bytes(), tt.input)
			}
		})
	}
}

func TestTestEncryptor_Passphrase(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	if err := e.Setup(""); err == nil {
		t.Error("Setup(\"\") error = nil, want error")
	}
	if err := e.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("secret"); err != nil {
		t.Errorf("Unlock(secret) error = %v", err)
	}
	if _, err := e.Unlock("guess"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock(guess) error = %v, want ErrWrongPassphrase", err)
	}
}

func TestTestDecryptionContext_BadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "invalid header", input: []byte("NOT_VALID_HEADER_data")},
		{name: "truncated header", input: []byte("FM")},
		{name: "empty", input: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dc := &TestDecryptionContext{}
			if err := dc.Decrypt(bytes.NewReader(tt.input), &bytes.Buffer{}); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}
