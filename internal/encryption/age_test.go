package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"fmeta-go/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "fmeta.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "fmeta.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	if e.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
	if err := e.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}

	err := e.Setup("other-passphrase")
	if !errors.Is(err, ErrKeysExist) {
		t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
	}
	if _, err := e.Unlock("test-passphrase"); err != nil {
		t.Errorf("Unlock() with original passphrase after refused Setup: %v", err)
	}
}

func TestAgeEncryptor_SetupEmptyPassphrase(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	if err := e.Setup(""); err == nil {
		t.Error("Setup(\"\") expected error")
	}
	if e.IsConfigured() {
		t.Error("IsConfigured() = true after failed Setup")
	}
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			passphrase := "test-passphrase"
			e := newTestAgeEncryptor(t)
			if err := e.Setup(passphrase); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(encrypted.Bytes(), tt.input) {
				t.Error("ciphertext contains the plaintext")
			}

			dc, err := e.Unlock(passphrase)
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var decrypted bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", decrypted.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_Errors(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("correct-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("wrong-passphrase"); err == nil {
			t.Error("Unlock() with wrong passphrase should return error")
		}
	})

	t.Run("encrypt before setup", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Encrypt(bytes.NewReader([]byte("data")), &bytes.Buffer{}); err == nil {
			t.Error("Encrypt() before Setup should return error")
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if _, err := e.Unlock("passphrase"); err == nil {
			t.Error("Unlock() before Setup should return error")
		}
	})

	t.Run("decrypt tampered ciphertext", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("pw"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		var encrypted bytes.Buffer
		if err := e.Encrypt(bytes.NewReader([]byte("archive body")), &encrypted); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		data := encrypted.Bytes()
		data[len(data)-1] ^= 0xff

		dc, err := e.Unlock("pw")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		if err := dc.Decrypt(bytes.NewReader(data), &bytes.Buffer{}); err == nil {
			t.Error("Decrypt() of tampered ciphertext should return error")
		}
	})
}
