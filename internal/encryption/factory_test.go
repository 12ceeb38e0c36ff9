package encryption

import (
	"bytes"
	"fmt"
	"testing"

	"fmeta-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		want    string
		wantErr bool
	}{
		{name: "age", cfg: config.EncryptionConfig{Type: "age", PublicKeyPath: "k.pub", PrivateKeyPath: "k.key"}, want: "*encryption.AgeEncryptor"},
		{name: "default is age", cfg: config.EncryptionConfig{}, want: "*encryption.AgeEncryptor"},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}, want: "*encryption.TestEncryptor"},
		{name: "none", cfg: config.EncryptionConfig{Type: "none"}, want: "encryption.NoneEncryptor"},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if typeName := fmt.Sprintf("%T", got); typeName != tt.want {
				t.Errorf("NewEncryptorFromConfig() = %s, want %s", typeName, tt.want)
			}
		})
	}
}

func TestNoneEncryptor_Passthrough(t *testing.T) {
	t.Parallel()

	var enc NoneEncryptor
	var out bytes.Buffer
	if err := enc.Encrypt(bytes.NewReader([]byte("plain")), &out); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if out.String() != "plain" {
		t.Errorf("Encrypt() = %q, want %q", out.String(), "plain")
	}

	dc, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var back bytes.Buffer
	if err := dc.Decrypt(&out, &back); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if back.String() != "plain" {
		t.Errorf("Decrypt() = %q, want %q", back.String(), "plain")
	}
}
