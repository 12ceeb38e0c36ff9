package vault

import (
	"context"
	"path/filepath"
	"testing"

	"fmeta-go/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.VaultConfig
		wantErr bool
	}{
		{
			name: "memory vault",
			cfg:  config.VaultConfig{Type: "memory", Name: "test-memory"},
		},
		{
			name: "filesystem vault",
			cfg:  config.VaultConfig{Type: "filesystem", Name: "test-fs", FSVaultRoot: filepath.Join(t.TempDir(), "vault")},
		},
		{
			name:    "filesystem vault without root",
			cfg:     config.VaultConfig{Type: "filesystem", Name: "test-fs"},
			wantErr: true,
		},
		{
			name:    "s3 vault without bucket",
			cfg:     config.VaultConfig{Type: "s3", Name: "test-s3"},
			wantErr: true,
		},
		{
			name:    "unknown vault type",
			cfg:     config.VaultConfig{Type: "unknown", Name: "test-unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewVaultFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Errorf("NewVaultFromConfig() = %v, want nil on error", got)
				}
				return
			}
			if err := got.ValidateSetup(); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestNewVaultFromConfig_S3(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	got, err := NewVaultFromConfig(context.Background(), config.VaultConfig{
		Type:        "s3",
		Name:        "archive",
		S3Bucket:    "fmeta-archive",
		S3Prefix:    "prod",
		S3Region:    "us-east-1",
		S3Endpoint:  "http://localhost:9000",
		S3AccessKey: "minio",
		S3SecretKey: "minio-secret",
	})
	if err != nil {
		t.Fatalf("NewVaultFromConfig() error = %v", err)
	}
	v, ok := got.(*S3Vault)
	if !ok {
		t.Fatalf("NewVaultFromConfig() = %T, want *S3Vault", got)
	}
	if key := v.archiveKey("abc"); key != "prod/archives/abc" {
		t.Errorf("archiveKey() = %q, want %q", key, "prod/archives/abc")
	}
	if key := v.itemKey("inst-1", "db"); key != "prod/instances/inst-1/db" {
		t.Errorf("itemKey() = %q, want %q", key, "prod/instances/inst-1/db")
	}
}
