package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fmeta-go/internal/meta"
)

func newTestFileSystemVault(t *testing.T) *FileSystemVault {
	t.Helper()
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	return v
}

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")

		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		for _, dir := range []string{"archives", "instances"} {
			if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
				t.Errorf("%s directory not created: %v", dir, err)
			}
		}
		if v.name != "test" {
			t.Errorf("name = %q, want %q", v.name, "test")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault("test", t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_PutContent(t *testing.T) {
	tests := []struct {
		name     string
		checksum string
		data     string
		size     int64
		wantErr  bool
	}{
		{name: "store archive", checksum: "abc123", data: "hello world", size: 11},
		{name: "size mismatch", checksum: "def456", data: "short", size: 100, wantErr: true},
		{name: "empty archive", checksum: "empty", data: "", size: 0},
		{name: "path traversal", checksum: "../escape", data: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestFileSystemVault(t)

			err := v.PutContent(tt.checksum, strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got, err := os.ReadFile(filepath.Join(v.archiveDir, tt.checksum))
			if err != nil {
				t.Fatalf("reading stored archive: %v", err)
			}
			if string(got) != tt.data {
				t.Errorf("stored = %q, want %q", got, tt.data)
			}
		})
	}
}

func TestFileSystemVault_PutContent_Idempotent(t *testing.T) {
	v := newTestFileSystemVault(t)

	for i := 0; i < 2; i++ {
		if err := v.PutContent("abc123", strings.NewReader("hello"), 5); err != nil {
			t.Fatalf("PutContent() iteration %d error = %v", i+1, err)
		}
	}
	if err := v.PutContent("abc123", strings.NewReader("hello!"), 5); err == nil {
		t.Error("PutContent() of existing archive with wrong size expected error")
	}
}

func TestFileSystemVault_GetContent(t *testing.T) {
	v := newTestFileSystemVault(t)

	t.Run("retrieve existing archive", func(t *testing.T) {
		if err := v.PutContent("abc123", strings.NewReader("hello"), 5); err != nil {
			t.Fatalf("PutContent() error = %v", err)
		}
		var buf bytes.Buffer
		if err := v.GetContent("abc123", &buf); err != nil {
			t.Fatalf("GetContent() error = %v", err)
		}
		if buf.String() != "hello" {
			t.Errorf("content = %q, want %q", buf.String(), "hello")
		}
	})

	t.Run("archive not found", func(t *testing.T) {
		err := v.GetContent("nonexistent", &bytes.Buffer{})
		if !errors.Is(err, meta.ErrNotFound) {
			t.Errorf("GetContent() error = %v, want ErrNotFound", err)
		}
	})
}

func TestFileSystemVault_Metadata(t *testing.T) {
	v := newTestFileSystemVault(t)

	if err := v.PutMetadata("inst-1", "db", strings.NewReader("version 1"), 9, 1); err != nil {
		t.Fatalf("first PutMetadata() error = %v", err)
	}
	if err := v.PutMetadata("inst-1", "db", strings.NewReader("version 2"), 9, 2); err != nil {
		t.Fatalf("second PutMetadata() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.GetMetadata("inst-1", "db", &buf); err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if buf.String() != "version 2" {
		t.Errorf("metadata = %q, want %q", buf.String(), "version 2")
	}

	version, err := v.GetMetadataVersion("inst-1", "db")
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("GetMetadataVersion() = %d, want 2", version)
	}

	version, err = v.GetMetadataVersion("inst-1", "public_key")
	if err != nil {
		t.Fatalf("GetMetadataVersion() for missing item error = %v", err)
	}
	if version != 0 {
		t.Errorf("GetMetadataVersion() for missing item = %d, want 0", version)
	}

	err = v.GetMetadata("inst-2", "db", &bytes.Buffer{})
	if !errors.Is(err, meta.ErrNotFound) {
		t.Errorf("GetMetadata() for other instance error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "metadata \"db\" not found") {
		t.Errorf("error = %v, want it to name the missing item", err)
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		if err := newTestFileSystemVault(t).ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("missing root directory", func(t *testing.T) {
		v := &FileSystemVault{
			name:         "test",
			root:         "/nonexistent/path",
			archiveDir:   "/nonexistent/path/archives",
			instancesDir: "/nonexistent/path/instances",
		}
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error for missing root")
		}
	})
}

func TestFileSystemVault_AtomicWrite(t *testing.T) {
	v := newTestFileSystemVault(t)

	if err := v.PutContent("abc123", strings.NewReader("hello world"), 11); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if err := v.PutContent("bad", strings.NewReader("short"), 50); err == nil {
		t.Fatal("PutContent() expected size mismatch error")
	}

	entries, err := os.ReadDir(v.archiveDir)
	if err != nil {
		t.Fatalf("failed to read archive dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
		if entry.Name() == "bad" {
			t.Error("truncated archive was kept")
		}
	}
}
