package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("FMETA_CONFIG_PATH", "/custom/fmeta.toml")
		t.Setenv("FMETA_HOME", "/custom/fmeta")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := map[string]string{
			"config_path": "/custom/fmeta.toml",
			"base_dir":    "/custom/fmeta",
			"log_dir":     "/custom/fmeta/log",
			"env_file":    "/custom/fmeta/.env",
		}
		for key, value := range want {
			if defaults[key] != value {
				t.Errorf("%s = %q, want %q", key, defaults[key], value)
			}
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("FMETA_CONFIG_PATH", "")
		t.Setenv("FMETA_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantConfig := filepath.Join(homeDir, ".config", "fmeta.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}
		wantBase := filepath.Join(homeDir, ".local", "share", "fmeta")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
		if defaults["log_dir"] != filepath.Join(wantBase, "log") {
			t.Errorf("log_dir = %q", defaults["log_dir"])
		}
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "FMETA_LOADENV_NEW=from-file\nFMETA_LOADENV_SET=from-file\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("FMETA_LOADENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("FMETA_LOADENV_NEW") })

	if err := LoadEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if got := os.Getenv("FMETA_LOADENV_NEW"); got != "from-file" {
		t.Errorf("FMETA_LOADENV_NEW = %q, want %q", got, "from-file")
	}
	if got := os.Getenv("FMETA_LOADENV_SET"); got != "from-env" {
		t.Errorf("FMETA_LOADENV_SET = %q, want the existing value", got)
	}
}
