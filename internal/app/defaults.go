package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - FMETA_CONFIG_PATH: config file location (default: ~/.config/fmeta.toml)
//   - FMETA_HOME: base directory for fmeta data (default: ~/.local/share/fmeta)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"env_file":    filepath.Join(baseDir, ".env"),
	}, nil
}

// LoadEnv sets variables from each existing .env file in paths. Missing files
// are skipped, and variables already present in the environment are kept.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
	}
	return nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("FMETA_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fmeta.toml"), nil
}

// getBaseDir follows XDG: ~/.local/share/fmeta unless FMETA_HOME is set.
func getBaseDir() (string, error) {
	if path := os.Getenv("FMETA_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "fmeta"), nil
}
