package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const keysVersion = 1

// keyFiles maps vault metadata names to the configured key paths.
func (a *App) keyFiles() (map[string]string, error) {
	enc := a.cfg.Encryption
	if enc.Type != "" && enc.Type != "age" {
		return nil, fmt.Errorf("encryption type %q has no key files", enc.Type)
	}
	return map[string]string{
		"public_key":  enc.PublicKeyPath,
		"private_key": enc.PrivateKeyPath,
	}, nil
}

// KeysInit generates the archive key pair and copies it to the vault.
// The private key is stored wrapped with passphrase.
func (a *App) KeysInit(passphrase string) error {
	files, err := a.keyFiles()
	if err != nil {
		return err
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	for name, path := range files {
		if err := a.uploadKey(name, path); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) uploadKey(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if err := a.vault.PutMetadata(a.cfg.InstanceID, name, f, info.Size(), keysVersion); err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	return nil
}

// KeysFetch downloads the key pair from the vault. Existing key files are
// left alone; it returns the paths it wrote.
func (a *App) KeysFetch() ([]string, error) {
	files, err := a.keyFiles()
	if err != nil {
		return nil, err
	}

	var written []string
	for _, name := range []string{"public_key", "private_key"} {
		path := files[name]
		ok, err := a.downloadKey(name, path)
		if err != nil {
			return written, err
		}
		if ok {
			written = append(written, path)
		}
	}
	return written, nil
}

func (a *App) downloadKey(name, path string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("creating key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}

	if err := a.vault.GetMetadata(a.cfg.InstanceID, name, f); err != nil {
		f.Close()
		os.Remove(path)
		return false, fmt.Errorf("downloading %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
