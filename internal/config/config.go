package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config is the fmeta instance configuration.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Spool      SpoolConfig      `toml:"spool"`
	Events     EventsConfig     `toml:"events"`
}

// DatabaseConfig selects the metadata database.
// The Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// GatewayConfig locates the storage gateway's metadata API.
type GatewayConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
	UserAgent      string `toml:"user_agent,omitempty"`
}

// VaultConfig selects an archive vault backend.
// The Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"` // S3-compatible stores, e.g. MinIO or localstack
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds the age key pair used to encrypt archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SpoolConfig selects the inbound event spool.
type SpoolConfig struct {
	Type      string `toml:"type"`                // "memory" or "filesystem"
	SpoolDir  string `toml:"spool_dir,omitempty"` // only used for type=filesystem
	MaxEvents int    `toml:"max_events"`          // queue capacity; defaults to 10000
}

// EventsConfig filters inbound gateway events.
type EventsConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a Config rooted at baseDir with default paths and backends.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Database:   DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Gateway:    GatewayConfig{BaseURL: "http://localhost:7777", TimeoutSeconds: 30},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "fmeta.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "fmeta.key"),
		},
		Spool:  SpoolConfig{Type: "filesystem", SpoolDir: filepath.Join(baseDir, "spool"), MaxEvents: 10000},
		Events: EventsConfig{Ignore: []string{".DS_Store", "Thumbs.db", "*.tmp"}},
	}
}

// Validate reports the first structural problem in cfg.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.InstanceID, validation.Required),
		validation.Field(&c.BaseDir, validation.Required),
		validation.Field(&c.Database),
		validation.Field(&c.Gateway),
		validation.Field(&c.Vaults, validation.Length(0, 1).Error("only one vault is supported")),
		validation.Field(&c.Encryption),
		validation.Field(&c.Spool),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Type, validation.Required, validation.In("sqlite", "memory")),
		validation.Field(&d.DataDir, validation.When(d.Type == "sqlite", validation.Required)),
	)
}

func (g GatewayConfig) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.BaseURL, is.URL),
		validation.Field(&g.TimeoutSeconds, validation.Min(0)),
	)
}

func (v VaultConfig) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Type, validation.Required, validation.In("memory", "s3", "filesystem")),
		validation.Field(&v.Name, validation.Required),
		validation.Field(&v.S3Bucket, validation.When(v.Type == "s3", validation.Required)),
		validation.Field(&v.S3Endpoint, validation.When(v.S3Endpoint != "", is.URL)),
		validation.Field(&v.FSVaultRoot, validation.When(v.Type == "filesystem", validation.Required)),
	)
}

func (e EncryptionConfig) Validate() error {
	needsKeys := e.Type == "" || e.Type == "age"
	return validation.ValidateStruct(&e,
		validation.Field(&e.Type, validation.In("age", "test", "none")),
		validation.Field(&e.PublicKeyPath, validation.When(needsKeys, validation.Required)),
		validation.Field(&e.PrivateKeyPath, validation.When(needsKeys, validation.Required)),
	)
}

func (s SpoolConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Type, validation.Required, validation.In("memory", "filesystem")),
		validation.Field(&s.SpoolDir, validation.When(s.Type == "filesystem", validation.Required)),
		validation.Field(&s.MaxEvents, validation.Min(0)),
	)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r. Keys that match no field are rejected.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// Write encodes a Config to w.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates the Config at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
