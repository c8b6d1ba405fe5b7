package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration schema. The same structure decodes
// from YAML or TOML; the file extension selects the decoder.
type FileConfig struct {
	Logging     FileLoggingConfig      `yaml:"logging" toml:"logging"`
	Server      FileServerConfig       `yaml:"server" toml:"server"`
	Manager     FileManagerConfig      `yaml:"manager" toml:"manager"`
	Connections []FileConnectionConfig `yaml:"connections" toml:"connections"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// FileServerConfig holds health/metrics server settings.
type FileServerConfig struct {
	HealthPort int `yaml:"health_port" toml:"health_port"`
}

// FileManagerConfig holds connection manager settings.
type FileManagerConfig struct {
	IdleInterval string `yaml:"idle_interval" toml:"idle_interval"`
}

// FileConnectionConfig is one named connection profile as written in the
// config file.
type FileConnectionConfig struct {
	Name string `yaml:"name" toml:"name"`

	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
	User string `yaml:"user" toml:"user"`

	KeyFile           string `yaml:"key_file" toml:"key_file"`
	KeyData           string `yaml:"key_data" toml:"key_data"`
	KeyPassphrase     string `yaml:"key_passphrase" toml:"key_passphrase"`
	KeyPassphraseFile string `yaml:"key_passphrase_file" toml:"key_passphrase_file"`
	Password          string `yaml:"password" toml:"password"`
	PasswordFile      string `yaml:"password_file" toml:"password_file"`

	KnownHostsFile  string `yaml:"known_hosts_file" toml:"known_hosts_file"`
	InsecureHostKey bool   `yaml:"insecure_host_key" toml:"insecure_host_key"`

	Timeout string `yaml:"timeout" toml:"timeout"`

	// Environment is an ordered list of KEY=VALUE entries exported on the
	// remote side. Order is preserved because later entries may reference
	// earlier ones in the remote shell.
	Environment []string `yaml:"environment" toml:"environment"`

	// Flags is a list of feature-flag expressions ("name", "+name", "-name",
	// "name=true").
	Flags []string `yaml:"flags" toml:"flags"`

	Automount bool `yaml:"automount" toml:"automount"`
}

// LoadFile reads and decodes a configuration file. YAML is the default
// decoder; files ending in .toml use TOML.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	}

	if err := validateFile(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// validateFile checks the decoded file for structural problems that would
// otherwise surface much later as confusing dial errors.
func validateFile(cfg *FileConfig) error {
	if cfg.Manager.IdleInterval != "" {
		if _, err := time.ParseDuration(cfg.Manager.IdleInterval); err != nil {
			return fmt.Errorf("manager.idle_interval: %w", err)
		}
	}

	seen := make(map[string]bool, len(cfg.Connections))
	for i, conn := range cfg.Connections {
		if conn.Name == "" {
			return fmt.Errorf("connections[%d]: name is required", i)
		}
		if seen[conn.Name] {
			return fmt.Errorf("connections[%d]: duplicate name %q", i, conn.Name)
		}
		seen[conn.Name] = true

		if conn.Host == "" {
			return fmt.Errorf("connection %q: host is required", conn.Name)
		}
		if conn.Port < 0 || conn.Port > 65535 {
			return fmt.Errorf("connection %q: invalid port %d", conn.Name, conn.Port)
		}
		if conn.Timeout != "" {
			if _, err := time.ParseDuration(conn.Timeout); err != nil {
				return fmt.Errorf("connection %q: timeout: %w", conn.Name, err)
			}
		}
		for _, entry := range conn.Environment {
			if !strings.Contains(entry, "=") {
				return fmt.Errorf("connection %q: environment entry %q is not KEY=VALUE", conn.Name, entry)
			}
		}
	}

	return nil
}
