package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kelvinfs/kelvinfs/internal/connection"
)

// Store holds the loaded connection profiles and implements the manager's
// config source. Raw profiles are what the file declared; Resolve turns one
// into the "actual" profile the dialer uses, with defaults applied and
// file-based secrets read.
type Store struct {
	profiles map[string]*connection.Profile
}

// Load reads the configuration file at path and returns the global settings
// and the profile store. Environment overrides are applied to the global
// settings after the file is decoded.
func Load(path string) (*GlobalConfig, *Store, error) {
	file, err := LoadFile(path)
	if err != nil {
		return nil, nil, err
	}

	global := &GlobalConfig{
		LogLevel:   file.Logging.Level,
		LogFormat:  file.Logging.Format,
		HealthPort: file.Server.HealthPort,
	}
	if file.Manager.IdleInterval != "" {
		// Validated during LoadFile.
		global.IdleInterval, _ = time.ParseDuration(file.Manager.IdleInterval)
	}

	applyGlobalDefaults(global)
	if err := applyGlobalEnv(global); err != nil {
		return nil, nil, err
	}

	store, err := NewStore(file.Connections)
	if err != nil {
		return nil, nil, err
	}

	return global, store, nil
}

// NewStore builds a profile store from decoded file entries.
func NewStore(entries []FileConnectionConfig) (*Store, error) {
	profiles := make(map[string]*connection.Profile, len(entries))
	for i := range entries {
		profile, err := toProfile(&entries[i])
		if err != nil {
			return nil, err
		}
		profiles[profile.Name] = profile
	}
	return &Store{profiles: profiles}, nil
}

// Lookup returns the raw profile registered under name.
func (s *Store) Lookup(name string) (*connection.Profile, bool) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Names returns the registered profile names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve produces the actual profile for a raw one: defaults filled in and
// file-based secrets read. The input profile is not modified.
func (s *Store) Resolve(ctx context.Context, raw *connection.Profile) (*connection.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	actual := raw.Clone()

	if actual.Port == 0 {
		actual.Port = 22
	}
	if actual.User == "" {
		actual.User = os.Getenv("USER")
	}

	if actual.Password == "" && actual.PasswordFile != "" {
		secret, err := readSecretFile(actual.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("profile %q: password file: %w", actual.Name, err)
		}
		actual.Password = secret
	}
	if actual.KeyPassphrase == "" && actual.KeyPassphraseFile != "" {
		secret, err := readSecretFile(actual.KeyPassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("profile %q: key passphrase file: %w", actual.Name, err)
		}
		actual.KeyPassphrase = secret
	}

	// Per-profile environment overrides, resolved at connect time so that
	// secret rotation does not require a restart.
	if v := getEnvWithFileFallback(profileEnvPrefix(actual.Name), "PASSWORD"); v != "" {
		actual.Password = v
	}
	if v := getEnvWithFileFallback(profileEnvPrefix(actual.Name), "KEY_PASSPHRASE"); v != "" {
		actual.KeyPassphrase = v
	}

	return actual, nil
}

// toProfile converts a decoded file entry into a connection profile.
func toProfile(entry *FileConnectionConfig) (*connection.Profile, error) {
	p := &connection.Profile{
		Name:              entry.Name,
		Host:              entry.Host,
		Port:              entry.Port,
		User:              entry.User,
		KeyFile:           entry.KeyFile,
		KeyData:           entry.KeyData,
		KeyPassphrase:     entry.KeyPassphrase,
		KeyPassphraseFile: entry.KeyPassphraseFile,
		Password:          entry.Password,
		PasswordFile:      entry.PasswordFile,
		KnownHostsFile:    entry.KnownHostsFile,
		InsecureHost:      entry.InsecureHostKey,
		Flags:             append([]string(nil), entry.Flags...),
		Automount:         entry.Automount,
	}

	if entry.Timeout != "" {
		// Validated during LoadFile.
		p.Timeout, _ = time.ParseDuration(entry.Timeout)
	}

	for _, pair := range entry.Environment {
		key, value, _ := strings.Cut(pair, "=")
		p.Environment = append(p.Environment, connection.EnvVar{Key: key, Value: value})
	}

	return p, nil
}

// readSecretFile reads a secret from disk, trimming surrounding whitespace.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
