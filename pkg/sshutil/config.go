package sshutil

import (
	"fmt"
	"strings"
	"time"
)

// Default SSH transport configuration values.
const (
	// DefaultPort is the standard SSH port.
	DefaultPort = 22

	// DefaultTimeout is the default connection timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultKeepaliveInterval is the default SSH keepalive interval.
	DefaultKeepaliveInterval = 15 * time.Second
)

// Config holds the transport-level settings needed to establish a Session.
// It is built from a resolved connection profile; profile loading and secret
// resolution happen in internal/config.
type Config struct {
	// Host is the SSH server hostname or IP address (required).
	Host string

	// Port is the SSH server port (default: 22).
	Port int

	// User is the SSH username (required).
	User string

	// KeyFile is the path to the SSH private key file.
	// Either KeyFile, KeyData, or Password must be provided.
	KeyFile string

	// KeyData is the SSH private key content directly.
	// Either KeyFile, KeyData, or Password must be provided.
	KeyData string

	// KeyPassphrase is the passphrase for encrypted SSH keys (optional).
	KeyPassphrase string

	// Password is the SSH password for password authentication.
	// Key-based authentication is recommended over password.
	Password string

	// Timeout is the SSH connection timeout (default: 30s).
	Timeout time.Duration

	// KeepaliveInterval is the interval for SSH keepalive messages (default: 15s).
	// Set to a negative value to disable keepalives.
	KeepaliveInterval time.Duration

	// KnownHostsFile is the path to a known_hosts file used for host key
	// verification. Required unless InsecureHostKey is set.
	KnownHostsFile string

	// InsecureHostKey disables host key verification entirely.
	// WARNING: only suitable for testing or trusted internal networks.
	InsecureHostKey bool
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Host == "" {
		errs = append(errs, "host is required")
	}

	if c.User == "" {
		errs = append(errs, "user is required")
	}

	// At least one authentication method required
	if c.KeyFile == "" && c.KeyData == "" && c.Password == "" {
		errs = append(errs, "at least one authentication method required (key_file, key_data, or password)")
	}

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 0 and 65535")
	}

	if c.Timeout < 0 {
		errs = append(errs, "timeout must be non-negative")
	}

	if !c.InsecureHostKey && c.KnownHostsFile == "" {
		errs = append(errs, "host key verification requires known_hosts_file (or set insecure_host_key)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("ssh config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Address returns the SSH server address in host:port format.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// GetTimeout returns the configured timeout or the default.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// GetKeepaliveInterval returns the configured keepalive interval or the
// default. A negative configured value disables keepalives (returns 0).
func (c *Config) GetKeepaliveInterval() time.Duration {
	if c.KeepaliveInterval < 0 {
		return 0
	}
	if c.KeepaliveInterval > 0 {
		return c.KeepaliveInterval
	}
	return DefaultKeepaliveInterval
}
