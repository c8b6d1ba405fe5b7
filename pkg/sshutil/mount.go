package sshutil

import (
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/sftp"
)

// Mount is an SFTP filesystem handle attached to a Session. Each Mount owns
// its own SFTP channel, so several mounts can coexist on one session. The
// Closing/Closed flags are read by the connection manager's idle check to
// prune dead mounts.
type Mount struct {
	name   string
	logger *slog.Logger

	mu         sync.RWMutex
	sftpClient *sftp.Client
	closing    bool
	closed     bool
}

// MountOption is a functional option for configuring a Mount.
type MountOption func(*Mount)

// WithMountLogger sets a custom logger for mount operations.
func WithMountLogger(logger *slog.Logger) MountOption {
	return func(m *Mount) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMount opens a new SFTP channel on the session and returns a Mount
// handle for it. name identifies the mount in logs.
func NewMount(session *Session, name string, opts ...MountOption) (*Mount, error) {
	client, err := session.Client()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("opening SFTP channel for mount %s: %w", name, err)
	}

	m := &Mount{
		name:       name,
		logger:     slog.Default(),
		sftpClient: sftpClient,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger.Debug("mount attached", slog.String("mount", name))

	return m, nil
}

// Name returns the identifier this mount was created with.
func (m *Mount) Name() string { return m.name }

// Closed reports whether the mount has been fully closed.
func (m *Mount) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Closing reports whether the mount is in the process of closing.
func (m *Mount) Closing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closing
}

// Close shuts down the mount's SFTP channel. Safe to call multiple times.
// It does not affect the owning session.
func (m *Mount) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closing = true

	var err error
	if m.sftpClient != nil {
		err = m.sftpClient.Close()
		m.sftpClient = nil
	}
	m.closed = true

	m.logger.Debug("mount closed", slog.String("mount", m.name))

	return err
}

// client returns the SFTP channel, or an error if the mount is closed.
func (m *Mount) client() (*sftp.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed || m.closing || m.sftpClient == nil {
		return nil, fmt.Errorf("mount %s is closed", m.name)
	}
	return m.sftpClient, nil
}

// ReadFile reads the contents of a remote file.
func (m *Mount) ReadFile(path string) ([]byte, error) {
	client, err := m.client()
	if err != nil {
		return nil, err
	}

	file, err := client.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes data to a remote file, creating or truncating it.
func (m *Mount) WriteFile(path string, data []byte, perm os.FileMode) error {
	client, err := m.client()
	if err != nil {
		return err
	}

	file, err := client.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("opening file %s: %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("writing file %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing file %s: %w", path, err)
	}

	if err := client.Chmod(path, perm); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	return nil
}

// Stat returns file info for a remote path.
func (m *Mount) Stat(path string) (os.FileInfo, error) {
	client, err := m.client()
	if err != nil {
		return nil, err
	}

	info, err := client.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return info, nil
}

// ReadDir lists a remote directory.
func (m *Mount) ReadDir(path string) ([]iofs.FileInfo, error) {
	client, err := m.client()
	if err != nil {
		return nil, err
	}

	entries, err := client.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	return entries, nil
}
