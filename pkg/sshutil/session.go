package sshutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Sentinel errors for session operations.
var (
	// ErrSessionDestroyed is returned when an operation is attempted on a
	// session that has been destroyed.
	ErrSessionDestroyed = errors.New("ssh session has been destroyed")

	// ErrAuthenticationFailed is returned when SSH authentication fails.
	ErrAuthenticationFailed = errors.New("ssh authentication failed")

	// ErrConnectionTimeout is returned when the connection attempt times out.
	ErrConnectionTimeout = errors.New("ssh connection timed out")
)

// Session is an authenticated SSH connection to a remote host. Channels
// (command executions, interactive shells, SFTP) are multiplexed over it;
// Destroy terminates the connection and every channel with it.
type Session struct {
	config *Config
	logger *slog.Logger

	cancel context.CancelFunc

	mu         sync.Mutex
	client     *ssh.Client
	sftpClient *sftp.Client
	destroyed  bool
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithLogger sets a custom logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Dial establishes an authenticated SSH connection described by config.
func Dial(ctx context.Context, config *Config, opts ...Option) (*Session, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Session{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	sshConfig, err := s.buildSSHConfig()
	if err != nil {
		return nil, fmt.Errorf("building SSH config: %w", err)
	}

	s.logger.Debug("connecting to SSH server",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
		slog.String("user", config.User),
	)

	timeout := config.GetTimeout()
	dialCtx, dialCancel := context.WithTimeout(ctx, timeout)
	defer dialCancel()

	dialer := &net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(dialCtx, "tcp", config.Address())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrConnectionTimeout
		}
		return nil, fmt.Errorf("dialing %s: %w", config.Address(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, config.Address(), sshConfig)
	if err != nil {
		_ = netConn.Close()
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	s.client = ssh.NewClient(sshConn, chans, reqs)

	var keepaliveCtx context.Context
	keepaliveCtx, s.cancel = context.WithCancel(context.Background())
	if interval := config.GetKeepaliveInterval(); interval > 0 {
		go s.keepalive(keepaliveCtx, interval)
	}

	s.logger.Info("SSH session established",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
	)

	return s, nil
}

// Client returns the underlying SSH client connection, used to open
// additional channels (mounts, terminals) on this session.
// The client must not be closed directly; use Destroy instead.
func (s *Session) Client() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	return s.client, nil
}

// Exec runs a command on the remote host and collects its combined output
// until the command's channel closes. A non-zero exit status is not treated
// as an error; the collected output is still returned.
func (s *Session) Exec(ctx context.Context, command string) ([]byte, error) {
	client, err := s.Client()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating exec channel: %w", err)
	}
	defer func() { _ = sess.Close() }()

	s.logger.Debug("executing remote command", slog.String("command", command))

	var output bytes.Buffer
	sess.Stdout = &output
	sess.Stderr = &output

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		return nil, fmt.Errorf("command cancelled: %w", ctx.Err())
	case err := <-done:
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return output.Bytes(), fmt.Errorf("running command: %w", err)
		}
		return output.Bytes(), nil
	}
}

// Shell opens an interactive shell channel with a pseudo-terminal allocated.
// The returned channel reads from the shell's output and writes to its input.
func (s *Session) Shell(ctx context.Context) (*ShellChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := s.Client()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating shell channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", 40, 120, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("opening shell stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("opening shell stdout: %w", err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	s.logger.Debug("shell channel opened")

	return &ShellChannel{sess: sess, stdin: stdin, stdout: stdout}, nil
}

// WriteFile writes contents to a remote file over SFTP, creating or
// truncating it, then sets the requested mode.
func (s *Session) WriteFile(path string, data []byte, perm os.FileMode) error {
	client, err := s.sftp()
	if err != nil {
		return err
	}

	f, err := client.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("opening remote file %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing remote file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing remote file %s: %w", path, err)
	}

	if err := client.Chmod(path, perm); err != nil {
		return fmt.Errorf("setting mode on remote file %s: %w", path, err)
	}

	s.logger.Debug("wrote remote file",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)

	return nil
}

// Destroy terminates the SSH connection and all channels opened on it.
// Safe to call multiple times.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil
	}
	s.destroyed = true

	if s.cancel != nil {
		s.cancel()
	}
	if s.sftpClient != nil {
		_ = s.sftpClient.Close()
		s.sftpClient = nil
	}

	var err error
	if s.client != nil {
		err = s.client.Close()
		s.client = nil
	}

	s.logger.Debug("SSH session destroyed", slog.String("host", s.config.Host))

	return err
}

// sftp returns the session's shared SFTP channel, opening it on first use.
func (s *Session) sftp() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	if s.sftpClient != nil {
		return s.sftpClient, nil
	}

	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("opening SFTP channel: %w", err)
	}
	s.sftpClient = client
	return client, nil
}

// buildSSHConfig creates the ssh.ClientConfig from our Config.
func (s *Session) buildSSHConfig() (*ssh.ClientConfig, error) {
	authMethods, err := s.buildAuthMethods()
	if err != nil {
		return nil, fmt.Errorf("building auth methods: %w", err)
	}

	hostKeyCallback, err := s.buildHostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("building host key callback: %w", err)
	}

	return &ssh.ClientConfig{
		User:            s.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.config.GetTimeout(),
	}, nil
}

// buildAuthMethods creates authentication methods from the config.
func (s *Session) buildAuthMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if s.config.KeyFile != "" {
		keyData, err := os.ReadFile(s.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file %s: %w", s.config.KeyFile, err)
		}

		signer, err := s.parsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parsing key from file: %w", err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if s.config.KeyData != "" {
		signer, err := s.parsePrivateKey([]byte(s.config.KeyData))
		if err != nil {
			return nil, fmt.Errorf("parsing key data: %w", err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if s.config.Password != "" {
		methods = append(methods, ssh.Password(s.config.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods configured")
	}

	return methods, nil
}

// parsePrivateKey parses a private key, handling encrypted keys if a passphrase is provided.
func (s *Session) parsePrivateKey(keyData []byte) (ssh.Signer, error) {
	if s.config.KeyPassphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(s.config.KeyPassphrase))
	}
	return ssh.ParsePrivateKey(keyData)
}

// buildHostKeyCallback creates the host key callback based on config.
func (s *Session) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.config.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts file %s: %w", s.config.KnownHostsFile, err)
		}
		return callback, nil
	}

	if !s.config.InsecureHostKey {
		return nil, errors.New("no known_hosts file configured and insecure mode not enabled")
	}

	s.logger.Warn("host key verification disabled - this is insecure",
		slog.String("host", s.config.Host),
	)
	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly requested skip
}

// keepalive sends periodic keepalive messages to maintain the connection.
func (s *Session) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			client := s.client
			s.mu.Unlock()

			if client == nil {
				return
			}

			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				s.logger.Warn("keepalive failed",
					slog.String("host", s.config.Host),
					slog.String("error", err.Error()),
				)
				// Don't close here - let the next operation discover the failure
			}
		}
	}
}

// ShellChannel is a single interactive shell multiplexed over a Session.
// Reads consume the shell's output; writes feed its input. Closing the
// channel does not affect the owning Session.
type ShellChannel struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader

	closeOnce sync.Once
	closeErr  error
}

// Read reads from the shell's output stream. It returns io.EOF once the
// channel closes.
func (c *ShellChannel) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Write writes to the shell's input stream.
func (c *ShellChannel) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// Close closes the shell channel. Safe to call multiple times.
func (c *ShellChannel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		c.closeErr = c.sess.Close()
	})
	return c.closeErr
}

// isAuthError checks if an error is an authentication-related error.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "no supported methods") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "publickey") ||
		strings.Contains(errStr, "password")
}
