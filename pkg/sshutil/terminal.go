package sshutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Terminal is an interactive pseudo-terminal attached to a Session. It is
// the terminal-consumer counterpart to Mount: external code registers it
// against a connection and relays user I/O through it.
type Terminal struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// TerminalOption is a functional option for configuring a Terminal.
type TerminalOption func(*terminalSettings)

type terminalSettings struct {
	term   string
	rows   int
	cols   int
	setup  string
	logger *slog.Logger
}

// WithTerminalSize sets the initial pty dimensions.
func WithTerminalSize(rows, cols int) TerminalOption {
	return func(ts *terminalSettings) {
		if rows > 0 && cols > 0 {
			ts.rows, ts.cols = rows, cols
		}
	}
}

// WithTerminalSetup sends a shell statement (e.g. an environment export
// produced by the connection's environment set) to the terminal right after
// it starts.
func WithTerminalSetup(statement string) TerminalOption {
	return func(ts *terminalSettings) {
		ts.setup = statement
	}
}

// WithTerminalLogger sets a custom logger.
func WithTerminalLogger(logger *slog.Logger) TerminalOption {
	return func(ts *terminalSettings) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTerminal opens an interactive shell with a pty on the session.
func NewTerminal(ctx context.Context, session *Session, opts ...TerminalOption) (*Terminal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	settings := &terminalSettings{
		term:   "xterm-256color",
		rows:   40,
		cols:   120,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(settings)
	}

	client, err := session.Client()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating terminal channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(settings.term, settings.rows, settings.cols, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("opening terminal stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("opening terminal stdout: %w", err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("starting terminal shell: %w", err)
	}

	t := &Terminal{
		sess:   sess,
		stdin:  stdin,
		stdout: stdout,
		logger: settings.logger,
	}

	if settings.setup != "" {
		if _, err := fmt.Fprintf(stdin, "%s\n", settings.setup); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("sending terminal setup statement: %w", err)
		}
	}

	t.logger.Debug("terminal attached")

	return t, nil
}

// Read reads terminal output.
func (t *Terminal) Read(p []byte) (int, error) {
	return t.stdout.Read(p)
}

// Write sends input to the terminal.
func (t *Terminal) Write(p []byte) (int, error) {
	return t.stdin.Write(p)
}

// Resize changes the pty dimensions.
func (t *Terminal) Resize(rows, cols int) error {
	if err := t.sess.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("resizing terminal: %w", err)
	}
	return nil
}

// Close shuts down the terminal channel. Safe to call multiple times.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		_ = t.stdin.Close()
		t.closeErr = t.sess.Close()
		t.logger.Debug("terminal closed")
	})
	return t.closeErr
}
