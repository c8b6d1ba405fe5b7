package connection

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/kelvinfs/kelvinfs/internal/metrics"
)

const (
	// commandMarker introduces a protocol line anywhere in the shell stream.
	commandMarker = "::sshfs:"

	// helperScriptPath is the well-known remote location of the shell helper
	// that remote users source to get the `code` command.
	helperScriptPath = "/tmp/.Kelvin_sshfs"

	// EnvCommandPath is the environment variable carrying the command
	// channel's terminal device path to the remote side.
	EnvCommandPath = "KELVIN_SSHFS_CMD_PATH"

	// codeSeparator splits a code command payload into cwd and target.
	codeSeparator = ":::"
)

// helperScript is installed at helperScriptPath on every host whose
// connection runs a command channel. Sourcing it defines a `code` command
// that appends protocol lines to the channel's terminal device.
const helperScript = `#!/bin/sh
# kelvinfs remote helper. Source this file, then use: code <path>
code() {
	if [ -z "$KELVIN_SSHFS_CMD_PATH" ]; then
		echo "kelvinfs: KELVIN_SSHFS_CMD_PATH is not set" >&2
		return 1
	fi
	echo "::sshfs:code:$(pwd):::$1" >> "$KELVIN_SSHFS_CMD_PATH"
}
`

// ttyProbe asks the shell for its terminal device. Sent unquoted so the
// shell's echo of the command itself is recognizable by its "echo " prefix
// and skipped by the classifier.
const ttyProbe = "echo ::sshfs:TTY:$(tty)\n"

// protocolLine is one classified command-channel line.
type protocolLine struct {
	prefix  string
	command string
	rest    string
}

// classifyLine decides whether a raw shell output line is a protocol event.
// A line qualifies when it contains the command marker followed by a
// non-empty bare command word and a colon. Lines whose prefix ends in
// "echo " are the shell echoing our own probe and are ignored.
func classifyLine(line string) (protocolLine, bool) {
	i := strings.Index(line, commandMarker)
	if i < 0 {
		return protocolLine{}, false
	}
	prefix := line[:i]
	tail := line[i+len(commandMarker):]

	j := strings.IndexByte(tail, ':')
	if j < 0 {
		return protocolLine{}, false
	}
	command := tail[:j]
	if command == "" || !isWord(command) {
		return protocolLine{}, false
	}
	if strings.HasSuffix(prefix, "echo ") {
		return protocolLine{}, false
	}
	return protocolLine{prefix: prefix, command: command, rest: tail[j+1:]}, true
}

// isWord reports whether s is a bare command word.
func isWord(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

// CommandChannel multiplexes the ::sshfs: control protocol over one
// interactive shell on a connection's session. It reacts to two commands:
// TTY (reports the shell's terminal device, completing setup) and code
// (asks the controlling side to open a file or folder).
type CommandChannel struct {
	authority string
	shell     io.ReadWriteCloser
	ui        UI
	logger    *slog.Logger

	mu       sync.Mutex
	tty      string
	resolved bool
	setupErr error
	ready    chan struct{}
	done     chan struct{}
}

// OpenCommandChannel installs the remote helper script, opens an interactive
// shell on the session, and waits for the shell to report its terminal
// device. It returns once the device path is known; a stream error or
// channel closure before that fails the setup.
func OpenCommandChannel(ctx context.Context, sess Session, authority string, ui UI, logger *slog.Logger) (*CommandChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Helper install is best effort: the channel works without it, the
	// remote side just has to emit protocol lines by hand.
	if err := sess.WriteFile(helperScriptPath, []byte(helperScript), 0o755); err != nil {
		logger.Warn("couldn't install remote helper script",
			slog.String("path", helperScriptPath),
			slog.String("error", err.Error()),
		)
	}

	shell, err := sess.Shell(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening command channel shell: %w", err)
	}

	c := &CommandChannel{
		authority: authority,
		shell:     shell,
		ui:        ui,
		logger:    logger,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	if _, err := io.WriteString(shell, ttyProbe); err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("writing tty probe: %w", err)
	}

	go c.readLoop()

	select {
	case <-ctx.Done():
		_ = shell.Close()
		return nil, fmt.Errorf("waiting for command channel terminal: %w", ctx.Err())
	case <-c.ready:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setupErr != nil {
		return nil, c.setupErr
	}

	logger.Info("command channel ready",
		slog.String("connection", authority),
		slog.String("tty", c.tty),
	)

	return c, nil
}

// TTYPath returns the terminal device path the remote shell reported.
func (c *CommandChannel) TTYPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tty
}

// Close shuts down the channel's shell. Parsed events already delivered are
// unaffected; the line reader stops naturally.
func (c *CommandChannel) Close() error {
	return c.shell.Close()
}

// Done is closed when the channel's line reader has stopped.
func (c *CommandChannel) Done() <-chan struct{} {
	return c.done
}

// readLoop consumes the shell's output line by line, strictly in arrival
// order, and dispatches protocol events.
func (c *CommandChannel) readLoop() {
	defer close(c.done)

	scanner := bufio.NewScanner(c.shell)
	for scanner.Scan() {
		c.handleLine(scanner.Text())
	}

	err := scanner.Err()
	c.mu.Lock()
	if !c.resolved {
		if err != nil {
			c.setupErr = fmt.Errorf("command channel stream failed: %w", err)
		} else {
			c.setupErr = fmt.Errorf("command channel closed before reporting its terminal")
		}
		c.resolved = true
		close(c.ready)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("command channel stream ended",
			slog.String("connection", c.authority),
			slog.String("error", err.Error()),
		)
	} else {
		c.logger.Debug("command channel closed",
			slog.String("connection", c.authority),
		)
	}
}

// handleLine classifies one line and dispatches it.
func (c *CommandChannel) handleLine(line string) {
	ev, ok := classifyLine(line)
	if !ok {
		return
	}

	switch ev.command {
	case "TTY":
		metrics.CommandLinesTotal.WithLabelValues("tty").Inc()
		c.resolveTTY(strings.TrimSpace(ev.rest))
	case "code":
		metrics.CommandLinesTotal.WithLabelValues("code").Inc()
		c.handleCode(ev.rest)
	default:
		metrics.CommandLinesTotal.WithLabelValues("unrecognized").Inc()
		c.logger.Debug("unrecognized command channel command",
			slog.String("connection", c.authority),
			slog.String("command", ev.command),
		)
	}
}

// resolveTTY completes setup with the first reported device path. Later TTY
// lines are ignored.
func (c *CommandChannel) resolveTTY(device string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return
	}
	c.tty = device
	c.resolved = true
	close(c.ready)
}

// handleCode processes a `code:<cwd>:::<target>` payload: resolve the target
// against the cwd, then ask the presentation layer to open it. All failures
// end up as user-visible messages, never as channel errors.
func (c *CommandChannel) handleCode(payload string) {
	cwd, target, found := strings.Cut(payload, codeSeparator)
	cwd = strings.TrimSpace(cwd)
	target = strings.TrimSpace(target)
	if !found || cwd == "" || target == "" {
		c.logger.Warn("malformed code command on command channel",
			slog.String("connection", c.authority),
			slog.String("payload", payload),
		)
		return
	}

	var abs string
	if path.IsAbs(target) {
		abs = path.Clean(target)
	} else {
		abs = path.Join(cwd, target)
	}

	res := Resource{Authority: c.authority, Path: abs}
	ctx := context.Background()

	info, err := c.ui.Stat(ctx, res)
	if err != nil {
		c.ui.ShowErrorMessage(fmt.Sprintf("Couldn't open %s: %v", abs, err))
		return
	}

	if info.IsDirectory {
		err = c.ui.AddWorkspaceFolder(ctx, res)
	} else {
		err = c.ui.OpenTextDocument(ctx, res)
	}
	if err != nil {
		c.ui.ShowErrorMessage(fmt.Sprintf("Couldn't open %s: %v", abs, err))
	}
}
