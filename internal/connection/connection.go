package connection

import "sync"

// Connection is one live remote session plus everything layered on it: the
// resolved configuration it was built from, its home directory and merged
// environment (both fixed at creation), and the registries of consumers
// currently attached to it. Consumers mutate the registries through the
// methods below; the manager only reads them from its idle check.
type Connection struct {
	// Name is the logical connection name.
	Name string

	// Requested is the profile the connection was asked for; Actual is the
	// resolved form it was built with. They can differ after resolution.
	Requested *Profile
	Actual    *Profile

	// Home is the remote home directory, probed once at creation.
	Home string

	// Environment is the merged variable set, built once at creation.
	Environment []EnvVar

	session Session
	channel *CommandChannel

	mu           sync.Mutex
	terminals    []Terminal
	filesystems  []Filesystem
	pendingUsers int
	idleCounter  int

	idleStop chan struct{}
	idleDone chan struct{}
	stopOnce sync.Once
}

// Session returns the connection's transport session.
func (c *Connection) Session() Session { return c.session }

// CommandChannel returns the connection's command channel, or nil when the
// remote-commands flag was off at creation.
func (c *Connection) CommandChannel() *CommandChannel { return c.channel }

// AddTerminal registers an attached terminal.
func (c *Connection) AddTerminal(t Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminals = append(c.terminals, t)
}

// RemoveTerminal deregisters a terminal. Unknown terminals are ignored.
func (c *Connection) RemoveTerminal(t Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.terminals {
		if have == t {
			c.terminals = append(c.terminals[:i], c.terminals[i+1:]...)
			return
		}
	}
}

// AddFilesystem registers an attached filesystem mount.
func (c *Connection) AddFilesystem(fs Filesystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filesystems = append(c.filesystems, fs)
}

// RemoveFilesystem deregisters a filesystem mount. Unknown mounts are ignored.
func (c *Connection) RemoveFilesystem(fs Filesystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.filesystems {
		if have == fs {
			c.filesystems = append(c.filesystems[:i], c.filesystems[i+1:]...)
			return
		}
	}
}

// Terminals returns a snapshot of the attached terminals.
func (c *Connection) Terminals() []Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Terminal(nil), c.terminals...)
}

// Filesystems returns a snapshot of the attached filesystem mounts.
func (c *Connection) Filesystems() []Filesystem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Filesystem(nil), c.filesystems...)
}

// AddPendingUser marks a consumer as in the process of attaching. A nonzero
// pending count keeps the idle check from closing the connection while a
// consumer is between "decided to attach" and "attached".
func (c *Connection) AddPendingUser() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingUsers++
}

// FinishPendingUser reverses AddPendingUser, on success or failure of the
// attach. The count never goes below zero.
func (c *Connection) FinishPendingUser() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingUsers > 0 {
		c.pendingUsers--
	}
}

// PendingUsers returns the current pending-consumer count.
func (c *Connection) PendingUsers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingUsers
}

// idleTick runs one idle-check pass and reports whether the connection
// should be closed. The counter handling reproduces the historical timing:
// the counter is decremented unconditionally at the start of every tick, but
// only reset to 2 on a tick where all the idle conditions hold and the
// counter isn't exactly 1. The net effect is that a connection with no
// pending, filesystem, or terminal consumers closes after two consecutive
// idle ticks from a freshly non-idle state.
func (c *Connection) idleTick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.idleCounter--

	if c.pendingUsers > 0 {
		return false
	}

	// Prune mounts that are closed or on their way out.
	kept := c.filesystems[:0]
	for _, fs := range c.filesystems {
		if !fs.Closed() && !fs.Closing() {
			kept = append(kept, fs)
		}
	}
	c.filesystems = kept

	if len(c.filesystems) > 0 || len(c.terminals) > 0 {
		return false
	}

	if c.idleCounter != 1 {
		c.idleCounter = 2
		return false
	}
	return true
}
