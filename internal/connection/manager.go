package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kelvinfs/kelvinfs/internal/metrics"
)

// DefaultIdleInterval is how often each connection's idle check runs.
const DefaultIdleInterval = 5 * time.Second

// idleCloseReason is the reason passed to Close by the idle check.
const idleCloseReason = "idle with no active filesystems/terminals"

// pendingConnection tracks one in-flight creation. Concurrent Connect calls
// for the same name join it instead of opening a second session; it is
// removed unconditionally once the creation settles.
type pendingConnection struct {
	profile *Profile

	done chan struct{}
	conn *Connection
	err  error
}

// wait blocks until the creation settles or ctx is cancelled.
func (p *pendingConnection) wait(ctx context.Context) (*Connection, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.conn, p.err
	}
}

// settle records the creation outcome and releases all joined waiters.
func (p *pendingConnection) settle(conn *Connection, err error) {
	p.conn, p.err = conn, err
	close(p.done)
}

// Manager owns every active connection and every in-flight creation. It is
// the only component that closes connections: consumers attach and detach
// through the Connection's own registry methods and the manager's idle check
// decides when a connection has no users left.
type Manager struct {
	configs      ConfigSource
	dial         Dialer
	ui           UI
	logger       *slog.Logger
	idleInterval time.Duration

	mu      sync.Mutex
	active  []*Connection
	pending map[string]*pendingConnection

	added          emitter[*Connection]
	removed        emitter[*Connection]
	updated        emitter[*Connection]
	pendingChanged emitter[[]string]
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// WithLogger sets a custom logger for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithIdleInterval overrides the idle-check interval.
func WithIdleInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.idleInterval = interval
		}
	}
}

// NewManager creates a connection manager. configs supplies profiles, dial
// establishes sessions, and ui receives command-channel side effects and
// user-facing error messages.
func NewManager(configs ConfigSource, dial Dialer, ui UI, opts ...ManagerOption) *Manager {
	m := &Manager{
		configs:      configs,
		dial:         dial,
		ui:           ui,
		logger:       slog.Default(),
		idleInterval: DefaultIdleInterval,
		pending:      make(map[string]*pendingConnection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnAdded registers a handler for new active connections.
func (m *Manager) OnAdded(fn func(*Connection)) func() { return m.added.subscribe(fn) }

// OnRemoved registers a handler for closed connections.
func (m *Manager) OnRemoved(fn func(*Connection)) func() { return m.removed.subscribe(fn) }

// OnUpdated registers a handler for connections mutated via Update.
func (m *Manager) OnUpdated(fn func(*Connection)) func() { return m.updated.subscribe(fn) }

// OnPendingChanged registers a handler called with the names of in-flight
// creations whenever that set changes.
func (m *Manager) OnPendingChanged(fn func([]string)) func() { return m.pendingChanged.subscribe(fn) }

// Active returns a snapshot of the active connections.
func (m *Manager) Active() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Connection(nil), m.active...)
}

// Pending returns the names of creations currently in flight.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingNamesLocked()
}

// Get returns the active connection with the given name.
func (m *Manager) Get(name string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.active {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Connect returns a connection for the given name, creating one only when
// necessary. An active connection with a matching identity is returned
// as-is without opening a new session; an in-flight creation for the name is
// joined (the supplied profile is ignored in that case); otherwise a new
// creation starts and is registered as pending before any of its steps run.
func (m *Manager) Connect(ctx context.Context, name string, profile *Profile) (conn *Connection, err error) {
	m.mu.Lock()
	if existing := m.findActiveLocked(name, profile); existing != nil {
		m.mu.Unlock()
		m.logger.Debug("reusing active connection", slog.String("connection", name))
		return existing, nil
	}
	if p, ok := m.pending[name]; ok {
		m.mu.Unlock()
		m.logger.Debug("joining pending connection", slog.String("connection", name))
		return p.wait(ctx)
	}

	rec := &pendingConnection{profile: profile, done: make(chan struct{})}
	m.pending[name] = rec
	names := m.pendingNamesLocked()
	m.mu.Unlock()

	metrics.ConnectionsPending.Set(float64(len(names)))
	m.pendingChanged.emit(names)

	// Removal of the pending record must happen on every exit path of the
	// creation, before waiters observe the outcome.
	defer func() {
		m.mu.Lock()
		delete(m.pending, name)
		names := m.pendingNamesLocked()
		m.mu.Unlock()

		rec.settle(conn, err)
		metrics.ConnectionsPending.Set(float64(len(names)))
		m.pendingChanged.emit(names)
	}()

	conn, err = m.establish(ctx, name, profile)
	return conn, err
}

// Close removes a connection from the active set, stops its idle check, and
// destroys its session, which terminates every channel opened on it.
// Consumers observe the session's closure on their own; the manager does not
// notify them individually. Closing an unknown or already-closed connection
// is a no-op.
func (m *Manager) Close(conn *Connection, reason string) {
	m.mu.Lock()
	found := false
	for i, c := range m.active {
		if c == conn {
			m.active = append(m.active[:i], m.active[i+1:]...)
			found = true
			break
		}
	}
	activeCount := len(m.active)
	m.mu.Unlock()

	if !found {
		return
	}

	// Stop the idle check before tearing anything down, so a tick can never
	// run against a destroyed connection. When Close is invoked from the
	// idle loop itself, idleDone is already closed.
	conn.stopOnce.Do(func() { close(conn.idleStop) })
	<-conn.idleDone

	m.logger.Info("connection closed",
		slog.String("connection", conn.Name),
		slog.String("reason", reason),
	)
	metrics.ConnectionsActive.Set(float64(activeCount))
	metrics.ConnectionsClosedTotal.WithLabelValues(reason).Inc()

	m.removed.emit(conn)

	if err := conn.session.Destroy(); err != nil {
		m.logger.Warn("error destroying session",
			slog.String("connection", conn.Name),
			slog.String("error", err.Error()),
		)
	}
}

// CloseAll closes every active connection with the given reason.
func (m *Manager) CloseAll(reason string) {
	for _, c := range m.Active() {
		m.Close(c, reason)
	}
}

// Update applies an optional mutation to the connection and then always
// emits an updated notification. Consumers that mutate a connection's
// registries call this so observers learn that something changed.
func (m *Manager) Update(conn *Connection, fn func(*Connection)) {
	if fn != nil {
		fn(conn)
	}
	m.updated.emit(conn)
}

// findActiveLocked matches an active connection by resolved-config identity
// when a profile is supplied, or by bare name when it isn't.
func (m *Manager) findActiveLocked(name string, profile *Profile) *Connection {
	for _, c := range m.active {
		if profile == nil {
			if c.Name == name {
				return c
			}
			continue
		}
		if c.Actual.Identity() == profile.Identity() || c.Requested.Identity() == profile.Identity() {
			return c
		}
	}
	return nil
}

// pendingNamesLocked snapshots the pending set's names.
func (m *Manager) pendingNamesLocked() []string {
	names := make([]string, 0, len(m.pending))
	for name := range m.pending {
		names = append(names, name)
	}
	return names
}

// establish runs one connection creation end to end: profile resolution,
// session dial, home probe, optional command channel, environment merge,
// registration, idle-check start, and the added notification.
func (m *Manager) establish(ctx context.Context, name string, requested *Profile) (*Connection, error) {
	profile := requested
	if profile == nil {
		stored, ok := m.configs.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("no connection profile named %q", name)
		}
		profile = stored
	}

	actual, err := m.configs.Resolve(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("resolving profile %q: %w", name, err)
	}

	sess, err := m.dial(ctx, actual)
	if err != nil {
		return nil, fmt.Errorf("establishing session for %q: %w", name, err)
	}

	home, err := ProbeHomeDirectory(ctx, sess)
	if err != nil {
		// Ambiguous enough to warrant a direct prompt on top of the failed
		// creation the caller sees.
		m.ui.ShowErrorMessage(fmt.Sprintf("Couldn't detect the home directory for %q: %v", name, err))
		_ = sess.Destroy()
		return nil, fmt.Errorf("probing home directory for %q: %w", name, err)
	}

	env := MergeEnvironment(nil, PairOverlay(actual.Environment))

	var channel *CommandChannel
	if enabled, source := actual.FlagBoolean(FlagRemoteCommands, false); enabled {
		m.logger.Debug("remote commands enabled",
			slog.String("connection", name),
			slog.String("source", source),
		)
		channel, err = OpenCommandChannel(ctx, sess, name, m.ui, m.logger)
		if err != nil {
			_ = sess.Destroy()
			return nil, fmt.Errorf("opening command channel for %q: %w", name, err)
		}
		env = MergeEnvironment(env, MapOverlay{EnvCommandPath: channel.TTYPath()})
	}

	conn := &Connection{
		Name:        name,
		Requested:   profile,
		Actual:      actual,
		Home:        home,
		Environment: env,
		session:     sess,
		channel:     channel,
		idleStop:    make(chan struct{}),
		idleDone:    make(chan struct{}),
	}

	m.mu.Lock()
	m.active = append(m.active, conn)
	activeCount := len(m.active)
	m.mu.Unlock()

	go m.idleLoop(conn)

	m.logger.Info("connection established",
		slog.String("connection", name),
		slog.String("home", home),
		slog.Bool("command_channel", channel != nil),
	)
	metrics.ConnectionsActive.Set(float64(activeCount))
	metrics.ConnectionsCreatedTotal.Inc()

	m.added.emit(conn)

	return conn, nil
}

// idleLoop runs the connection's recurring idle check until the connection
// closes. The loop closes idleDone before invoking Close so that Close can
// wait for the loop without deadlocking on the tick that triggered it.
func (m *Manager) idleLoop(conn *Connection) {
	ticker := time.NewTicker(m.idleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.idleStop:
			close(conn.idleDone)
			return
		case <-ticker.C:
			if conn.idleTick() {
				conn.stopOnce.Do(func() { close(conn.idleStop) })
				close(conn.idleDone)
				m.Close(conn, idleCloseReason)
				return
			}
		}
	}
}
