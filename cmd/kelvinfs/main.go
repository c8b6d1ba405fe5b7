// kelvinfs manages SSH connections for remote workspaces. It establishes
// sessions from named profiles, deduplicates concurrent creation requests,
// mounts SFTP filesystems, relays command-channel requests from remote
// shells, and closes connections that sit idle with no attached consumers.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/kelvinfs/kelvinfs/internal/config"
	"github.com/kelvinfs/kelvinfs/internal/connection"
	"github.com/kelvinfs/kelvinfs/internal/health"
	"github.com/kelvinfs/kelvinfs/internal/metrics"
	"github.com/kelvinfs/kelvinfs/internal/workspace"
	"github.com/kelvinfs/kelvinfs/pkg/sshutil"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-08-30"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Load configuration first, fail fast on a broken file.
	configPath := os.Getenv("KELVINFS_CONFIG")
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	global, store, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Set up structured logging
	logger := setupLogger(global.LogLevel, global.LogFormat)
	slog.SetDefault(logger)

	// Set build info metrics
	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("kelvinfs starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.String("config", configPath),
		slog.Int("profiles", len(store.Names())),
	)

	// Context cancelled on SIGINT/SIGTERM for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mounts := newMountRegistry(logger)

	// The workspace routes remote stat calls through whichever mount serves
	// the resource's connection.
	ws := workspace.New(mounts.stat, workspace.WithLogger(logger))

	manager := connection.NewManager(store, dialer(logger), ws,
		connection.WithLogger(logger),
		connection.WithIdleInterval(global.IdleInterval),
	)

	terminals := newTerminalRegistry(logger)

	// Drop a connection's consumers when the manager closes it, whatever the
	// reason was.
	manager.OnRemoved(func(conn *connection.Connection) {
		mounts.drop(conn.Name)
		terminals.drop(conn.Name)
	})

	// Start health server
	healthServer := health.New(global.HealthPort,
		health.WithLogger(logger),
		health.WithStatus(func() health.Status {
			return managerStatus(manager)
		}),
	)
	healthServer.RegisterChecker("config", func(context.Context) error {
		if len(store.Names()) == 0 {
			return fmt.Errorf("no connection profiles configured")
		}
		return nil
	})
	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}

	// Bring up automount and terminal profiles. Failures are logged, not
	// fatal: the profile stays available for later explicit connects.
	for _, name := range store.Names() {
		profile, ok := store.Lookup(name)
		if !ok {
			continue
		}
		wantTerminal, _ := profile.FlagBoolean(connection.FlagTerminal, false)
		if !profile.Automount && !wantTerminal {
			continue
		}
		if err := bringUp(ctx, manager, mounts, terminals, name, profile.Automount, wantTerminal); err != nil {
			logger.Error("startup connect failed",
				slog.String("connection", name),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("kelvinfs initialized",
		slog.Int("active", len(manager.Active())),
		slog.Int("health_port", global.HealthPort),
	)

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutting down...")

	manager.CloseAll("shutdown")

	// Shutdown health server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("kelvinfs shutdown complete")
	return nil
}

// bringUp connects a profile by name and attaches its startup consumers. The
// pending-user mark keeps the idle check from closing the fresh connection
// while the consumers are still being attached.
func bringUp(ctx context.Context, manager *connection.Manager, mounts *mountRegistry, terminals *terminalRegistry, name string, mount, terminal bool) error {
	conn, err := manager.Connect(ctx, name, nil)
	if err != nil {
		return err
	}

	conn.AddPendingUser()
	defer conn.FinishPendingUser()

	if mount {
		if _, err := mounts.attach(manager, conn); err != nil {
			return fmt.Errorf("mounting filesystem: %w", err)
		}
	}
	if terminal {
		if err := terminals.attach(ctx, manager, conn); err != nil {
			return fmt.Errorf("attaching terminal: %w", err)
		}
	}
	return nil
}

// dialer builds the manager's session dialer on top of pkg/sshutil.
func dialer(logger *slog.Logger) connection.Dialer {
	return func(ctx context.Context, p *connection.Profile) (connection.Session, error) {
		sess, err := sshutil.Dial(ctx, sshConfig(p), sshutil.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &sshSession{sess}, nil
	}
}

// sshConfig converts a resolved profile into the transport configuration.
func sshConfig(p *connection.Profile) *sshutil.Config {
	return &sshutil.Config{
		Host:            p.Host,
		Port:            p.Port,
		User:            p.User,
		KeyFile:         p.KeyFile,
		KeyData:         p.KeyData,
		KeyPassphrase:   p.KeyPassphrase,
		Password:        p.Password,
		Timeout:         p.Timeout,
		KnownHostsFile:  p.KnownHostsFile,
		InsecureHostKey: p.InsecureHost,
	}
}

// sshSession adapts *sshutil.Session to the manager's session interface,
// narrowing Shell's concrete channel type to io.ReadWriteCloser.
type sshSession struct {
	*sshutil.Session
}

func (s *sshSession) Shell(ctx context.Context) (io.ReadWriteCloser, error) {
	return s.Session.Shell(ctx)
}

// mountRegistry tracks the filesystem mount attached to each connection and
// serves stat lookups for the workspace.
type mountRegistry struct {
	logger *slog.Logger

	mu     sync.Mutex
	byName map[string]*sshutil.Mount
}

func newMountRegistry(logger *slog.Logger) *mountRegistry {
	return &mountRegistry{
		logger: logger,
		byName: make(map[string]*sshutil.Mount),
	}
}

// attach opens an SFTP mount on the connection's session and registers it
// both here and on the connection itself. A second attach for the same
// connection returns the existing mount.
func (r *mountRegistry) attach(manager *connection.Manager, conn *connection.Connection) (*sshutil.Mount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mount, ok := r.byName[conn.Name]; ok {
		return mount, nil
	}

	adapter, ok := conn.Session().(*sshSession)
	if !ok {
		return nil, fmt.Errorf("connection %q has no mountable transport", conn.Name)
	}

	mount, err := sshutil.NewMount(adapter.Session, conn.Name, sshutil.WithMountLogger(r.logger))
	if err != nil {
		return nil, err
	}

	r.byName[conn.Name] = mount
	manager.Update(conn, func(c *connection.Connection) {
		c.AddFilesystem(mount)
	})

	return mount, nil
}

// drop closes and forgets the mount for a connection, if one exists.
func (r *mountRegistry) drop(name string) {
	r.mu.Lock()
	mount := r.byName[name]
	delete(r.byName, name)
	r.mu.Unlock()

	if mount == nil {
		return
	}
	if err := mount.Close(); err != nil {
		r.logger.Warn("error closing mount",
			slog.String("connection", name),
			slog.String("error", err.Error()),
		)
	}
}

// stat resolves remote file metadata for a workspace resource through the
// mount serving the resource's connection.
func (r *mountRegistry) stat(_ context.Context, res connection.Resource) (connection.FileInfo, error) {
	r.mu.Lock()
	mount := r.byName[res.Authority]
	r.mu.Unlock()

	if mount == nil {
		return connection.FileInfo{}, fmt.Errorf("no filesystem mounted for connection %q", res.Authority)
	}

	info, err := mount.Stat(res.Path)
	if err != nil {
		return connection.FileInfo{}, err
	}
	return connection.FileInfo{IsDirectory: info.IsDir()}, nil
}

// terminalRegistry tracks the interactive terminal attached to each
// connection brought up with the terminal flag.
type terminalRegistry struct {
	logger *slog.Logger

	mu     sync.Mutex
	byName map[string]*sshutil.Terminal
}

func newTerminalRegistry(logger *slog.Logger) *terminalRegistry {
	return &terminalRegistry{
		logger: logger,
		byName: make(map[string]*sshutil.Terminal),
	}
}

// attach opens a terminal on the connection's session, seeded with the
// connection's merged environment, and registers it on the connection. A
// second attach for the same connection is a no-op.
func (r *terminalRegistry) attach(ctx context.Context, manager *connection.Manager, conn *connection.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[conn.Name]; ok {
		return nil
	}

	adapter, ok := conn.Session().(*sshSession)
	if !ok {
		return fmt.Errorf("connection %q has no terminal-capable transport", conn.Name)
	}

	var opts []sshutil.TerminalOption
	opts = append(opts, sshutil.WithTerminalLogger(r.logger))
	if setup := connection.ExportStatement(conn.Environment); setup != "" {
		opts = append(opts, sshutil.WithTerminalSetup(setup))
	}

	term, err := sshutil.NewTerminal(ctx, adapter.Session, opts...)
	if err != nil {
		return err
	}

	r.byName[conn.Name] = term
	manager.Update(conn, func(c *connection.Connection) {
		c.AddTerminal(term)
	})

	return nil
}

// drop closes and forgets the terminal for a connection, if one exists.
func (r *terminalRegistry) drop(name string) {
	r.mu.Lock()
	term := r.byName[name]
	delete(r.byName, name)
	r.mu.Unlock()

	if term == nil {
		return
	}
	if err := term.Close(); err != nil {
		r.logger.Warn("error closing terminal",
			slog.String("connection", name),
			slog.String("error", err.Error()),
		)
	}
}

// managerStatus snapshots the manager for the /connections endpoint.
func managerStatus(manager *connection.Manager) health.Status {
	status := health.Status{Pending: manager.Pending()}
	for _, conn := range manager.Active() {
		status.Active = append(status.Active, health.ConnectionStatus{
			Name:        conn.Name,
			Home:        conn.Home,
			Filesystems: len(conn.Filesystems()),
			Terminals:   len(conn.Terminals()),
		})
	}
	return status
}

func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLogLevel(level)

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
