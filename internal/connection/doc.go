// Package connection implements the kelvinfs connection manager: it
// establishes authenticated remote sessions, deduplicates concurrent
// creations for the same profile, tracks the filesystem mounts and terminals
// attached to each connection, closes connections that stay idle, and runs
// the ::sshfs: command channel that lets remote tooling open files and
// folders on the controlling side.
//
// The package consumes transport and presentation behavior through small
// interfaces (Session, UI, ConfigSource); pkg/sshutil, internal/workspace,
// and internal/config provide the production implementations.
package connection
