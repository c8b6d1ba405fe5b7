// Package sshutil implements the SSH transport layer for kelvinfs.
//
// It wraps golang.org/x/crypto/ssh and github.com/pkg/sftp behind a small
// Session type that the connection manager consumes: one authenticated SSH
// connection per Session, with command execution, interactive shell channels,
// SFTP file writes, SFTP mounts, and pseudo-terminals multiplexed on top of
// it. Destroying a Session tears down every channel opened on it.
//
// Key features:
//   - Context-aware dialing with configurable timeout
//   - Multiple authentication methods (key file, inline key, password)
//   - Host key verification via a known_hosts file, or explicit opt-out
//   - Keepalive probes on established connections
package sshutil
