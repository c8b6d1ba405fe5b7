package connection

import (
	"context"
	"io"
	"os"
)

// Session is an authenticated transport connection to a remote host. It is
// established externally (see pkg/sshutil); this package only multiplexes
// channels over it and eventually destroys it.
type Session interface {
	// Exec runs a command remotely and returns its collected output once the
	// command's channel closes.
	Exec(ctx context.Context, command string) ([]byte, error)

	// Shell opens an interactive shell channel. Reads consume the shell's
	// output, writes feed its input.
	Shell(ctx context.Context) (io.ReadWriteCloser, error)

	// WriteFile writes a remote file over the session's file-transfer channel.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// Destroy terminates the session and every channel opened on it.
	Destroy() error
}

// Filesystem is a filesystem-mount handle attached to a connection. The idle
// check reads the two status flags to prune mounts that are going away.
type Filesystem interface {
	Closed() bool
	Closing() bool
}

// Terminal is a pseudo-terminal handle attached to a connection.
type Terminal interface {
	Close() error
}

// Resource locates a file or directory on a connected host.
type Resource struct {
	// Authority is the connection name the resource lives on.
	Authority string

	// Path is the absolute remote path.
	Path string
}

func (r Resource) String() string {
	return "ssh://" + r.Authority + r.Path
}

// FileInfo is the subset of remote file metadata the command channel needs.
type FileInfo struct {
	IsDirectory bool
}

// UI is the presentation layer the command channel dispatches to. Failures
// from any of these calls are surfaced as user-visible messages, never as
// connection failures.
type UI interface {
	Stat(ctx context.Context, res Resource) (FileInfo, error)
	OpenTextDocument(ctx context.Context, res Resource) error
	AddWorkspaceFolder(ctx context.Context, res Resource) error
	ShowErrorMessage(message string)
}

// ConfigSource supplies connection profiles and resolves them into their
// final, dialable form. internal/config provides the file-backed
// implementation.
type ConfigSource interface {
	// Lookup returns the stored profile with the given name.
	Lookup(name string) (*Profile, bool)

	// Resolve computes the actual profile from a requested one: defaults
	// applied, secrets read. The context carries cancellation for any
	// interactive part of resolution.
	Resolve(ctx context.Context, p *Profile) (*Profile, error)
}

// Dialer establishes a Session for a resolved profile.
type Dialer func(ctx context.Context, p *Profile) (Session, error)
