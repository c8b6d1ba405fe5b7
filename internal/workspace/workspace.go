// Package workspace is the presentation layer behind the command channel: it
// tracks which remote folders and documents the user has open and surfaces
// errors as messages. Remote stat calls are injected so the daemon can route
// them through whichever mount serves the resource's connection.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kelvinfs/kelvinfs/internal/connection"
)

// StatFunc resolves remote file metadata for a resource.
type StatFunc func(ctx context.Context, res connection.Resource) (connection.FileInfo, error)

// Workspace implements the command channel's presentation interface. Opened
// folders and documents are recorded as resource strings; a real editor
// frontend would subscribe to these, the daemon exposes them over the status
// endpoint.
type Workspace struct {
	stat   StatFunc
	logger *slog.Logger

	mu        sync.Mutex
	folders   []string
	documents []string
	errors    []string
}

// Option is a functional option for configuring the Workspace.
type Option func(*Workspace)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workspace) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a workspace backed by the given stat function.
func New(stat StatFunc, opts ...Option) *Workspace {
	w := &Workspace{
		stat:   stat,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stat resolves metadata for a remote resource.
func (w *Workspace) Stat(ctx context.Context, res connection.Resource) (connection.FileInfo, error) {
	if w.stat == nil {
		return connection.FileInfo{}, fmt.Errorf("no filesystem available for %s", res)
	}
	return w.stat(ctx, res)
}

// OpenTextDocument records a remote file as opened.
func (w *Workspace) OpenTextDocument(_ context.Context, res connection.Resource) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.documents = append(w.documents, res.String())
	w.logger.Info("opened document", slog.String("resource", res.String()))
	return nil
}

// AddWorkspaceFolder records a remote directory as a workspace root. Adding
// the same folder twice is a no-op.
func (w *Workspace) AddWorkspaceFolder(_ context.Context, res connection.Resource) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	uri := res.String()
	for _, existing := range w.folders {
		if existing == uri {
			return nil
		}
	}
	w.folders = append(w.folders, uri)
	w.logger.Info("added workspace folder", slog.String("resource", uri))
	return nil
}

// ShowErrorMessage surfaces a user-visible error. Messages are retained so
// the status endpoint can report recent failures.
func (w *Workspace) ShowErrorMessage(message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors = append(w.errors, message)
	if len(w.errors) > maxRetainedErrors {
		w.errors = w.errors[len(w.errors)-maxRetainedErrors:]
	}
	w.logger.Warn("user-facing error", slog.String("message", message))
}

const maxRetainedErrors = 50

// Folders returns the workspace roots added so far.
func (w *Workspace) Folders() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.folders...)
}

// Documents returns the documents opened so far.
func (w *Workspace) Documents() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.documents...)
}

// Errors returns the retained user-facing error messages.
func (w *Workspace) Errors() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.errors...)
}
