// Package workspace manages the per merge request working directories under
// {root}/instantiate/{projectID}/{mrID}.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrWorkspace marks working directory failures that survived every retry.
var ErrWorkspace = errors.New("workspace")

const attempts = 3

// FS is the filesystem surface the manager relies on.
type FS interface {
	RemoveAll(path string) error
	MkdirAll(path string, perm os.FileMode) error
}

type osFS struct{}

func (osFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

// Manager owns working directories under a common root.
type Manager struct {
	root    string
	fs      FS
	backoff time.Duration
}

// Option customises a Manager.
type Option func(*Manager)

// WithFS swaps the filesystem implementation.
func WithFS(fs FS) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithBackoff sets the delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) { m.backoff = d }
}

// New returns a manager rooted at {workingPath}/instantiate.
func New(workingPath string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(workingPath) == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	m := &Manager{root: filepath.Join(workingPath, "instantiate"), fs: osFS{}, backoff: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the directory holding every workspace.
func (m *Manager) Root() string { return m.root }

// Path returns the working directory of a merge request without touching disk.
func (m *Manager) Path(projectID, mrID string) string {
	return filepath.Join(m.root, safe(projectID), safe(mrID))
}

// Prepare removes then recreates the working directory, retrying each step.
func (m *Manager) Prepare(ctx context.Context, projectID, mrID string) (string, error) {
	if projectID == "" || mrID == "" {
		return "", fmt.Errorf("%w: identifiers cannot be empty", ErrWorkspace)
	}
	dir := m.Path(projectID, mrID)
	if err := m.retry(ctx, func() error { return m.fs.RemoveAll(dir) }); err != nil {
		return "", fmt.Errorf("%w: cleanup %s: %w", ErrWorkspace, dir, err)
	}
	if err := m.retry(ctx, func() error { return m.fs.MkdirAll(dir, 0o755) }); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", ErrWorkspace, dir, err)
	}
	return dir, nil
}

// Cleanup removes the working directory. A missing directory is not an error.
func (m *Manager) Cleanup(ctx context.Context, projectID, mrID string) error {
	dir := m.Path(projectID, mrID)
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%w: refusing to cleanup path outside workspace root", ErrWorkspace)
	}
	if err := m.retry(ctx, func() error { return m.fs.RemoveAll(dir) }); err != nil {
		return fmt.Errorf("%w: cleanup %s: %w", ErrWorkspace, dir, err)
	}
	return nil
}

func (m *Manager) retry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(m.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// safe keeps identifiers from escaping the workspace root.
func safe(id string) string {
	id = strings.NewReplacer("/", "_", "\\", "_").Replace(id)
	if id == "." || id == ".." {
		return "_"
	}
	return id
}
