// Package lifecycle sequences the deploy and destroy of merge request
// environments: workspace, clone, configuration, ports, manifest and backend.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"

	"github.com/splax/instantiate/internal/comments"
	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/orchestrator"
	"github.com/splax/instantiate/internal/repository"
	"github.com/splax/instantiate/internal/shell"
	"github.com/splax/instantiate/internal/stackconfig"
)

// Store persists merge request and stack state.
type Store interface {
	repository.MergeRequestRepository
	repository.StackRepository
}

// Ports leases external ports.
type Ports interface {
	Allocate(ctx context.Context, projectID, mrID, service, slot string) (int, error)
	Release(ctx context.Context, projectID, mrID string) error
}

// Git clones repositories and probes remote branches.
type Git interface {
	Clone(ctx context.Context, repoURL, branch, dest string) error
	RemoteBranchExists(ctx context.Context, repoURL, branch string) (bool, error)
}

// Workspaces manages working directories.
type Workspaces interface {
	Prepare(ctx context.Context, projectID, mrID string) (string, error)
	Path(projectID, mrID string) string
	Cleanup(ctx context.Context, projectID, mrID string) error
}

// Renderer materializes manifest templates.
type Renderer interface {
	RenderFile(src, dst string, vars map[string]any) error
}

// Backends resolves orchestrator adapters by name.
type Backends interface {
	Get(name string) orchestrator.Adapter
}

// ValidateFunc checks a rendered manifest.
type ValidateFunc func(ctx context.Context, path, orchestrator, projectName string) error

// Config carries host and credential settings.
type Config struct {
	HostDomain     string
	HostScheme     string
	GitHubUsername string
	GitHubToken    string
	GitLabUsername string
	GitLabToken    string
}

// Deps groups the collaborators of a Manager.
type Deps struct {
	Store      Store
	Ports      Ports
	Git        Git
	Workspaces Workspaces
	Renderer   Renderer
	Backends   Backends
	Commenter  comments.Commenter
	Runner     shell.Runner
	Validate   ValidateFunc
}

// Manager runs deploy and destroy for merge requests. Operations on the same
// (project, merge request) are serialized.
type Manager struct {
	deps    Deps
	cfg     Config
	log     *slog.Logger
	locks   *keyLock
	metrics managerMetrics
}

// New constructs a Manager.
func New(deps Deps, cfg Config, log *slog.Logger) *Manager {
	if deps.Validate == nil {
		deps.Validate = stackconfig.Validate
	}
	if strings.TrimSpace(cfg.HostDomain) == "" {
		cfg.HostDomain = "localhost"
	}
	if strings.TrimSpace(cfg.HostScheme) == "" {
		cfg.HostScheme = "http"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		log:     log.With("component", "lifecycle"),
		locks:   newKeyLock(),
		metrics: newManagerMetrics(),
	}
}

func (m *Manager) eventLogger(ev domain.CanonicalEvent) *slog.Logger {
	return m.log.With("project_id", ev.ProjectID, "mr_id", ev.MRID, "provider", ev.Provider)
}

// comment reports a status; failures never abort the operation.
func (m *Manager) comment(ctx context.Context, log *slog.Logger, ev domain.CanonicalEvent, status domain.CommentStatus, links map[string]string) {
	if m.deps.Commenter == nil {
		return
	}
	if err := m.deps.Commenter.PostStatusComment(ctx, ev, status, links); err != nil {
		log.Warn("status comment failed", "status", status, "error", err)
	}
}
