package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/naming"
	"github.com/splax/instantiate/internal/orchestrator"
	"github.com/splax/instantiate/internal/repository"
	"github.com/splax/instantiate/internal/shell"
	"github.com/splax/instantiate/internal/stackconfig"
	"github.com/splax/instantiate/internal/webhook"
)

// Deploy brings up or refreshes the environment of an open merge request. It
// returns the host DNS and whether a stack was deployed. A repository without
// descriptor or manifest template is a soft stop: no error, nothing deployed.
// Unless force is set, a commit already running is not redeployed.
func (m *Manager) Deploy(ctx context.Context, ev domain.CanonicalEvent, projectKey string, force bool) (string, bool, error) {
	unlock := m.locks.lock(ev.Key())
	defer unlock()

	start := time.Now()
	log := m.eventLogger(ev).With("sha", ev.CommitSHA)

	if !force && m.alreadyRunning(ctx, ev) {
		log.Info("commit already deployed, skipping")
		m.metrics.observe("deploy", "unchanged", start)
		return "", false, nil
	}

	if err := m.deps.Store.UpdateMergeRequest(ctx, ev, domain.MergeRequestInProgress); err != nil {
		m.metrics.observe("deploy", "failed", start)
		return "", false, fmt.Errorf("mark merge request in progress: %w", err)
	}
	m.comment(ctx, log, ev, domain.CommentInProgress, nil)

	hostDNS, deployed, err := m.deploy(ctx, log, ev, projectKey)
	if err != nil {
		log.Error("deploy failed", "error", err)
		m.comment(ctx, log, ev, domain.CommentError, nil)
		if serr := m.deps.Store.UpdateStackStatus(ctx, ev.ProjectID, ev.MRID, domain.StackError); serr != nil && !errors.Is(serr, repository.ErrNotFound) {
			log.Warn("mark stack error failed", "error", serr)
		}
		m.metrics.observe("deploy", "failed", start)
		return "", false, fmt.Errorf("deploy %s: %w", ev.Key(), err)
	}
	if !deployed {
		if err := m.deps.Store.UpdateMergeRequest(ctx, ev, domain.MergeRequestOpen); err != nil {
			log.Warn("reset merge request status failed", "error", err)
		}
		m.metrics.observe("deploy", "skipped", start)
		return "", false, nil
	}
	m.metrics.observe("deploy", "deployed", start)
	log.Info("stack deployed", "host", hostDNS, "duration", time.Since(start))
	return hostDNS, true, nil
}

// alreadyRunning reports whether the event commit is the one recorded and its stack runs.
func (m *Manager) alreadyRunning(ctx context.Context, ev domain.CanonicalEvent) bool {
	if ev.CommitSHA == "" {
		return false
	}
	sha, err := m.deps.Store.GetLastCommitSHA(ctx, ev.ProjectID, ev.MRID)
	if err != nil || sha != ev.CommitSHA {
		return false
	}
	stack, err := m.deps.Store.GetStack(ctx, ev.ProjectID, ev.MRID)
	if err != nil {
		return false
	}
	return stack.Status == domain.StackRunning
}

func (m *Manager) deploy(ctx context.Context, log *slog.Logger, ev domain.CanonicalEvent, projectKey string) (string, bool, error) {
	workDir, err := m.deps.Workspaces.Prepare(ctx, ev.ProjectID, ev.MRID)
	if err != nil {
		return "", false, err
	}
	if err := m.deps.Git.Clone(ctx, ev.CloneURL, ev.Branch, workDir); err != nil {
		return "", false, fmt.Errorf("clone: %w", err)
	}

	cfg, err := stackconfig.Load(workDir)
	if errors.Is(err, stackconfig.ErrConfigMissing) {
		log.Warn("repository has no stack config, nothing to deploy")
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	templatePath := cfg.TemplatePath(workDir)
	if _, err := os.Stat(templatePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("manifest template missing, nothing to deploy", "template", templatePath)
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat template: %w", err)
	}

	domainName := m.cfg.HostDomain
	if exposed := strings.TrimSpace(cfg.ExposeDomain); exposed != "" {
		domainName = exposed
	}
	hostDNS := m.cfg.HostScheme + "://" + domainName
	stackName := naming.BuildStackName(ev.ProjectName, ev.Title)
	if err := m.retireRenamed(ctx, log, ev, stackName, workDir); err != nil {
		return "", false, err
	}

	vars := map[string]any{
		"MR_ID":        ev.MRID,
		"MR_IID":       ev.MRDisplayID,
		"MR_BRANCH":    ev.Branch,
		"COMMIT_SHA":   ev.CommitSHA,
		"PROJECT_KEY":  projectKey,
		"PROJECT_ID":   ev.ProjectID,
		"PROJECT_NAME": ev.ProjectName,
		"STACK_NAME":   stackName,
		"HOST_DOMAIN":  domainName,
		"HOST_SCHEME":  m.cfg.HostScheme,
		"HOST_DNS":     hostDNS,
	}

	services := sortedServices(cfg.Services)

	for _, name := range services {
		svc := cfg.Services[name]
		if svc.Repository == nil {
			continue
		}
		dest := filepath.Join(workDir, name)
		if err := m.cloneSide(ctx, log, ev, name, *svc.Repository, dest); err != nil {
			return "", false, err
		}
		vars[envName(name)+"_PATH"] = dest
	}

	for _, name := range services {
		svc := cfg.Services[name]
		if svc.Prebuild == nil {
			continue
		}
		mountDir := workDir
		if svc.Repository != nil {
			mountDir = filepath.Join(workDir, name)
		}
		if err := m.prebuild(ctx, name, *svc.Prebuild, mountDir); err != nil {
			return "", false, err
		}
	}

	ports := make(map[string]int)
	links := make(map[string]string)
	for _, name := range services {
		svc := cfg.Services[name]
		for i := 1; i <= svc.Ports; i++ {
			slot := portVariable(name, i, svc.Ports)
			port, err := m.deps.Ports.Allocate(ctx, ev.ProjectID, ev.MRID, name, slot)
			if err != nil {
				return "", false, fmt.Errorf("allocate %s: %w", slot, err)
			}
			ports[slot] = port
			vars[slot] = port
			if i == 1 {
				links[name] = hostDNS + ":" + strconv.Itoa(port)
			}
		}
	}

	rendered := cfg.RenderedPath(workDir)
	if err := m.deps.Renderer.RenderFile(templatePath, rendered, vars); err != nil {
		return "", false, err
	}
	if err := m.deps.Validate(ctx, rendered, cfg.Orchestrator, stackName); err != nil {
		return "", false, err
	}

	target := orchestrator.Target{Name: stackName, WorkDir: workDir, Manifest: cfg.ManifestTarget(workDir)}
	if err := m.deps.Backends.Get(cfg.Orchestrator).Up(ctx, target); err != nil {
		return "", false, err
	}

	m.comment(ctx, log, ev, domain.CommentReady, links)

	record := domain.StackRecord{
		ProjectID:    ev.ProjectID,
		MRID:         ev.MRID,
		ProjectName:  ev.ProjectName,
		MRName:       ev.Title,
		Ports:        ports,
		Provider:     ev.Provider,
		Status:       domain.StackRunning,
		Links:        links,
		Orchestrator: cfg.Orchestrator,
	}
	if err := m.deps.Store.SaveStack(ctx, record); err != nil {
		return "", false, fmt.Errorf("save stack: %w", err)
	}
	if err := m.deps.Store.UpdateMergeRequest(ctx, ev, domain.MergeRequestOpen); err != nil {
		return "", false, fmt.Errorf("mark merge request open: %w", err)
	}
	return hostDNS, true, nil
}

// retireRenamed stops the stack recorded under a previous name, left behind
// when the merge request or project was renamed since the last deploy.
func (m *Manager) retireRenamed(ctx context.Context, log *slog.Logger, ev domain.CanonicalEvent, stackName, workDir string) error {
	stack, err := m.deps.Store.GetStack(ctx, ev.ProjectID, ev.MRID)
	if err != nil {
		return nil
	}
	previous := recordedStackName(stack)
	if previous == "" || previous == stackName {
		return nil
	}
	log.Info("stack renamed, stopping previous stack", "previous", previous, "stack", stackName)
	target := orchestrator.Target{Name: previous, WorkDir: workDir}
	if err := m.deps.Backends.Get(stack.Orchestrator).Down(ctx, target); err != nil {
		return fmt.Errorf("stop previous stack %s: %w", previous, err)
	}
	return nil
}

// recordedStackName is the name a stack was deployed under, empty when the
// record carries no names.
func recordedStackName(stack *domain.StackRecord) string {
	if stack == nil || (stack.ProjectName == "" && stack.MRName == "") {
		return ""
	}
	return naming.BuildStackName(stack.ProjectName, stack.MRName)
}

// cloneSide clones a side repository. With the match behaviour the merge
// request branch is used when the remote has it.
func (m *Manager) cloneSide(ctx context.Context, log *slog.Logger, ev domain.CanonicalEvent, service string, repo stackconfig.SideRepository, dest string) error {
	url := m.withCredentials(ev.Provider, repo.URL)
	branch := repo.Branch
	if repo.Behavior == stackconfig.BehaviorMatch && ev.Branch != "" {
		exists, err := m.deps.Git.RemoteBranchExists(ctx, url, ev.Branch)
		switch {
		case err != nil:
			log.Warn("remote branch probe failed, using declared branch", "service", service, "error", err)
		case exists:
			branch = ev.Branch
		}
	}
	if err := m.deps.Git.Clone(ctx, url, branch, dest); err != nil {
		return fmt.Errorf("clone %s: %w", service, err)
	}
	return nil
}

// withCredentials picks credentials from the repository host, falling back to
// the provider of the event.
func (m *Manager) withCredentials(provider domain.Provider, rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "github"):
		provider = domain.ProviderGitHub
	case strings.Contains(lower, "gitlab"):
		provider = domain.ProviderGitLab
	}
	if provider == domain.ProviderGitHub {
		return webhook.InjectCredentials(rawURL, m.cfg.GitHubUsername, m.cfg.GitHubToken)
	}
	return webhook.InjectCredentials(rawURL, m.cfg.GitLabUsername, m.cfg.GitLabToken)
}

func (m *Manager) prebuild(ctx context.Context, service string, p stackconfig.Prebuild, dir string) error {
	if len(p.Commands) == 0 {
		return nil
	}
	cmd := shell.Command{
		Name: "docker",
		Args: []string{
			"run", "--rm",
			"-v", dir + ":" + p.MountPath,
			"-w", p.MountPath,
			p.Image,
			"sh", "-c", strings.Join(p.Commands, " && "),
		},
		Dir: dir,
	}
	if err := m.deps.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("prebuild %s: %w", service, err)
	}
	return nil
}

func sortedServices(services map[string]stackconfig.Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// envName turns a service name into a template variable prefix: upper case,
// anything outside [A-Z0-9] becomes an underscore.
func envName(service string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, service)
}

// portVariable names the template variable of one port slot: SERVICE_PORT for
// a single port, SERVICE_PORT_n otherwise.
func portVariable(service string, index, count int) string {
	if count == 1 {
		return envName(service) + "_PORT"
	}
	return envName(service) + "_PORT_" + strconv.Itoa(index)
}
