package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/naming"
	"github.com/splax/instantiate/internal/orchestrator"
	"github.com/splax/instantiate/internal/stackconfig"
)

// Destroy tears down the environment of a closed merge request, releases its
// ports and removes its records and workspace. The stack is addressed by the
// name it was deployed under, which survives renames of the merge request.
func (m *Manager) Destroy(ctx context.Context, ev domain.CanonicalEvent, projectKey string) error {
	unlock := m.locks.lock(ev.Key())
	defer unlock()

	start := time.Now()
	log := m.eventLogger(ev).With("project_key", projectKey)

	if err := m.destroy(ctx, ev); err != nil {
		log.Error("destroy failed", "error", err)
		m.metrics.observe("destroy", "failed", start)
		return fmt.Errorf("destroy %s: %w", ev.Key(), err)
	}
	m.comment(ctx, log, ev, domain.CommentClosed, nil)
	m.metrics.observe("destroy", "destroyed", start)
	log.Info("stack destroyed", "duration", time.Since(start))
	return nil
}

func (m *Manager) destroy(ctx context.Context, ev domain.CanonicalEvent) error {
	workDir := m.deps.Workspaces.Path(ev.ProjectID, ev.MRID)
	var stack *domain.StackRecord
	if recorded, err := m.deps.Store.GetStack(ctx, ev.ProjectID, ev.MRID); err == nil {
		stack = recorded
	}
	cfg := destroyConfig(stack, workDir)

	name := recordedStackName(stack)
	if name == "" {
		name = naming.BuildStackName(ev.ProjectName, ev.Title)
	}
	target := orchestrator.Target{
		Name:     name,
		WorkDir:  workDir,
		Manifest: cfg.ManifestTarget(workDir),
	}
	if err := m.deps.Backends.Get(cfg.Orchestrator).Down(ctx, target); err != nil {
		return err
	}
	if err := m.deps.Ports.Release(ctx, ev.ProjectID, ev.MRID); err != nil {
		return err
	}
	if err := m.deps.Store.UpdateMergeRequest(ctx, ev, domain.MergeRequestClosed); err != nil {
		return fmt.Errorf("mark merge request closed: %w", err)
	}
	if err := m.deps.Store.RemoveStack(ctx, ev.ProjectID, ev.MRID); err != nil {
		return fmt.Errorf("remove stack: %w", err)
	}
	return m.deps.Workspaces.Cleanup(ctx, ev.ProjectID, ev.MRID)
}

// destroyConfig reads the checkout descriptor when it is still there. Without
// it the backend recorded with the stack is used, then compose.
func destroyConfig(stack *domain.StackRecord, workDir string) stackconfig.Config {
	cfg, err := stackconfig.Load(workDir)
	if err == nil {
		return *cfg
	}
	fallback := stackconfig.Config{Orchestrator: stackconfig.Compose}
	if stack != nil && stack.Orchestrator != "" {
		fallback.Orchestrator = stackconfig.NormalizeOrchestrator(stack.Orchestrator)
	}
	return fallback
}
