package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/splax/instantiate/internal/docker"
	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/shell"
)

// StackInspector lists replica counts of a swarm stack.
type StackInspector interface {
	StackReplicas(ctx context.Context, stack string) ([]docker.ServiceReplicas, error)
}

// Swarm runs stacks with docker stack deploy.
type Swarm struct {
	runner    shell.Runner
	inspector StackInspector
	log       *slog.Logger
}

// NewSwarm constructs the swarm adapter.
func NewSwarm(runner shell.Runner, inspector StackInspector, log *slog.Logger) *Swarm {
	if log == nil {
		log = slog.Default()
	}
	return &Swarm{runner: runner, inspector: inspector, log: log.With("component", "swarm")}
}

// Up deploys the rendered manifest as a named stack.
func (s *Swarm) Up(ctx context.Context, t Target) error {
	s.log.Info("stack up", "stack", t.Name)
	err := s.runner.Run(ctx, shell.Command{
		Name: "docker",
		Args: []string{"stack", "deploy", "-c", t.Manifest, t.Name},
		Dir:  t.WorkDir,
	})
	if err != nil {
		return fmt.Errorf("stack deploy %s: %w", t.Name, err)
	}
	return nil
}

// Down removes the stack then prunes dangling images.
func (s *Swarm) Down(ctx context.Context, t Target) error {
	s.log.Info("stack down", "stack", t.Name)
	if err := s.runner.Run(ctx, shell.Command{Name: "docker", Args: []string{"stack", "rm", t.Name}}); err != nil {
		return fmt.Errorf("stack rm %s: %w", t.Name, err)
	}
	if err := s.runner.Run(ctx, shell.Command{Name: "docker", Args: []string{"image", "prune", "-f"}}); err != nil {
		return fmt.Errorf("image prune: %w", err)
	}
	return nil
}

// CheckHealth requires every service of the stack to run all desired tasks.
func (s *Swarm) CheckHealth(ctx context.Context, stackName string) domain.StackStatus {
	if s.inspector == nil {
		s.log.Error("no stack inspector configured", "stack", stackName)
		return domain.StackError
	}
	services, err := s.inspector.StackReplicas(ctx, stackName)
	if err != nil {
		s.log.Error("error checking stack", "stack", stackName, "error", err)
		return domain.StackError
	}
	if len(services) == 0 {
		return domain.StackError
	}
	for _, svc := range services {
		if svc.Running != svc.Desired {
			return domain.StackError
		}
	}
	return domain.StackRunning
}
