package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/shell"
)

// ContainerInspector lists the states of the live containers of a compose
// project; exited containers are left out.
type ContainerInspector interface {
	ContainerStates(ctx context.Context, project string) ([]string, error)
}

// Compose runs stacks with docker compose.
type Compose struct {
	runner    shell.Runner
	inspector ContainerInspector
	log       *slog.Logger
}

// NewCompose constructs the compose adapter.
func NewCompose(runner shell.Runner, inspector ContainerInspector, log *slog.Logger) *Compose {
	if log == nil {
		log = slog.Default()
	}
	return &Compose{runner: runner, inspector: inspector, log: log.With("component", "compose")}
}

// Up force-recreates and rebuilds every service.
func (c *Compose) Up(ctx context.Context, t Target) error {
	c.log.Info("stack up", "stack", t.Name)
	err := c.runner.Run(ctx, shell.Command{
		Name: "docker",
		Args: []string{"compose", "-p", t.Name, "-f", t.Manifest, "up", "-d", "--force-recreate", "--build"},
		Dir:  t.WorkDir,
	})
	if err != nil {
		return fmt.Errorf("compose up %s: %w", t.Name, err)
	}
	return nil
}

// Down removes containers, named volumes and orphans. A missing working
// directory means there is nothing left to tear down.
func (c *Compose) Down(ctx context.Context, t Target) error {
	if _, err := os.Stat(t.WorkDir); errors.Is(err, os.ErrNotExist) {
		c.log.Warn("stack path does not exist", "stack", t.Name, "path", t.WorkDir)
		return nil
	}
	c.log.Info("stack down", "stack", t.Name)
	err := c.runner.Run(ctx, shell.Command{
		Name: "docker",
		Args: []string{"compose", "-p", t.Name, "down", "--volumes", "--remove-orphans"},
		Dir:  t.WorkDir,
	})
	if err != nil {
		return fmt.Errorf("compose down %s: %w", t.Name, err)
	}
	return nil
}

// CheckHealth reports running only when the project has containers and all of them run.
func (c *Compose) CheckHealth(ctx context.Context, stackName string) domain.StackStatus {
	if c.inspector == nil {
		c.log.Error("no container inspector configured", "stack", stackName)
		return domain.StackError
	}
	states, err := c.inspector.ContainerStates(ctx, stackName)
	if err != nil {
		c.log.Error("error checking stack", "stack", stackName, "error", err)
		return domain.StackError
	}
	if len(states) == 0 {
		return domain.StackError
	}
	for _, state := range states {
		if state != "running" {
			return domain.StackError
		}
	}
	return domain.StackRunning
}
