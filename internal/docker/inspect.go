package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// Labels applied by docker compose and docker stack deploy.
const (
	ComposeProjectLabel = "com.docker.compose.project"
	StackNamespaceLabel = "com.docker.stack.namespace"
)

// ServiceReplicas reports the task counts of one swarm service.
type ServiceReplicas struct {
	Name    string
	Running uint64
	Desired uint64
}

// PublishedPorts returns every host port currently published by a running container.
func (c *Client) PublishedPorts(ctx context.Context) (map[int]struct{}, error) {
	if c == nil || c.inner == nil {
		return nil, ErrNotInitialized
	}
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	ports := make(map[int]struct{})
	for _, ctr := range containers {
		for _, p := range ctr.Ports {
			if p.PublicPort != 0 {
				ports[int(p.PublicPort)] = struct{}{}
			}
		}
	}
	return ports, nil
}

// ContainerStates returns the state of the live containers of a compose
// project. Exited containers, such as finished one-shot jobs, are not listed.
func (c *Client) ContainerStates(ctx context.Context, project string) ([]string, error) {
	if c == nil || c.inner == nil {
		return nil, ErrNotInitialized
	}
	args := filters.NewArgs(filters.Arg("label", ComposeProjectLabel+"="+project))
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list project containers: %w", err)
	}
	states := make([]string, 0, len(containers))
	for _, ctr := range containers {
		states = append(states, ctr.State)
	}
	return states, nil
}

// StackReplicas returns replica counts for every service of a swarm stack.
func (c *Client) StackReplicas(ctx context.Context, stack string) ([]ServiceReplicas, error) {
	if c == nil || c.inner == nil {
		return nil, ErrNotInitialized
	}
	args := filters.NewArgs(filters.Arg("label", StackNamespaceLabel+"="+stack))
	services, err := c.inner.ServiceList(ctx, types.ServiceListOptions{Filters: args, Status: true})
	if err != nil {
		return nil, fmt.Errorf("list stack services: %w", err)
	}
	out := make([]ServiceReplicas, 0, len(services))
	for _, svc := range services {
		r := ServiceReplicas{Name: svc.Spec.Name}
		if svc.ServiceStatus != nil {
			r.Running = svc.ServiceStatus.RunningTasks
			r.Desired = svc.ServiceStatus.DesiredTasks
		}
		out = append(out, r)
	}
	return out, nil
}
