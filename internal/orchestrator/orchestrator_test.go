package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/splax/instantiate/internal/docker"
	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/shell"
)

type fakeRunner struct {
	mu   sync.Mutex
	cmds []shell.Command
	err  error
}

func (f *fakeRunner) Run(_ context.Context, cmd shell.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

type fakeContainers struct {
	states []string
	err    error
}

func (f fakeContainers) ContainerStates(context.Context, string) ([]string, error) {
	return f.states, f.err
}

type fakeStacks struct {
	replicas []docker.ServiceReplicas
	err      error
}

func (f fakeStacks) StackReplicas(context.Context, string) ([]docker.ServiceReplicas, error) {
	return f.replicas, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryFallsBackToCompose(t *testing.T) {
	compose := NewCompose(&fakeRunner{}, nil, discard())
	swarm := NewSwarm(&fakeRunner{}, nil, discard())
	reg := NewRegistry(compose, swarm, nil, discard())

	assert.Same(t, compose, reg.Get(""))
	assert.Same(t, compose, reg.Get("nomad"))
	assert.Same(t, swarm, reg.Get("swarm"))
	assert.Same(t, compose, reg.Get("kubernetes"))
}

func TestComposeCommands(t *testing.T) {
	runner := &fakeRunner{}
	c := NewCompose(runner, nil, discard())
	dir := t.TempDir()
	target := Target{Name: "demo-mr1", WorkDir: dir, Manifest: filepath.Join(dir, ".instantiate", "docker-compose.rendered.yml")}

	require.NoError(t, c.Up(context.Background(), target))
	require.NoError(t, c.Down(context.Background(), target))
	require.Len(t, runner.cmds, 2)

	assert.Equal(t, "docker", runner.cmds[0].Name)
	assert.Equal(t, []string{"compose", "-p", "demo-mr1", "-f", target.Manifest, "up", "-d", "--force-recreate", "--build"}, runner.cmds[0].Args)
	assert.Equal(t, dir, runner.cmds[0].Dir)
	assert.Equal(t, []string{"compose", "-p", "demo-mr1", "down", "--volumes", "--remove-orphans"}, runner.cmds[1].Args)
}

func TestComposeDownMissingDirIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	c := NewCompose(runner, nil, discard())
	err := c.Down(context.Background(), Target{Name: "gone", WorkDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	assert.Empty(t, runner.cmds)
}

func TestComposeUpFailure(t *testing.T) {
	c := NewCompose(&fakeRunner{err: errors.New("exit 1")}, nil, discard())
	assert.Error(t, c.Up(context.Background(), Target{Name: "x", WorkDir: t.TempDir()}))
}

func TestComposeHealth(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		inspector fakeContainers
		want      domain.StackStatus
	}{
		{fakeContainers{states: []string{"running", "running"}}, domain.StackRunning},
		{fakeContainers{states: []string{"running", "exited"}}, domain.StackError},
		{fakeContainers{states: []string{"running", "restarting"}}, domain.StackError},
		{fakeContainers{}, domain.StackError},
		{fakeContainers{err: errors.New("daemon down")}, domain.StackError},
	}
	for _, tc := range cases {
		c := NewCompose(&fakeRunner{}, tc.inspector, discard())
		assert.Equal(t, tc.want, c.CheckHealth(ctx, "demo"))
	}
	assert.Equal(t, domain.StackError, NewCompose(&fakeRunner{}, nil, discard()).CheckHealth(ctx, "demo"))
}

func TestSwarmCommands(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSwarm(runner, nil, discard())
	target := Target{Name: "demo", WorkDir: "/w", Manifest: "/w/.instantiate/docker-compose.rendered.yml"}

	require.NoError(t, s.Up(context.Background(), target))
	require.NoError(t, s.Down(context.Background(), target))
	require.Len(t, runner.cmds, 3)
	assert.Equal(t, []string{"stack", "deploy", "-c", target.Manifest, "demo"}, runner.cmds[0].Args)
	assert.Equal(t, []string{"stack", "rm", "demo"}, runner.cmds[1].Args)
	assert.Equal(t, []string{"image", "prune", "-f"}, runner.cmds[2].Args)
}

func TestSwarmHealth(t *testing.T) {
	ctx := context.Background()
	ok := fakeStacks{replicas: []docker.ServiceReplicas{{Name: "web", Running: 2, Desired: 2}, {Name: "db", Running: 1, Desired: 1}}}
	assert.Equal(t, domain.StackRunning, NewSwarm(nil, ok, discard()).CheckHealth(ctx, "demo"))

	degraded := fakeStacks{replicas: []docker.ServiceReplicas{{Name: "web", Running: 1, Desired: 2}}}
	assert.Equal(t, domain.StackError, NewSwarm(nil, degraded, discard()).CheckHealth(ctx, "demo"))

	assert.Equal(t, domain.StackError, NewSwarm(nil, fakeStacks{}, discard()).CheckHealth(ctx, "demo"))
	assert.Equal(t, domain.StackError, NewSwarm(nil, fakeStacks{err: errors.New("boom")}, discard()).CheckHealth(ctx, "demo"))
}

func TestKubernetesCommands(t *testing.T) {
	runner := &fakeRunner{}
	k := NewKubernetes(runner, nil, "", discard())
	dir := t.TempDir()
	target := Target{Name: "demo", WorkDir: dir, Manifest: dir}

	require.NoError(t, k.Up(context.Background(), target))
	require.NoError(t, k.Down(context.Background(), target))
	require.NoError(t, k.Down(context.Background(), Target{Name: "demo", Manifest: filepath.Join(dir, "missing")}))

	require.Len(t, runner.cmds, 2)
	assert.Equal(t, "kubectl", runner.cmds[0].Name)
	assert.Equal(t, []string{"apply", "-f", dir}, runner.cmds[0].Args)
	assert.Equal(t, []string{"delete", "-f", dir, "--ignore-not-found"}, runner.cmds[1].Args)
}

func pod(name, app string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "previews", Labels: map[string]string{"app": app}},
		Status:     corev1.PodStatus{Phase: phase},
	}
}

func TestKubernetesHealth(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(
		pod("a-1", "healthy", corev1.PodRunning),
		pod("a-2", "healthy", corev1.PodRunning),
		pod("b-1", "pending", corev1.PodRunning),
		pod("b-2", "pending", corev1.PodPending),
	)
	k := NewKubernetes(&fakeRunner{}, client, "previews", discard())

	assert.Equal(t, domain.StackRunning, k.CheckHealth(ctx, "healthy"))
	assert.Equal(t, domain.StackError, k.CheckHealth(ctx, "pending"))
	assert.Equal(t, domain.StackError, k.CheckHealth(ctx, "absent"))
	assert.Equal(t, domain.StackError, NewKubernetes(&fakeRunner{}, nil, "", discard()).CheckHealth(ctx, "healthy"))
}
