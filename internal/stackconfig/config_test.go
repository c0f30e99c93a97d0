package stackconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigMissing))
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, Dir, FileName), `
orchestrator: Whatever
services:
  web:
    ports: 2
  backend:
    repository:
      repo: https://example.com/backend.git
      branch: develop
    prebuild:
      image: node:23
      commands: ["npm ci", "npm run build"]
  api:
    repository:
      repo: https://example.com/api.git
      behavior: match
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, Compose, cfg.Orchestrator)
	assert.Equal(t, "docker-compose.yml", cfg.TemplateName())
	assert.Equal(t, 2, cfg.Services["web"].Ports)
	assert.Equal(t, BehaviorFixed, cfg.Services["backend"].Repository.Behavior)
	assert.Equal(t, "/app", cfg.Services["backend"].Prebuild.MountPath)
	assert.Equal(t, []string{"npm ci", "npm run build"}, cfg.Services["backend"].Prebuild.Commands)
	assert.Equal(t, BehaviorMatch, cfg.Services["api"].Repository.Behavior)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("services: [oops"))
	assert.Error(t, err)

	_, err = Parse([]byte("services:\n  a:\n    repository:\n      branch: main\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("services:\n  a:\n    prebuild:\n      commands: [ls]\n"))
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	compose := Config{Orchestrator: Compose}
	assert.Equal(t, filepath.Join("/w", Dir, "docker-compose.yml"), compose.TemplatePath("/w"))
	assert.Equal(t, filepath.Join("/w", Dir, "docker-compose.rendered.yml"), compose.RenderedPath("/w"))
	assert.Equal(t, compose.RenderedPath("/w"), compose.ManifestTarget("/w"))

	k8s := Config{Orchestrator: Kubernetes}
	assert.Equal(t, "all.yml", k8s.TemplateName())
	assert.Equal(t, filepath.Join("/w", Dir, "rendered", "all.yml"), k8s.RenderedPath("/w"))
	assert.Equal(t, filepath.Join("/w", Dir, "rendered"), k8s.ManifestTarget("/w"))

	custom := Config{Orchestrator: Swarm, StackFile: "stack.yaml"}
	assert.Equal(t, filepath.Join("/w", Dir, "stack.rendered.yml"), custom.RenderedPath("/w"))
}

func TestNormalizeOrchestrator(t *testing.T) {
	assert.Equal(t, Compose, NormalizeOrchestrator(""))
	assert.Equal(t, Compose, NormalizeOrchestrator("nomad"))
	assert.Equal(t, Swarm, NormalizeOrchestrator(" SWARM "))
	assert.Equal(t, Kubernetes, NormalizeOrchestrator("kubernetes"))
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	good := filepath.Join(dir, "good.yml")
	writeFile(t, good, "services:\n  web:\n    image: nginx\n    ports:\n      - \"10001:80\"\n")
	assert.NoError(t, Validate(ctx, good, Compose, "demo"))

	broken := filepath.Join(dir, "broken.yml")
	writeFile(t, broken, "services: [web\n")
	assert.ErrorIs(t, Validate(ctx, broken, Compose, "demo"), ErrInvalidManifest)

	notCompose := filepath.Join(dir, "bad.yml")
	writeFile(t, notCompose, "services:\n  web:\n    image: [1, 2]\n")
	assert.ErrorIs(t, Validate(ctx, notCompose, Compose, "demo"), ErrInvalidManifest)

	multi := filepath.Join(dir, "all.yml")
	writeFile(t, multi, "apiVersion: v1\nkind: Service\n---\napiVersion: apps/v1\nkind: Deployment\n")
	assert.NoError(t, Validate(ctx, multi, Kubernetes, "demo"))

	empty := filepath.Join(dir, "empty.yml")
	writeFile(t, empty, "")
	assert.ErrorIs(t, Validate(ctx, empty, Kubernetes, "demo"), ErrInvalidManifest)
}
