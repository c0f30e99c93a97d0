// Package stackconfig loads the per repository .instantiate/config.yml
// descriptor and validates rendered manifests.
package stackconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Layout of the repository descriptor directory.
const (
	Dir      = ".instantiate"
	FileName = "config.yml"
)

// Supported orchestrator backends.
const (
	Compose    = "compose"
	Swarm      = "swarm"
	Kubernetes = "kubernetes"
)

// Side repository branch behaviours.
const (
	BehaviorFixed = "fixed"
	BehaviorMatch = "match"
)

// ErrConfigMissing reports that the repository carries no descriptor.
var ErrConfigMissing = errors.New("stack config missing")

// Config is the parsed repository descriptor.
type Config struct {
	Orchestrator string             `yaml:"orchestrator"`
	StackFile    string             `yaml:"stackfile"`
	ExposeDomain string             `yaml:"expose_domain"`
	Services     map[string]Service `yaml:"services"`
}

// Service declares what one service of the stack needs.
type Service struct {
	Ports      int             `yaml:"ports"`
	Repository *SideRepository `yaml:"repository"`
	Prebuild   *Prebuild       `yaml:"prebuild"`
}

// SideRepository is an extra repository cloned next to the main checkout.
type SideRepository struct {
	URL      string `yaml:"repo"`
	Branch   string `yaml:"branch"`
	Behavior string `yaml:"behavior"`
}

// Prebuild runs commands in a throwaway container before the stack starts.
type Prebuild struct {
	Image     string   `yaml:"image"`
	MountPath string   `yaml:"mountpath"`
	Commands  []string `yaml:"commands"`
}

// Load reads {workDir}/.instantiate/config.yml.
func Load(workDir string) (*Config, error) {
	path := filepath.Join(workDir, Dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrConfigMissing)
		}
		return nil, fmt.Errorf("read stack config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a descriptor and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse stack config: %w", err)
	}
	cfg.Orchestrator = NormalizeOrchestrator(cfg.Orchestrator)
	for name, svc := range cfg.Services {
		if svc.Ports < 0 {
			return nil, fmt.Errorf("service %s: ports must not be negative", name)
		}
		if svc.Repository != nil {
			if strings.TrimSpace(svc.Repository.URL) == "" {
				return nil, fmt.Errorf("service %s: repository url is required", name)
			}
			if svc.Repository.Behavior != BehaviorMatch {
				svc.Repository.Behavior = BehaviorFixed
			}
		}
		if svc.Prebuild != nil {
			if strings.TrimSpace(svc.Prebuild.Image) == "" {
				return nil, fmt.Errorf("service %s: prebuild image is required", name)
			}
			if svc.Prebuild.MountPath == "" {
				svc.Prebuild.MountPath = "/app"
			}
		}
		cfg.Services[name] = svc
	}
	return &cfg, nil
}

// NormalizeOrchestrator maps unknown or empty names to compose.
func NormalizeOrchestrator(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Swarm:
		return Swarm
	case Kubernetes:
		return Kubernetes
	default:
		return Compose
	}
}

// TemplateName returns the manifest template file name inside .instantiate.
func (c Config) TemplateName() string {
	if name := strings.TrimSpace(c.StackFile); name != "" {
		return name
	}
	if c.Orchestrator == Kubernetes {
		return "all.yml"
	}
	return "docker-compose.yml"
}

// TemplatePath returns the absolute manifest template path.
func (c Config) TemplatePath(workDir string) string {
	return filepath.Join(workDir, Dir, c.TemplateName())
}

// RenderedPath returns where the rendered manifest is written. Kubernetes
// manifests go to a dedicated directory handed to kubectl as a whole.
func (c Config) RenderedPath(workDir string) string {
	name := filepath.Base(c.TemplateName())
	if c.Orchestrator == Kubernetes {
		return filepath.Join(workDir, Dir, "rendered", name)
	}
	ext := filepath.Ext(name)
	return filepath.Join(workDir, Dir, strings.TrimSuffix(name, ext)+".rendered.yml")
}

// ManifestTarget is the path given to the orchestrator adapter.
func (c Config) ManifestTarget(workDir string) string {
	if c.Orchestrator == Kubernetes {
		return filepath.Dir(c.RenderedPath(workDir))
	}
	return c.RenderedPath(workDir)
}
