package stackconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest marks manifests that cannot be parsed.
var ErrInvalidManifest = errors.New("invalid manifest")

// Validate checks the manifest at path. Every backend requires well formed
// YAML; compose and swarm manifests must also load as a compose project.
func Validate(ctx context.Context, path, orchestrator, projectName string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	docs, err := decodeDocuments(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	if docs == 0 {
		return fmt.Errorf("%w: %s: empty document", ErrInvalidManifest, path)
	}
	if NormalizeOrchestrator(orchestrator) == Kubernetes {
		return nil
	}

	details := composetypes.ConfigDetails{
		WorkingDir:  filepath.Dir(path),
		ConfigFiles: []composetypes.ConfigFile{{Filename: path, Content: data}},
		Environment: composetypes.Mapping{},
	}
	_, err = loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		if projectName != "" {
			o.SetProjectName(projectName, true)
		}
		o.SkipResolveEnvironment = true
		o.SkipConsistencyCheck = true
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	return nil
}

func decodeDocuments(data []byte) (int, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	count := 0
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		if len(node.Content) > 0 {
			count++
		}
	}
}
