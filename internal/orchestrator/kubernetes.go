package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/shell"
)

// Kubernetes applies manifest directories with kubectl and reads pod phases with client-go.
type Kubernetes struct {
	runner    shell.Runner
	client    kubernetes.Interface
	namespace string
	log       *slog.Logger
}

// NewKubernetes constructs the kubernetes adapter. A nil client leaves
// CheckHealth reporting errors.
func NewKubernetes(runner shell.Runner, client kubernetes.Interface, namespace string, log *slog.Logger) *Kubernetes {
	if log == nil {
		log = slog.Default()
	}
	if namespace == "" {
		namespace = "default"
	}
	return &Kubernetes{runner: runner, client: client, namespace: namespace, log: log.With("component", "kubernetes")}
}

// NewClient prefers in-cluster configuration and falls back to kubeconfig.
func NewClient(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		path := strings.TrimSpace(kubeconfig)
		if path == "" {
			path = strings.TrimSpace(os.Getenv("KUBECONFIG"))
		}
		if path == "" {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
		if err != nil {
			return nil, fmt.Errorf("create kubeconfig client: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}

// Up applies every manifest of the rendered directory.
func (k *Kubernetes) Up(ctx context.Context, t Target) error {
	k.log.Info("apply manifests", "stack", t.Name, "path", t.Manifest)
	if err := k.runner.Run(ctx, shell.Command{Name: "kubectl", Args: []string{"apply", "-f", t.Manifest}}); err != nil {
		return fmt.Errorf("kubectl apply %s: %w", t.Name, err)
	}
	return nil
}

// Down deletes the resources of the rendered directory.
func (k *Kubernetes) Down(ctx context.Context, t Target) error {
	if _, err := os.Stat(t.Manifest); err != nil {
		k.log.Warn("manifest path does not exist", "stack", t.Name, "path", t.Manifest)
		return nil
	}
	k.log.Info("delete manifests", "stack", t.Name, "path", t.Manifest)
	err := k.runner.Run(ctx, shell.Command{Name: "kubectl", Args: []string{"delete", "-f", t.Manifest, "--ignore-not-found"}})
	if err != nil {
		return fmt.Errorf("kubectl delete %s: %w", t.Name, err)
	}
	return nil
}

// CheckHealth requires every pod labeled app=<stack> to be in phase Running.
func (k *Kubernetes) CheckHealth(ctx context.Context, stackName string) domain.StackStatus {
	if k.client == nil {
		k.log.Error("no kubernetes client configured", "stack", stackName)
		return domain.StackError
	}
	pods, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{LabelSelector: "app=" + stackName})
	if err != nil {
		k.log.Error("error checking stack", "stack", stackName, "error", err)
		return domain.StackError
	}
	if len(pods.Items) == 0 {
		return domain.StackError
	}
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning {
			return domain.StackError
		}
	}
	return domain.StackRunning
}
