// Package kubedeploy is an example infrastructure component: it wraps
// k8s.io/client-go to let a schedule scale a Deployment and observe its
// replica count, giving the Call/Set/WaitAttributesGreaterThan instructions
// a realistic external target.
package kubedeploy

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientConfig controls how the underlying Kubernetes clientset is built.
type ClientConfig struct {
	// KubeconfigPath overrides $KUBECONFIG / ~/.kube/config. Ignored when
	// running in-cluster.
	KubeconfigPath string
}

// buildClientset resolves a working kubernetes.Interface the same way
// kubectl does: an explicit/discovered kubeconfig first, falling back to
// in-cluster config when no kubeconfig is found (the normal situation for
// a controller running as a pod).
func buildClientset(cfg ClientConfig) (kubernetes.Interface, error) {
	restConfig, err := buildRestConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubedeploy: build rest config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("kubedeploy: build clientset: %w", err)
	}
	return clientset, nil
}

func buildRestConfig(cfg ClientConfig) (*rest.Config, error) {
	kubeconfigPath := cfg.KubeconfigPath
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	if kubeconfigPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}
	}

	if kubeconfigPath != "" {
		if _, err := os.Stat(kubeconfigPath); err == nil {
			return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		}
	}

	return rest.InClusterConfig()
}
