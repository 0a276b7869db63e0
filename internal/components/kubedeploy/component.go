package kubedeploy

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// Component wraps a Kubernetes clientset as a Pluto component: it can scale
// a Deployment and report the replica count it last observed after doing
// so. It is deliberately narrow (one workload kind, one scaling operation)
// since its purpose in this framework is to be a realistic external target
// for schedules, not a general Kubernetes client.
type Component struct {
	component.Base

	clientset kubernetes.Interface

	// LastScaled is the replica count last requested via ScaleDeployment,
	// exposed as a variable so a WaitAttributesGreaterThan instruction can
	// observe it settle. Writes to it through the registry are not rejected.
	LastScaled int32
}

// New builds a kubedeploy Component named name using cfg to reach the
// cluster. The caller still needs to Registry.Register the result.
func New(name string, bus *eventbus.Bus, cfg ClientConfig) (*Component, error) {
	clientset, err := buildClientset(cfg)
	if err != nil {
		return nil, err
	}
	return &Component{Base: component.NewBase(name, bus), clientset: clientset}, nil
}

func (c *Component) Describe() ([]string, []string) {
	return []string{"ScaleDeployment", "GetReplicas"}, []string{"LastScaled"}
}

func (c *Component) Stop() {}

// ScaleDeployment patches namespace/name's spec.replicas to replicas and
// records it as LastScaled.
func (c *Component) ScaleDeployment(namespace, name string, replicas int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deployments := c.clientset.AppsV1().Deployments(namespace)
	deployment, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("kubedeploy: get deployment %s/%s: %w", namespace, name, err)
	}

	deployment.Spec.Replicas = &replicas
	if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("kubedeploy: update deployment %s/%s: %w", namespace, name, err)
	}

	// Routed through SetVariableViaBus, not a direct field write, so the
	// update is observable the same way any Set instruction's write would
	// be (a VariableUpdate is posted, not just the field changing quietly).
	return component.SetVariableViaBus(ctx, c.Bus(), c.Name(), "LastScaled", replicas)
}

// GetReplicas returns the Deployment's current observed (ready) replica
// count.
func (c *Component) GetReplicas(namespace, name string) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deployment, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("kubedeploy: get deployment %s/%s: %w", namespace, name, err)
	}
	return deployment.Status.ReadyReplicas, nil
}
