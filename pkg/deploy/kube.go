package deploy

import (
	"context"
	"fmt"

	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/log"
	"github.com/vinci4d/engine/pkg/types"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	// workerPrefix names the StatefulSet and headless Service of a worker
	workerPrefix = "vinci4dworker-"

	// defaultImage runs workers whose spec names no image
	defaultImage = "python:3.11-slim"

	gpuResourceName = "nvidia.com/gpu"
)

// requestFraction is the share of the resource limit requested from the
// scheduler, leaving headroom on the node.
const requestFraction = 0.8

// KubeDeployer realizes workers as Kubernetes StatefulSets with headless
// Services, one replica per worker.
type KubeDeployer struct {
	clientset kubernetes.Interface
	namespace string

	// EngineURL and ArtifactoryURL are handed to worker pods via env so the
	// worker process knows where to poll for tasks and fetch scripts.
	EngineURL      string
	ArtifactoryURL string
}

// NewKubeDeployer builds a deployer from the in-cluster config, falling back
// to the given kubeconfig path.
func NewKubeDeployer(namespace, kubeconfig string) (*KubeDeployer, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	if namespace == "" {
		namespace = "default"
	}

	return &KubeDeployer{clientset: clientset, namespace: namespace}, nil
}

// NewKubeDeployerWithClient builds a deployer over an existing clientset
func NewKubeDeployerWithClient(clientset kubernetes.Interface, namespace string) *KubeDeployer {
	if namespace == "" {
		namespace = "default"
	}
	return &KubeDeployer{clientset: clientset, namespace: namespace}
}

// DeploymentName returns the Kubernetes object name for a worker
func DeploymentName(worker *types.Worker) string {
	return workerPrefix + worker.Name
}

// CreateWorker creates the worker's StatefulSet and headless Service
func (d *KubeDeployer) CreateWorker(ctx context.Context, worker *types.Worker) error {
	name := DeploymentName(worker)
	labels := map[string]string{
		"app":                name,
		"vinci4d/worker-uid": worker.UID,
		"vinci4d/grid-uid":   worker.GridUID,
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector:  labels,
		},
	}

	_, err := d.clientset.CoreV1().Services(d.namespace).Create(ctx, service, metav1.CreateOptions{})
	if err != nil && !errors.IsAlreadyExists(err) {
		return fmt.Errorf("%w: failed to create service %s: %v", errdefs.ErrDownstream, name, err)
	}

	statefulSet := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: name,
			Replicas:    int32Ptr(1),
			Selector:    &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:      "worker",
							Image:     workerImage(worker),
							Resources: workerResources(worker),
							Env:       d.workerEnv(worker),
						},
					},
				},
			},
		},
	}

	if nodeType := worker.Spec["node_type"]; nodeType != "" {
		statefulSet.Spec.Template.Spec.NodeSelector = map[string]string{"node_type": nodeType}
	}

	_, err = d.clientset.AppsV1().StatefulSets(d.namespace).Create(ctx, statefulSet, metav1.CreateOptions{})
	if err != nil && !errors.IsAlreadyExists(err) {
		return fmt.Errorf("%w: failed to create statefulset %s: %v", errdefs.ErrDownstream, name, err)
	}

	logger := log.WithComponent("deploy")
	logger.Info().
		Str("worker_uid", worker.UID).
		Str("name", name).
		Msg("worker deployment created")
	return nil
}

// DeleteWorker removes the worker's StatefulSet and Service. Missing objects
// are ignored so teardown stays idempotent.
func (d *KubeDeployer) DeleteWorker(ctx context.Context, worker *types.Worker) error {
	name := DeploymentName(worker)

	err := d.clientset.AppsV1().StatefulSets(d.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("%w: failed to delete statefulset %s: %v", errdefs.ErrDownstream, name, err)
	}

	err = d.clientset.CoreV1().Services(d.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("%w: failed to delete service %s: %v", errdefs.ErrDownstream, name, err)
	}

	return nil
}

func (d *KubeDeployer) workerEnv(worker *types.Worker) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "VINCI4D_WORKER_UID", Value: worker.UID},
		{Name: "VINCI4D_GRID_UID", Value: worker.GridUID},
	}
	if d.EngineURL != "" {
		env = append(env, corev1.EnvVar{Name: "VINCI4D_ENGINE_URL", Value: d.EngineURL})
	}
	if d.ArtifactoryURL != "" {
		env = append(env, corev1.EnvVar{Name: "VINCI4D_ARTIFACTORY_URL", Value: d.ArtifactoryURL})
	}
	return env
}

func workerImage(worker *types.Worker) string {
	if image := worker.Spec["docker_image"]; image != "" {
		return image
	}
	return defaultImage
}

// workerResources limits the container at the worker's declared capacity and
// requests requestFraction of it.
func workerResources(worker *types.Worker) corev1.ResourceRequirements {
	cpuLimit := resource.NewMilliQuantity(int64(worker.CPUTotal*1000), resource.DecimalSI)
	memLimit := resource.NewQuantity(worker.MemoryTotalMB*1024*1024, resource.BinarySI)
	cpuRequest := resource.NewMilliQuantity(int64(worker.CPUTotal*1000*requestFraction), resource.DecimalSI)
	memRequest := resource.NewQuantity(int64(float64(worker.MemoryTotalMB*1024*1024)*requestFraction), resource.BinarySI)

	req := corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    *cpuLimit,
			corev1.ResourceMemory: *memLimit,
		},
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    *cpuRequest,
			corev1.ResourceMemory: *memRequest,
		},
	}

	if worker.GPUID != "" {
		req.Limits[gpuResourceName] = *resource.NewQuantity(1, resource.DecimalSI)
	}

	return req
}

func int32Ptr(v int32) *int32 { return &v }
