package kube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ErrNotFound is returned when the target of a delete does not exist.
var ErrNotFound = errors.New("not found")

// Target is the narrow view of a cluster the deploy goals need.
type Target interface {
	ApplyNamespace(ctx context.Context, ns *corev1.Namespace) error
	ApplyDeployment(ctx context.Context, d *appsv1.Deployment) error
	ApplyService(ctx context.Context, s *corev1.Service) error
	ApplyIngress(ctx context.Context, i *networkingv1.Ingress) error
	DeleteDeployment(ctx context.Context, namespace, name string) error
}

// Client implements Target over a Kubernetes clientset.
type Client struct {
	clientset kubernetes.Interface
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With("component", "kube")
	}
}

// NewClient wraps an existing clientset.
func NewClient(clientset kubernetes.Interface, opts ...ClientOption) *Client {
	c := &Client{
		clientset: clientset,
		logger:    slog.Default().With("component", "kube"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from a kubeconfig file and context. An
// empty path with no KUBECONFIG set falls back to in-cluster configuration.
func NewClientFromConfig(kubeconfig, kubeContext string, opts ...ClientOption) (*Client, error) {
	var cfg *rest.Config
	var err error

	if kubeconfig == "" && kubeContext == "" {
		cfg, err = rest.InClusterConfig()
		if err != nil && !errors.Is(err, rest.ErrNotInCluster) {
			return nil, fmt.Errorf("loading in-cluster config: %w", err)
		}
	}
	if cfg == nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			rules.ExplicitPath = kubeconfig
		}
		overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	return NewClient(clientset, opts...), nil
}

// ApplyNamespace creates the namespace if it does not exist.
func (c *Client) ApplyNamespace(ctx context.Context, ns *corev1.Namespace) error {
	api := c.clientset.CoreV1().Namespaces()
	if _, err := api.Get(ctx, ns.Name, metav1.GetOptions{}); err == nil {
		return nil
	} else if !apierrors.IsNotFound(err) {
		return fmt.Errorf("getting namespace %s: %w", ns.Name, err)
	}

	if _, err := api.Create(ctx, ns, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %s: %w", ns.Name, err)
	}
	c.logger.Info("created namespace", "namespace", ns.Name)
	return nil
}

// ApplyDeployment creates or replaces a deployment.
func (c *Client) ApplyDeployment(ctx context.Context, d *appsv1.Deployment) error {
	api := c.clientset.AppsV1().Deployments(d.Namespace)
	existing, err := api.Get(ctx, d.Name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		if _, err := api.Create(ctx, d, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("creating deployment %s/%s: %w", d.Namespace, d.Name, err)
		}
		c.logger.Info("created deployment", "namespace", d.Namespace, "name", d.Name)
		return nil
	case err != nil:
		return fmt.Errorf("getting deployment %s/%s: %w", d.Namespace, d.Name, err)
	}

	d.ResourceVersion = existing.ResourceVersion
	if _, err := api.Update(ctx, d, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating deployment %s/%s: %w", d.Namespace, d.Name, err)
	}
	c.logger.Info("updated deployment", "namespace", d.Namespace, "name", d.Name)
	return nil
}

// ApplyService creates or replaces a service, keeping its cluster IP.
func (c *Client) ApplyService(ctx context.Context, s *corev1.Service) error {
	api := c.clientset.CoreV1().Services(s.Namespace)
	existing, err := api.Get(ctx, s.Name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		if _, err := api.Create(ctx, s, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("creating service %s/%s: %w", s.Namespace, s.Name, err)
		}
		c.logger.Info("created service", "namespace", s.Namespace, "name", s.Name)
		return nil
	case err != nil:
		return fmt.Errorf("getting service %s/%s: %w", s.Namespace, s.Name, err)
	}

	s.ResourceVersion = existing.ResourceVersion
	s.Spec.ClusterIP = existing.Spec.ClusterIP
	if _, err := api.Update(ctx, s, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating service %s/%s: %w", s.Namespace, s.Name, err)
	}
	c.logger.Info("updated service", "namespace", s.Namespace, "name", s.Name)
	return nil
}

// ApplyIngress creates or replaces an ingress.
func (c *Client) ApplyIngress(ctx context.Context, i *networkingv1.Ingress) error {
	api := c.clientset.NetworkingV1().Ingresses(i.Namespace)
	existing, err := api.Get(ctx, i.Name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		if _, err := api.Create(ctx, i, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("creating ingress %s/%s: %w", i.Namespace, i.Name, err)
		}
		c.logger.Info("created ingress", "namespace", i.Namespace, "name", i.Name, "host", hostOf(i))
		return nil
	case err != nil:
		return fmt.Errorf("getting ingress %s/%s: %w", i.Namespace, i.Name, err)
	}

	i.ResourceVersion = existing.ResourceVersion
	if _, err := api.Update(ctx, i, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("updating ingress %s/%s: %w", i.Namespace, i.Name, err)
	}
	c.logger.Info("updated ingress", "namespace", i.Namespace, "name", i.Name, "host", hostOf(i))
	return nil
}

// DeleteDeployment deletes a deployment and waits for dependents through
// foreground propagation. A missing deployment returns an error wrapping ErrNotFound.
func (c *Client) DeleteDeployment(ctx context.Context, namespace, name string) error {
	policy := metav1.DeletePropagationForeground
	err := c.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("deployment %s/%s: %w", namespace, name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting deployment %s/%s: %w", namespace, name, err)
	}
	c.logger.Info("deleted deployment", "namespace", namespace, "name", name)
	return nil
}

func hostOf(i *networkingv1.Ingress) string {
	if len(i.Spec.Rules) == 0 {
		return ""
	}
	return i.Spec.Rules[0].Host
}
