package main

import (
	"context"
	"fmt"
	"io"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"

	"github.com/nomis52/gosdm/kube"
)

// dryRunTarget prints what would be applied instead of touching a cluster.
type dryRunTarget struct {
	out io.Writer
}

var _ kube.Target = dryRunTarget{}

func (t dryRunTarget) ApplyNamespace(_ context.Context, ns *corev1.Namespace) error {
	fmt.Fprintf(t.out, "would apply namespace %s\n", ns.Name)
	return nil
}

func (t dryRunTarget) ApplyDeployment(_ context.Context, d *appsv1.Deployment) error {
	images := make([]string, 0, len(d.Spec.Template.Spec.Containers))
	for _, c := range d.Spec.Template.Spec.Containers {
		images = append(images, c.Image)
	}
	fmt.Fprintf(t.out, "would apply deployment %s/%s %v\n", d.Namespace, d.Name, images)
	return nil
}

func (t dryRunTarget) ApplyService(_ context.Context, s *corev1.Service) error {
	fmt.Fprintf(t.out, "would apply service %s/%s\n", s.Namespace, s.Name)
	return nil
}

func (t dryRunTarget) ApplyIngress(_ context.Context, i *networkingv1.Ingress) error {
	hosts := make([]string, 0, len(i.Spec.Rules))
	for _, r := range i.Spec.Rules {
		hosts = append(hosts, r.Host)
	}
	fmt.Fprintf(t.out, "would apply ingress %s/%s %v\n", i.Namespace, i.Name, hosts)
	return nil
}

func (t dryRunTarget) DeleteDeployment(_ context.Context, namespace, name string) error {
	fmt.Fprintf(t.out, "would delete deployment %s/%s\n", namespace, name)
	return nil
}
