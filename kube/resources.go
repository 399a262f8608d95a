package kube

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// Ingress annotations applied to every test deployment.
var ingressAnnotations = map[string]string{
	"nginx.ingress.kubernetes.io/client-body-buffer-size": "1m",
}

// BuildNamespace returns the namespace object for app.
func BuildNamespace(app App) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: app.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "gosdm",
			},
		},
	}
}

// BuildDeployment returns a single-replica deployment running app.Image.
func BuildDeployment(app App) *appsv1.Deployment {
	replicas := int32(1)
	pod := corev1.PodSpec{
		Containers: []corev1.Container{{
			Name:  app.Name,
			Image: app.Image,
			Ports: []corev1.ContainerPort{{
				Name:          "http",
				ContainerPort: app.port(),
				Protocol:      corev1.ProtocolTCP,
			}},
		}},
	}
	if app.ImagePullSecret != "" {
		pod.ImagePullSecrets = []corev1.LocalObjectReference{{Name: app.ImagePullSecret}}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      app.Name,
			Namespace: app.Namespace,
			Labels:    app.labels(),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: app.selector()},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: app.labels()},
				Spec:       pod,
			},
		},
	}
}

// BuildService returns a ClusterIP service in front of the app's port.
func BuildService(app App) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      app.Name,
			Namespace: app.Namespace,
			Labels:    app.labels(),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: app.selector(),
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       app.port(),
				TargetPort: intstr.FromString("http"),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

// BuildIngress routes app.Host and app.Path to the service.
func BuildIngress(app App) *networkingv1.Ingress {
	class := app.IngressClass
	if class == "" {
		class = DefaultIngressClass
	}
	path := app.Path
	if path == "" {
		path = DefaultPath
	}
	pathType := networkingv1.PathTypePrefix

	annotations := map[string]string{"kubernetes.io/ingress.class": class}
	for k, v := range ingressAnnotations {
		annotations[k] = v
	}

	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        app.Name,
			Namespace:   app.Namespace,
			Labels:      app.labels(),
			Annotations: annotations,
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: app.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     path,
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: app.Name,
									Port: networkingv1.ServiceBackendPort{Name: "http"},
								},
							},
						}},
					},
				},
			}},
		},
	}
}
