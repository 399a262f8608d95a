package kube

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/nomis52/gosdm/goal"
)

func testApp() App {
	return App{
		Name:            "app",
		Namespace:       Namespace("testing", "WS1"),
		Workspace:       "WS1",
		Host:            Host(goal.Push{Owner: "Acme", Repo: "App"}, "WS1", ""),
		Path:            "/",
		Image:           "registry.example.com/acme/app:abc123",
		ImagePullSecret: DefaultImagePullSecret,
	}
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "sdm-testing-ws1", Namespace("testing", "WS1"))
	assert.Equal(t, "sdm-testing-ws1", Namespace("sdm-testing", "ws1"))
	assert.Equal(t, "sdm-ws1", Namespace("production", "WS1"))
}

func TestHost(t *testing.T) {
	assert.Equal(t, "app-acme-ws1.g.atomist.com", Host(goal.Push{Owner: "Acme", Repo: "App"}, "WS1", ""))
	assert.Equal(t, "app-acme-ws1.example.com", Host(goal.Push{Owner: "acme", Repo: "app"}, "ws1", "example.com"))
}

func TestExternalURLs(t *testing.T) {
	urls := ExternalURLs(testApp())
	require.Len(t, urls, 1)
	assert.Equal(t, "https://app-acme-ws1.g.atomist.com/", urls[0].URL)
	assert.Equal(t, "sdm-testing-ws1:app", urls[0].Label)

	assert.Empty(t, ExternalURLs(App{}))
}

func TestBuildIngress(t *testing.T) {
	ing := BuildIngress(testApp())

	assert.Equal(t, "nginx", ing.Annotations["kubernetes.io/ingress.class"])
	assert.Equal(t, "1m", ing.Annotations["nginx.ingress.kubernetes.io/client-body-buffer-size"])
	require.Len(t, ing.Spec.Rules, 1)
	assert.Equal(t, "app-acme-ws1.g.atomist.com", ing.Spec.Rules[0].Host)
	assert.Equal(t, "/", ing.Spec.Rules[0].HTTP.Paths[0].Path)
	assert.Equal(t, "app", ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Name)
}

func TestBuildDeployment(t *testing.T) {
	d := BuildDeployment(testApp())

	assert.Equal(t, "sdm-testing-ws1", d.Namespace)
	require.Len(t, d.Spec.Template.Spec.Containers, 1)
	assert.Equal(t, "registry.example.com/acme/app:abc123", d.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, int32(DefaultPort), d.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort)
	assert.Equal(t, "sdm-imagepullsecret", d.Spec.Template.Spec.ImagePullSecrets[0].Name)
	assert.Equal(t, d.Spec.Selector.MatchLabels["app.kubernetes.io/name"], d.Spec.Template.Labels["app.kubernetes.io/name"])
}

func TestParseRegistrations(t *testing.T) {
	raw := json.RawMessage(`{
		"redis": {"type": "atomist.com/sdm/service/k8s", "spec": {"container": {"name": "redis", "image": "redis:5"}}},
		"pair": {"type": "atomist.com/sdm/service/k8s", "spec": {"container": [{"name": "a", "image": "a:1"}, {"name": "b", "image": "b:1"}]}},
		"lambda": {"type": "atomist.com/sdm/service/lambda", "spec": {}},
		"broken": {"type": "atomist.com/sdm/service/k8s", "spec": {"container": 42}}
	}`)

	regs, warnings, err := ParseRegistrations(raw)
	require.NoError(t, err)

	require.Len(t, regs, 2)
	assert.Equal(t, "pair", regs[0].Name)
	assert.Len(t, regs[0].K8s.Containers, 2)
	assert.Equal(t, "redis", regs[1].Name)
	assert.Equal(t, "redis:5", regs[1].K8s.Containers[0].Image)

	require.Len(t, warnings, 2)
	assert.Equal(t, "broken", warnings[0].Name)
	assert.Equal(t, "lambda", warnings[1].Name)
	assert.Contains(t, warnings[1].Message, "unknown service type")

	_, _, err = ParseRegistrations(json.RawMessage(`[1,2]`))
	assert.Error(t, err)

	regs, warnings, err = ParseRegistrations(nil)
	assert.NoError(t, err)
	assert.Empty(t, regs)
	assert.Empty(t, warnings)
}

func TestMergeServices(t *testing.T) {
	spec := BuildDeployment(testApp()).Spec.Template.Spec
	regs := []ServiceRegistration{
		MongoService(),
		{Name: "dup", Type: ServiceTypeK8s, K8s: &K8sServiceSpec{Containers: []corev1.Container{{Name: "mongo"}}}},
		{Name: "empty", Type: "other"},
	}

	warnings := MergeServices(&spec, regs)

	require.Len(t, spec.Containers, 2)
	assert.Equal(t, "mongo", spec.Containers[1].Name)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0].String(), `container "mongo" already present`)
	assert.Equal(t, "empty", warnings[1].Name)
}

func TestClient_ApplyCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	clientset := fake.NewSimpleClientset()
	client := NewClient(clientset)
	app := testApp()

	warnings, err := Apply(ctx, client, app, []ServiceRegistration{MongoService()})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	_, err = clientset.CoreV1().Namespaces().Get(ctx, "sdm-testing-ws1", metav1.GetOptions{})
	require.NoError(t, err)

	d, err := clientset.AppsV1().Deployments("sdm-testing-ws1").Get(ctx, "app", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Len(t, d.Spec.Template.Spec.Containers, 2)

	_, err = clientset.CoreV1().Services("sdm-testing-ws1").Get(ctx, "app", metav1.GetOptions{})
	require.NoError(t, err)
	_, err = clientset.NetworkingV1().Ingresses("sdm-testing-ws1").Get(ctx, "app", metav1.GetOptions{})
	require.NoError(t, err)

	// Second apply with a new image updates in place.
	app.Image = "registry.example.com/acme/app:def456"
	_, err = Apply(ctx, client, app, nil)
	require.NoError(t, err)

	d, err = clientset.AppsV1().Deployments("sdm-testing-ws1").Get(ctx, "app", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/acme/app:def456", d.Spec.Template.Spec.Containers[0].Image)
	assert.Len(t, d.Spec.Template.Spec.Containers, 1)
}

func TestClient_DeleteDeployment(t *testing.T) {
	ctx := context.Background()
	clientset := fake.NewSimpleClientset(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "app", Namespace: "sdm-testing-ws1"},
	})
	client := NewClient(clientset)

	require.NoError(t, client.DeleteDeployment(ctx, "sdm-testing-ws1", "app"))

	_, err := clientset.AppsV1().Deployments("sdm-testing-ws1").Get(ctx, "app", metav1.GetOptions{})
	assert.Error(t, err)

	err = client.DeleteDeployment(ctx, "sdm-testing-ws1", "app")
	assert.ErrorIs(t, err, ErrNotFound)
}
