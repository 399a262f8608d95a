package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/kube"
	"github.com/nomis52/gosdm/server/handlers"
	"github.com/nomis52/gosdm/server/runner"
	"github.com/nomis52/gosdm/workflows/testdeploy"
)

// Test Helpers
// ---------------------------------------------------------------------

const deliveryConfig = `
workspace_id: T123
deploy:
  domain: g.example.com
verify:
  retries: 3
  interval: 1s
  url_template: %s/{host}
  rate_limit: 100
github:
  context_prefix: sdm
store:
  type: memory
  database_url: postgres://sdm:hunter2@db/sdm
`

type testServer struct {
	srv        *Server
	handler    http.Handler
	configPath string
	clientset  *fake.Clientset
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(app.Close)

	path := filepath.Join(t.TempDir(), "delivery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(deliveryConfig, app.URL)), 0644))

	clientset := fake.NewSimpleClientset()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{
		WithLogger(logger),
		WithTarget(kube.NewClient(clientset, kube.WithLogger(logger))),
		WithStore(runner.NewMemoryStore()),
	}, opts...)

	srv, err := New(path, opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Runner().Wait)

	return &testServer{
		srv:        srv,
		handler:    srv.Handler(),
		configPath: path,
		clientset:  clientset,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

const pushBody = `{
  "push": {"owner": "acme", "repo": "web", "branch": "main", "sha": "abc1234def", "image": "registry.example.com/acme/web:abc1234"},
  "elements": ["k8s"]
}`

// Tests
// ---------------------------------------------------------------------

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_PushDeploysAndVerifies(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/pushes", pushBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp handlers.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Lifecycles, 1)
	id := resp.Lifecycles[0].ID
	assert.Equal(t, testdeploy.PlanName, resp.Lifecycles[0].Plan)

	// Verify answers immediately, so only the stop goal is left waiting.
	require.Eventually(t, func() bool {
		ts.srv.Runner().Wait()
		lc, err := ts.srv.Runner().Get(context.Background(), id)
		if err != nil {
			return false
		}
		v, _ := lc.Goal(testdeploy.VerifyGoal)
		return v.State == goal.Success
	}, 5*time.Second, 20*time.Millisecond)

	lc, err := ts.srv.Runner().Get(context.Background(), id)
	require.NoError(t, err)
	deploy, _ := lc.Goal(testdeploy.DeployGoal)
	assert.Equal(t, goal.Success, deploy.State)
	stop, _ := lc.Goal(testdeploy.StopGoal)
	assert.Equal(t, goal.Planned, stop.State)
	assert.True(t, lc.Active())

	deployments, err := ts.clientset.AppsV1().Deployments("").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, deployments.Items, 1)

	w = ts.do(t, http.MethodGet, "/lifecycles/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/lifecycles?active=true", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = ts.do(t, http.MethodGet, "/lifecycles/"+id+"/logs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testdeploy.DeployGoal)

	w = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sdm_goal_transitions_total")
}

func TestServer_PushWithoutElements(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/pushes", `{"push":{"owner":"acme","repo":"web","sha":"abc1234"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lifecycles":[]}`, w.Body.String())
}

func TestServer_Cancel(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/pushes", pushBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp handlers.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	id := resp.Lifecycles[0].ID
	ts.srv.Runner().Wait()

	w = ts.do(t, http.MethodPost, "/lifecycles/"+id+"/cancel", `{"reason":"not wanted"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var lc handlers.LifecycleResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&lc))
	assert.True(t, lc.Cancelled)
	assert.Equal(t, "not wanted", lc.CancelReason)

	w = ts.do(t, http.MethodPost, "/lifecycles/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ConfigIsRedacted(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/config", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "workspace_id: T123")
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestServer_Reload(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, "g.example.com", ts.srv.Config().Deploy.Domain)

	data, err := os.ReadFile(ts.configPath)
	require.NoError(t, err)
	updated := strings.Replace(string(data), "g.example.com", "g.example.org", 1)
	require.NoError(t, os.WriteFile(ts.configPath, []byte(updated), 0644))

	w := ts.do(t, http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"workspace_id":"T123"`)
	assert.Equal(t, "g.example.org", ts.srv.Config().Deploy.Domain)

	require.NoError(t, os.WriteFile(ts.configPath, []byte("workspace_id: ''\n"), 0644))
	w = ts.do(t, http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "g.example.org", ts.srv.Config().Deploy.Domain)
}

func TestServer_APIStatus(t *testing.T) {
	ts := newTestServer(t, WithCron("tick:@every 15s;prune:@daily"))

	w := ts.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.APIStatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.NextRun.Scheduled)
	assert.Equal(t, 0, resp.Lifecycles.Total)
}

func TestServer_InvalidCron(t *testing.T) {
	app := httptest.NewServer(http.NotFoundHandler())
	defer app.Close()
	path := filepath.Join(t.TempDir(), "delivery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(deliveryConfig, app.URL)), 0644))

	_, err := New(path,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTarget(kube.NewClient(fake.NewSimpleClientset())),
		WithCron("deploy:@hourly"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestServer_StoreReloadOnlyForDiskStore(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/store/reload", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	disk, err := runner.NewDiskStore(t.TempDir(), slog.Default())
	require.NoError(t, err)
	ts = newTestServer(t, WithStore(disk))
	w = ts.do(t, http.MethodPost, "/store/reload", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
