package ghstatus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v28/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/lifecycle"
)

type statusRecorder struct {
	mu       sync.Mutex
	paths    []string
	statuses []github.RepoStatus
}

func newTestPublisher(t *testing.T, rec *statusRecorder, code int, opts ...Option) *Publisher {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s github.RepoStatus
		_ = json.NewDecoder(r.Body).Decode(&s)
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.statuses = append(rec.statuses, s)
		rec.mu.Unlock()
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client := github.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	return NewPublisher(client, opts...)
}

func testLifecycle() *lifecycle.Lifecycle {
	return &lifecycle.Lifecycle{
		ID:   "lc-1",
		Plan: "test deploy",
		Push: goal.Push{Owner: "acme", Repo: "app", SHA: "abc123"},
		Goals: []goal.Status{
			{UniqueName: "deploy to testing", State: goal.Success, ExternalURLs: []goal.ExternalURL{{URL: "https://app.example.com/"}}},
			{UniqueName: "verify testing deploy", State: goal.Planned},
		},
	}
}

func TestPublisher_Observe(t *testing.T) {
	rec := &statusRecorder{}
	p := newTestPublisher(t, rec, http.StatusCreated, WithTargetURL("https://sdm.example.com/lifecycles/{id}"))

	transitions := []lifecycle.Transition{
		{Goal: "deploy to testing", From: goal.Planned, To: goal.InProcess, Display: goal.InProcess, Description: "Deploying"},
		{Goal: "deploy to testing", From: goal.InProcess, To: goal.Success, Display: goal.Success, Description: "Deployed"},
		{Goal: "verify testing deploy", From: goal.Planned, To: goal.Planned, Display: goal.InProcess, Description: strings.Repeat("x", 200)},
	}

	p.Observe(context.Background(), testLifecycle(), transitions)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.statuses, 2)

	assert.Equal(t, "/repos/acme/app/statuses/abc123", rec.paths[0])
	assert.Equal(t, "success", rec.statuses[0].GetState())
	assert.Equal(t, "Deployed", rec.statuses[0].GetDescription())
	assert.Equal(t, "sdm/deploy to testing", rec.statuses[0].GetContext())
	assert.Equal(t, "https://app.example.com/", rec.statuses[0].GetTargetURL())

	assert.Equal(t, "pending", rec.statuses[1].GetState())
	assert.Len(t, rec.statuses[1].GetDescription(), 140)
	assert.Equal(t, "https://sdm.example.com/lifecycles/lc-1", rec.statuses[1].GetTargetURL())
}

func TestPublisher_ObserveSkipsWithoutSHA(t *testing.T) {
	rec := &statusRecorder{}
	p := newTestPublisher(t, rec, http.StatusCreated)

	lc := testLifecycle()
	lc.Push.SHA = ""
	p.Observe(context.Background(), lc, []lifecycle.Transition{{Goal: "deploy to testing", To: goal.Success}})

	assert.Empty(t, rec.statuses)
}

func TestPublisher_ObserveToleratesErrors(t *testing.T) {
	rec := &statusRecorder{}
	p := newTestPublisher(t, rec, http.StatusInternalServerError, WithContextPrefix("delivery"))

	p.Observe(context.Background(), testLifecycle(), []lifecycle.Transition{
		{Goal: "deploy to testing", To: goal.Failure, Display: goal.Failure},
		{Goal: "verify testing deploy", To: goal.Skipped, Display: goal.Skipped},
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.statuses, 2)
	assert.Equal(t, "delivery/verify testing deploy", rec.statuses[1].GetContext())
	assert.Equal(t, "error", rec.statuses[1].GetState())
}

func TestState(t *testing.T) {
	assert.Equal(t, "pending", State(goal.Requested))
	assert.Equal(t, "pending", State(goal.Planned))
	assert.Equal(t, "pending", State(goal.InProcess))
	assert.Equal(t, "success", State(goal.Success))
	assert.Equal(t, "failure", State(goal.Failure))
	assert.Equal(t, "error", State(goal.Skipped))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 140))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}
