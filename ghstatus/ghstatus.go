// Package ghstatus mirrors goal state onto GitHub commit statuses.
package ghstatus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/go-github/v28/github"
	"golang.org/x/oauth2"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/lifecycle"
)

const (
	DefaultContextPrefix = "sdm"
	maxDescription       = 140
)

// NewClient returns a GitHub client authenticated with token. A non-empty
// baseURL targets a GitHub Enterprise API endpoint.
func NewClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	if baseURL == "" {
		return github.NewClient(tc), nil
	}
	client, err := github.NewEnterpriseClient(baseURL, baseURL, tc)
	if err != nil {
		return nil, fmt.Errorf("creating GitHub client for %s: %w", baseURL, err)
	}
	return client, nil
}

// Publisher creates a commit status for each goal transition.
type Publisher struct {
	client    *github.Client
	prefix    string
	targetURL string
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithContextPrefix sets the status context prefix; statuses are named <prefix>/<goal>.
func WithContextPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithTargetURL sets the link used when a goal has no external URL.
// {id} is replaced with the lifecycle id.
func WithTargetURL(template string) Option {
	return func(p *Publisher) {
		p.targetURL = template
	}
}

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger.With("component", "ghstatus")
	}
}

// NewPublisher creates a Publisher.
func NewPublisher(client *github.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		prefix: DefaultContextPrefix,
		logger: slog.Default().With("component", "ghstatus"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe publishes the latest transition of every goal that changed.
// Failures are logged and never returned.
func (p *Publisher) Observe(ctx context.Context, lc *lifecycle.Lifecycle, transitions []lifecycle.Transition) {
	if lc.Push.SHA == "" || len(transitions) == 0 {
		return
	}

	latest := make(map[string]lifecycle.Transition, len(transitions))
	var order []string
	for _, t := range transitions {
		if _, seen := latest[t.Goal]; !seen {
			order = append(order, t.Goal)
		}
		latest[t.Goal] = t
	}

	for _, name := range order {
		t := latest[name]
		st, _ := lc.Goal(name)
		status := &github.RepoStatus{
			State:       github.String(State(t.Display)),
			Description: github.String(Truncate(t.Description, maxDescription)),
			Context:     github.String(p.prefix + "/" + name),
		}
		if target := p.target(lc, st); target != "" {
			status.TargetURL = github.String(target)
		}

		_, _, err := p.client.Repositories.CreateStatus(ctx, lc.Push.Owner, lc.Push.Repo, lc.Push.SHA, status)
		if err != nil {
			p.logger.Warn("failed to publish commit status",
				"lifecycle_id", lc.ID, "goal", name, "repo", lc.Push.Slug(), "error", err)
			continue
		}
		p.logger.Debug("published commit status", "lifecycle_id", lc.ID, "goal", name, "state", status.GetState())
	}
}

func (p *Publisher) target(lc *lifecycle.Lifecycle, st goal.Status) string {
	if len(st.ExternalURLs) > 0 {
		return st.ExternalURLs[0].URL
	}
	if p.targetURL == "" {
		return ""
	}
	return strings.ReplaceAll(p.targetURL, "{id}", url.PathEscape(lc.ID))
}

// State maps a goal state to a GitHub commit status state.
func State(s goal.State) string {
	switch s {
	case goal.Success:
		return "success"
	case goal.Failure:
		return "failure"
	case goal.Skipped:
		return "error"
	default:
		return "pending"
	}
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
