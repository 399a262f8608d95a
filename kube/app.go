// Package kube applies and tears down application deployments in a
// Kubernetes cluster.
package kube

import (
	"fmt"
	"strings"

	"github.com/nomis52/gosdm/goal"
)

const (
	DefaultDomain          = "g.atomist.com"
	DefaultImagePullSecret = "sdm-imagepullsecret"
	DefaultIngressClass    = "nginx"
	DefaultPort            = 8080
	DefaultPath            = "/"
)

// App is the application data published by a deploy goal and read by the
// goals that follow it.
type App struct {
	Name            string   `json:"name"`
	Namespace       string   `json:"ns"`
	Workspace       string   `json:"workspace_id"`
	Host            string   `json:"host"`
	Path            string   `json:"path"`
	Image           string   `json:"image"`
	Port            int      `json:"port,omitempty"`
	ImagePullSecret string   `json:"image_pull_secret,omitempty"`
	IngressClass    string   `json:"ingress_class,omitempty"`
	Sidecars        []string `json:"sidecars,omitempty"`
}

// Namespace returns the namespace applications for a workspace deploy into.
// Testing environments get their own namespace.
func Namespace(environment, workspace string) string {
	ws := strings.ToLower(workspace)
	if strings.Contains(environment, "testing") {
		return "sdm-testing-" + ws
	}
	return "sdm-" + ws
}

// Host returns the ingress host for a repository, <repo>-<owner>-<workspace>.<domain>.
func Host(push goal.Push, workspace, domain string) string {
	if domain == "" {
		domain = DefaultDomain
	}
	return strings.ToLower(fmt.Sprintf("%s-%s-%s.%s", push.Repo, push.Owner, workspace, domain))
}

// URL returns the external address of the application.
func (a App) URL() string {
	path := a.Path
	if path == "" {
		path = DefaultPath
	}
	return "https://" + a.Host + path
}

// Label returns "namespace:name".
func (a App) Label() string {
	return a.Namespace + ":" + a.Name
}

// ExternalURLs returns the links to publish on goals for this app.
func ExternalURLs(a App) []goal.ExternalURL {
	if a.Host == "" {
		return nil
	}
	return []goal.ExternalURL{{Label: a.Label(), URL: a.URL()}}
}

func (a App) labels() map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":       a.Name,
		"app.kubernetes.io/part-of":    a.Name,
		"app.kubernetes.io/managed-by": "gosdm",
		"atomist.com/workspaceId":      a.Workspace,
	}
}

func (a App) selector() map[string]string {
	return map[string]string{
		"app.kubernetes.io/name": a.Name,
	}
}

func (a App) port() int32 {
	if a.Port > 0 {
		return int32(a.Port)
	}
	return DefaultPort
}
