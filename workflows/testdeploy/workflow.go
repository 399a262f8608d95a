// Package testdeploy builds the Kubernetes test deploy goal set: deploy the
// pushed image into the workspace's testing namespace, wait until the
// application answers, then tear it down again after a grace period.
//
//	deploy to testing -> verify testing deploy -> stop testing deploy
package testdeploy

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nomis52/gosdm/config"
	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/kube"
	"github.com/nomis52/gosdm/lifecycle"
	"github.com/nomis52/gosdm/workflows"
)

const (
	// PlanName is the name of the plan this package builds.
	PlanName = "test deploy"

	// Element is the interpretation element that enables the plan.
	Element = "k8s"

	DeployGoal = "deploy to testing"
	VerifyGoal = "verify testing deploy"
	StopGoal   = "stop testing deploy"

	environment = "testing"
)

// ErrNoDeployData is returned when the deploy goal has not published the
// application it deployed.
var ErrNoDeployData = errors.New("no deploy data")

// workflow binds the goal implementations to their collaborators.
type workflow struct {
	cfg       *config.Config
	target    kube.Target
	readiness workflows.Exchanger
	logger    *slog.Logger
}

// NewPlan builds the test deploy plan.
func NewPlan(params workflows.Params) (*lifecycle.Plan, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid test deploy params: %w", err)
	}
	w := &workflow{
		cfg:       params.Config,
		target:    params.Target,
		readiness: params.Readiness,
		logger:    params.LoggerOrDefault().With("component", "testdeploy"),
	}

	deploy := w.deployGoal()
	verify := w.verifyGoal()
	stop := w.stopGoal()

	plan := lifecycle.NewPlan(PlanName).
		Add(deploy).
		Add(verify, deploy).
		Add(stop, verify)
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Interpreter contributes the test deploy plan for projects with a k8s element.
type Interpreter struct {
	plan *lifecycle.Plan
}

var _ interpret.Interpreter = (*Interpreter)(nil)

// NewInterpreter builds the plan once; every lifecycle shares its definitions.
func NewInterpreter(params workflows.Params) (*Interpreter, error) {
	plan, err := NewPlan(params)
	if err != nil {
		return nil, err
	}
	return &Interpreter{plan: plan}, nil
}

// Name implements interpret.Interpreter.
func (i *Interpreter) Name() string {
	return "k8s test deploy"
}

// Enrich implements interpret.Interpreter.
func (i *Interpreter) Enrich(interp interpret.Interpretation) (*lifecycle.Plan, bool) {
	if !interp.Has(Element) {
		return nil, false
	}
	return i.plan, true
}

// Plan returns the plan the interpreter contributes.
func (i *Interpreter) Plan() *lifecycle.Plan {
	return i.plan
}

// app derives the application for a push from configuration alone.
func (w *workflow) app(push goal.Push) kube.App {
	return kube.App{
		Name:            strings.ToLower(push.Repo),
		Namespace:       kube.Namespace(w.cfg.Environment, w.cfg.WorkspaceID),
		Workspace:       w.cfg.WorkspaceID,
		Host:            kube.Host(push, w.cfg.WorkspaceID, w.cfg.Deploy.Domain),
		Path:            w.cfg.Deploy.Path,
		Image:           push.Image,
		Port:            w.cfg.Deploy.Port,
		ImagePullSecret: w.cfg.Deploy.ImagePullSecret,
		IngressClass:    w.cfg.Deploy.IngressClass,
	}
}

// deployedApp reads the application the deploy goal published.
func deployedApp(gc *goal.Context) (kube.App, error) {
	st, ok := gc.Lookup(DeployGoal)
	if !ok || len(st.Data) == 0 {
		return kube.App{}, ErrNoDeployData
	}
	var app kube.App
	if err := st.DecodeData(&app); err != nil {
		return kube.App{}, fmt.Errorf("decoding deploy data: %w", err)
	}
	if app.Host == "" || app.Name == "" {
		return kube.App{}, ErrNoDeployData
	}
	return app, nil
}

func codeLine(s string) string {
	return "`" + s + "`"
}
