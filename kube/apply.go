package kube

import "context"

// Apply creates or updates every resource app needs, merging service
// registrations into the deployment. Warnings describe registrations that
// were not merged.
func Apply(ctx context.Context, t Target, app App, regs []ServiceRegistration) ([]Warning, error) {
	deployment := BuildDeployment(app)
	warnings := MergeServices(&deployment.Spec.Template.Spec, regs)

	if err := t.ApplyNamespace(ctx, BuildNamespace(app)); err != nil {
		return warnings, err
	}
	if err := t.ApplyDeployment(ctx, deployment); err != nil {
		return warnings, err
	}
	if err := t.ApplyService(ctx, BuildService(app)); err != nil {
		return warnings, err
	}
	if err := t.ApplyIngress(ctx, BuildIngress(app)); err != nil {
		return warnings, err
	}
	return warnings, nil
}
