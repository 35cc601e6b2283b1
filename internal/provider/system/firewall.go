package system

import (
	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/platform"
)

// FirewallStep disables the host firewall so pod and control-plane traffic
// is not silently dropped before the cluster's own network policy applies.
type FirewallStep struct {
	plat platform.Platform
	id   pipeline.StepID
}

// NewFirewallStep creates a new FirewallStep.
func NewFirewallStep(plat platform.Platform) *FirewallStep {
	return &FirewallStep{
		plat: plat,
		id:   pipeline.MustNewStepID("system:firewall"),
	}
}

// ID returns the step identifier.
func (s *FirewallStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *FirewallStep) DependsOn() []pipeline.StepID {
	return nil
}

// Check determines whether the firewall is already inactive.
func (s *FirewallStep) Check(ctx pipeline.RunContext) (pipeline.StepStatus, error) {
	active, err := s.plat.FirewallActive(ctx.Context())
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	if !active {
		return pipeline.StatusSatisfied, nil
	}
	return pipeline.StatusNeedsApply, nil
}

// Plan returns the diff for this step.
func (s *FirewallStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeModify, "firewall", "state", "active", "disabled"), nil
}

// Apply stops the firewall and removes it from the boot sequence.
func (s *FirewallStep) Apply(ctx pipeline.RunContext) error {
	return s.plat.DisableFirewall(ctx.Context())
}

// Verify re-checks that the firewall is inactive.
func (s *FirewallStep) Verify(ctx pipeline.RunContext) error {
	active, err := s.plat.FirewallActive(ctx.Context())
	if err != nil {
		return err
	}
	if active {
		return pipeline.NewStepError(pipeline.ClassStateVerification, "firewall still active after disable").
			WithSuggestion("another unit may be restarting it; check systemctl status")
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *FirewallStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Disable host firewall",
		"Stops and disables the distribution firewall so node-to-node and pod traffic is not dropped during cluster bootstrap.",
		nil,
	)
}
