package system

import (
	"fmt"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/platform"
)

// SELinuxStep relaxes SELinux to permissive at runtime and in the persisted
// config. Only built for platforms that manage a MAC system.
type SELinuxStep struct {
	plat   platform.Platform
	prober *hoststate.Prober
	id     pipeline.StepID
}

// NewSELinuxStep creates a new SELinuxStep.
func NewSELinuxStep(plat platform.Platform, prober *hoststate.Prober) *SELinuxStep {
	return &SELinuxStep{
		plat:   plat,
		prober: prober,
		id:     pipeline.MustNewStepID("system:selinux"),
	}
}

// ID returns the step identifier.
func (s *SELinuxStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *SELinuxStep) DependsOn() []pipeline.StepID {
	return nil
}

// Check determines whether enforcement is already relaxed both at runtime
// and across reboots.
func (s *SELinuxStep) Check(ctx pipeline.RunContext) (pipeline.StepStatus, error) {
	state, err := s.prober.SELinuxState(ctx.Context())
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	if state.Relaxed() {
		return pipeline.StatusSatisfied, nil
	}
	return pipeline.StatusNeedsApply, nil
}

// Plan returns the diff for this step.
func (s *SELinuxStep) Plan(ctx pipeline.RunContext) (pipeline.Diff, error) {
	state, err := s.prober.SELinuxState(ctx.Context())
	if err != nil {
		return pipeline.Diff{}, err
	}
	return pipeline.NewDiff(pipeline.DiffTypeModify, "selinux", "mode", state.Runtime, "permissive"), nil
}

// Apply sets SELinux to permissive now and persists the mode.
func (s *SELinuxStep) Apply(ctx pipeline.RunContext) error {
	return s.plat.SetMACPermissive(ctx.Context())
}

// Verify re-checks that runtime and persisted modes agree on relaxation.
func (s *SELinuxStep) Verify(ctx pipeline.RunContext) error {
	state, err := s.prober.SELinuxState(ctx.Context())
	if err != nil {
		return err
	}
	if !state.Relaxed() {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("SELinux not relaxed: runtime=%s configured=%s", state.Runtime, state.Configured)).
			WithSuggestion("check /etc/selinux/config and any tooling that re-enables enforcement")
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *SELinuxStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Relax SELinux enforcement",
		"Switches SELinux to permissive mode and persists it, which container runtimes require until their policies are installed.",
		nil,
	)
}
