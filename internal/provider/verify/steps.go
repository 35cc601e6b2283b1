// Package verify provides the closing read-only step: it re-checks the
// facts earlier steps asserted and leaves the operator a note about what
// intentionally remains undone.
package verify

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// CrioSocket is the CRI endpoint used for runtime introspection.
const CrioSocket = "unix:///var/run/crio/crio.sock"

// FinalStep performs the end-of-pipeline verification sweep.
type FinalStep struct {
	runner     ports.CommandRunner
	prober     *hoststate.Prober
	logger     ports.Logger
	sysctlKeys []string
	id         pipeline.StepID
}

// NewFinalStep creates a new FinalStep re-checking the given sysctl keys.
func NewFinalStep(runner ports.CommandRunner, prober *hoststate.Prober, logger ports.Logger, sysctlKeys []string) *FinalStep {
	return &FinalStep{
		runner:     runner,
		prober:     prober,
		logger:     logger,
		sysctlKeys: sysctlKeys,
		id:         pipeline.MustNewStepID("verify:final"),
	}
}

// ID returns the step identifier.
func (s *FinalStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn places this step after every mutating area.
func (s *FinalStep) DependsOn() []pipeline.StepID {
	return []pipeline.StepID{
		pipeline.MustNewStepID("runtime:service"),
		pipeline.MustNewStepID("kubernetes:install"),
		pipeline.MustNewStepID("cni:binaries"),
	}
}

// Check always reports needs-apply: the final sweep runs on every
// invocation regardless of prior state.
func (s *FinalStep) Check(_ pipeline.RunContext) (pipeline.StepStatus, error) {
	return pipeline.StatusNeedsApply, nil
}

// Plan returns the diff for this step.
func (s *FinalStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeNone, "verification", "final", "", ""), nil
}

// Apply queries the runtime over its CRI socket and logs what the operator
// still has to do: the pipeline deliberately installs no CNI network
// configuration, so cluster DNS pods stay Pending until an add-on is
// applied during or after join.
func (s *FinalStep) Apply(ctx pipeline.RunContext) error {
	result, err := s.runner.Run(ctx.Context(), "crictl", "--runtime-endpoint", CrioSocket, "info")
	if err != nil {
		return err
	}
	if !result.Success() {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("runtime introspection failed: %s", strings.TrimSpace(result.Stderr))).
			WithSuggestion("check that the crio service is running and its socket is " + CrioSocket)
	}

	s.logger.Warn(ctx.Context(),
		"no CNI network configuration installed; cluster DNS pods stay Pending until a network add-on is applied during or after join")
	return nil
}

// Verify re-checks swap and the kernel networking parameters one last time.
func (s *FinalStep) Verify(ctx pipeline.RunContext) error {
	total, err := s.prober.SwapTotal(ctx.Context())
	if err != nil {
		return err
	}
	if total != 0 {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("swap re-enabled during the run: %d bytes in use", total))
	}

	for _, key := range s.sysctlKeys {
		value, err := s.prober.SysctlValue(key)
		if err != nil {
			return err
		}
		if value != "1" {
			return pipeline.NewStepError(pipeline.ClassStateVerification,
				fmt.Sprintf("sysctl %s reads %q at final check, want 1", key, value))
		}
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *FinalStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Final readiness sweep",
		"Confirms the container runtime answers on its CRI socket and that swap and the kernel networking parameters still hold their prepared values.",
		nil,
	)
}
