// Package system provides the host-level preparation steps: swap, SELinux,
// firewall, kernel modules, and sysctl. These are the mutations kubeadm's
// own preflight only complains about; here they are applied and verified.
package system

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// SwapStep disables swap now and across reboots. The kubelet refuses to
// start on a host with active swap.
type SwapStep struct {
	fs        ports.FileSystem
	runner    ports.CommandRunner
	prober    *hoststate.Prober
	fstabPath string
	id        pipeline.StepID
}

// SwapStepOption configures a SwapStep.
type SwapStepOption func(*SwapStep)

// WithSwapFstabPath overrides the fstab location (for tests).
func WithSwapFstabPath(path string) SwapStepOption {
	return func(s *SwapStep) {
		s.fstabPath = path
	}
}

// NewSwapStep creates a new SwapStep.
func NewSwapStep(fs ports.FileSystem, runner ports.CommandRunner, prober *hoststate.Prober, opts ...SwapStepOption) *SwapStep {
	s := &SwapStep{
		fs:        fs,
		runner:    runner,
		prober:    prober,
		fstabPath: hoststate.DefaultFstabPath,
		id:        pipeline.MustNewStepID("system:swap"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the step identifier.
func (s *SwapStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *SwapStep) DependsOn() []pipeline.StepID {
	return nil
}

// Check determines whether swap is already off and stays off at boot.
func (s *SwapStep) Check(ctx pipeline.RunContext) (pipeline.StepStatus, error) {
	total, err := s.prober.SwapTotal(ctx.Context())
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	active, err := s.prober.ActiveFstabSwapLines()
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	if total == 0 && len(active) == 0 {
		return pipeline.StatusSatisfied, nil
	}
	return pipeline.StatusNeedsApply, nil
}

// Plan returns the diff for this step.
func (s *SwapStep) Plan(ctx pipeline.RunContext) (pipeline.Diff, error) {
	total, err := s.prober.SwapTotal(ctx.Context())
	if err != nil {
		return pipeline.Diff{}, err
	}
	return pipeline.NewDiff(pipeline.DiffTypeModify, "swap", "all", fmt.Sprintf("%d bytes", total), "disabled"), nil
}

// Apply turns swap off and comments out the fstab entries that would bring
// it back at boot.
func (s *SwapStep) Apply(ctx pipeline.RunContext) error {
	result, err := s.runner.Run(ctx.Context(), "swapoff", "-a")
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("swapoff -a failed: %s", strings.TrimSpace(result.Stderr))
	}

	return s.commentFstabSwap()
}

func (s *SwapStep) commentFstabSwap() error {
	data, err := s.fs.ReadFile(s.fstabPath)
	if err != nil {
		// A host without fstab has nothing to persist.
		return nil
	}

	lines := strings.Split(string(data), "\n")
	changed := false
	for i, line := range lines {
		if hoststate.IsSwapMount(line) {
			lines[i] = "# " + line
			changed = true
		}
	}
	if !changed {
		return nil
	}

	return s.fs.WriteFile(s.fstabPath, []byte(strings.Join(lines, "\n")), 0o644)
}

// Verify re-checks that no swap is in use and none returns at boot.
func (s *SwapStep) Verify(ctx pipeline.RunContext) error {
	total, err := s.prober.SwapTotal(ctx.Context())
	if err != nil {
		return err
	}
	if total != 0 {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("swap still active: %d bytes in use", total)).
			WithSuggestion("run swapoff -a manually and check for zram or systemd swap units")
	}

	active, err := s.prober.ActiveFstabSwapLines()
	if err != nil {
		return err
	}
	if len(active) != 0 {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("fstab still enables swap at boot: %s", strings.Join(active, "; ")))
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *SwapStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Disable swap",
		"Turns off all swap devices and comments their fstab entries so swap stays off after reboot. The kubelet requires swap to be disabled.",
		nil,
	)
}
