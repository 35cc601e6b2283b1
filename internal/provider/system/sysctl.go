package system

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// RequiredSysctls are the forwarding and bridge keys Kubernetes networking
// requires. All must read 1. The bridge keys only exist once br_netfilter
// is loaded, which is why this step depends on system:modules.
var RequiredSysctls = []string{
	"net.bridge.bridge-nf-call-iptables",
	"net.bridge.bridge-nf-call-ip6tables",
	"net.ipv4.ip_forward",
}

// DefaultSysctlFilePath is where the settings are persisted.
const DefaultSysctlFilePath = "/etc/sysctl.d/k8s.conf"

// SysctlStep persists and applies the required kernel networking parameters.
type SysctlStep struct {
	fs       ports.FileSystem
	runner   ports.CommandRunner
	prober   *hoststate.Prober
	filePath string
	id       pipeline.StepID
}

// SysctlStepOption configures a SysctlStep.
type SysctlStepOption func(*SysctlStep)

// WithSysctlFilePath overrides the sysctl.d file location (for tests).
func WithSysctlFilePath(path string) SysctlStepOption {
	return func(s *SysctlStep) {
		s.filePath = path
	}
}

// NewSysctlStep creates a new SysctlStep.
func NewSysctlStep(fs ports.FileSystem, runner ports.CommandRunner, prober *hoststate.Prober, opts ...SysctlStepOption) *SysctlStep {
	s := &SysctlStep{
		fs:       fs,
		runner:   runner,
		prober:   prober,
		filePath: DefaultSysctlFilePath,
		id:       pipeline.MustNewStepID("system:sysctl"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the step identifier.
func (s *SysctlStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn declares the kernel-module ordering requirement.
func (s *SysctlStep) DependsOn() []pipeline.StepID {
	return []pipeline.StepID{pipeline.MustNewStepID("system:modules")}
}

// Check determines whether every required key already reads 1.
func (s *SysctlStep) Check(_ pipeline.RunContext) (pipeline.StepStatus, error) {
	if !s.fs.Exists(s.filePath) {
		return pipeline.StatusNeedsApply, nil
	}
	for _, key := range RequiredSysctls {
		value, err := s.prober.SysctlValue(key)
		if err != nil {
			return pipeline.StatusUnknown, err
		}
		if value != "1" {
			return pipeline.StatusNeedsApply, nil
		}
	}
	return pipeline.StatusSatisfied, nil
}

// Plan returns the diff for this step.
func (s *SysctlStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "sysctl", strings.Join(RequiredSysctls, ","), "", "1"), nil
}

// Apply persists the settings and reloads sysctl from all config files.
func (s *SysctlStep) Apply(ctx pipeline.RunContext) error {
	var b strings.Builder
	for _, key := range RequiredSysctls {
		fmt.Fprintf(&b, "%s = 1\n", key)
	}
	if err := s.fs.WriteFile(s.filePath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.filePath, err)
	}

	result, err := s.runner.Run(ctx.Context(), "sysctl", "--system")
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("sysctl --system failed: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Verify reads each key back from the kernel.
func (s *SysctlStep) Verify(_ pipeline.RunContext) error {
	for _, key := range RequiredSysctls {
		value, err := s.prober.SysctlValue(key)
		if err != nil {
			return err
		}
		if value != "1" {
			return pipeline.NewStepError(pipeline.ClassStateVerification,
				fmt.Sprintf("sysctl %s reads %q, want 1", key, value)).
				WithSuggestion("confirm br_netfilter is loaded and no later sysctl.d file overrides the key")
		}
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *SysctlStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Set kernel networking parameters",
		fmt.Sprintf("Persists %s in %s and applies them, enabling IP forwarding and iptables visibility of bridged pod traffic.",
			strings.Join(RequiredSysctls, ", "), s.filePath),
		nil,
	)
}
