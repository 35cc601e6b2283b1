package system

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// RequiredModules are the kernel modules container networking depends on.
// overlay backs the container storage driver; br_netfilter exposes the
// bridge sysctl keys the next step sets.
var RequiredModules = []string{"overlay", "br_netfilter"}

// DefaultModulesFilePath is where the boot-time module list is persisted.
const DefaultModulesFilePath = "/etc/modules-load.d/k8s.conf"

// ModulesStep loads the required kernel modules and persists them for boot.
// A module that cannot load is a hard stop with its own exit code: it
// usually means a kernel without the feature, which no re-run will fix.
type ModulesStep struct {
	fs       ports.FileSystem
	runner   ports.CommandRunner
	prober   *hoststate.Prober
	filePath string
	id       pipeline.StepID
}

// ModulesStepOption configures a ModulesStep.
type ModulesStepOption func(*ModulesStep)

// WithModulesFilePath overrides the modules-load.d file location (for tests).
func WithModulesFilePath(path string) ModulesStepOption {
	return func(s *ModulesStep) {
		s.filePath = path
	}
}

// NewModulesStep creates a new ModulesStep.
func NewModulesStep(fs ports.FileSystem, runner ports.CommandRunner, prober *hoststate.Prober, opts ...ModulesStepOption) *ModulesStep {
	s := &ModulesStep{
		fs:       fs,
		runner:   runner,
		prober:   prober,
		filePath: DefaultModulesFilePath,
		id:       pipeline.MustNewStepID("system:modules"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the step identifier.
func (s *ModulesStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *ModulesStep) DependsOn() []pipeline.StepID {
	return nil
}

// Check determines whether all required modules are loaded and persisted.
func (s *ModulesStep) Check(_ pipeline.RunContext) (pipeline.StepStatus, error) {
	if !s.fs.Exists(s.filePath) {
		return pipeline.StatusNeedsApply, nil
	}
	for _, mod := range RequiredModules {
		loaded, err := s.prober.ModuleLoaded(mod)
		if err != nil {
			return pipeline.StatusUnknown, err
		}
		if !loaded {
			return pipeline.StatusNeedsApply, nil
		}
	}
	return pipeline.StatusSatisfied, nil
}

// Plan returns the diff for this step.
func (s *ModulesStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "kernel-modules", strings.Join(RequiredModules, ","), "", "loaded"), nil
}

// Apply persists the module list and loads each module.
func (s *ModulesStep) Apply(ctx pipeline.RunContext) error {
	content := strings.Join(RequiredModules, "\n") + "\n"
	if err := s.fs.WriteFile(s.filePath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.filePath, err)
	}

	for _, mod := range RequiredModules {
		result, err := s.runner.Run(ctx.Context(), "modprobe", mod)
		if err != nil {
			return err
		}
		if !result.Success() {
			return pipeline.NewStepError(pipeline.ClassKernelModule,
				fmt.Sprintf("modprobe %s failed: %s", mod, strings.TrimSpace(result.Stderr))).
				WithSuggestion("the running kernel may lack this module; check kernel version and installed kernel-modules packages")
		}
	}
	return nil
}

// Verify re-checks each module against the kernel's loaded-module list.
func (s *ModulesStep) Verify(_ pipeline.RunContext) error {
	for _, mod := range RequiredModules {
		loaded, err := s.prober.ModuleLoaded(mod)
		if err != nil {
			return err
		}
		if !loaded {
			return pipeline.NewStepError(pipeline.ClassKernelModule,
				fmt.Sprintf("kernel module %s not loaded", mod)).
				WithSuggestion("run modprobe " + mod + " and inspect dmesg for the failure reason")
		}
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *ModulesStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Load kernel modules",
		fmt.Sprintf("Loads %s and persists them in %s. overlay backs container storage; br_netfilter makes bridged pod traffic visible to iptables.",
			strings.Join(RequiredModules, " and "), s.filePath),
		nil,
	)
}
