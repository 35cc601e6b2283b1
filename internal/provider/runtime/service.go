package runtime

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

var crioVersionLine = regexp.MustCompile(`Version:\s*v?([0-9]+\.[0-9]+\.[0-9]+[^\s]*)`)

// ServiceStep enables and starts the CRI-O service and gates on its
// reported version matching the pinned major.minor.
type ServiceStep struct {
	runner  ports.CommandRunner
	prober  *hoststate.Prober
	version string
	id      pipeline.StepID
}

// NewServiceStep creates a new ServiceStep for the pinned runtime version.
func NewServiceStep(runner ports.CommandRunner, prober *hoststate.Prober, version string) *ServiceStep {
	return &ServiceStep{
		runner:  runner,
		prober:  prober,
		version: version,
		id:      pipeline.MustNewStepID("runtime:service"),
	}
}

// ID returns the step identifier.
func (s *ServiceStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn requires the runtime to be installed and configured first.
func (s *ServiceStep) DependsOn() []pipeline.StepID {
	return []pipeline.StepID{
		pipeline.MustNewStepID("runtime:install"),
		pipeline.MustNewStepID("runtime:config"),
	}
}

// Check determines whether the service is already active and enabled.
func (s *ServiceStep) Check(ctx pipeline.RunContext) (pipeline.StepStatus, error) {
	active, err := s.prober.ServiceActive(ctx.Context(), ServiceUnit)
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	enabled, err := s.prober.ServiceEnabled(ctx.Context(), ServiceUnit)
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	if active && enabled {
		return pipeline.StatusSatisfied, nil
	}
	return pipeline.StatusNeedsApply, nil
}

// Plan returns the diff for this step.
func (s *ServiceStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeModify, "service", ServiceUnit, "inactive", "active+enabled"), nil
}

// Apply reloads systemd and starts the service with boot persistence.
func (s *ServiceStep) Apply(ctx pipeline.RunContext) error {
	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", "--now", ServiceUnit},
	} {
		result, err := s.runner.Run(ctx.Context(), "systemctl", args...)
		if err != nil {
			return err
		}
		if !result.Success() {
			return fmt.Errorf("systemctl %s failed: %s", strings.Join(args, " "), strings.TrimSpace(result.Stderr))
		}
	}
	return nil
}

// Verify confirms the service is active and that the running runtime's
// major.minor matches the pinned version.
func (s *ServiceStep) Verify(ctx pipeline.RunContext) error {
	active, err := s.prober.ServiceActive(ctx.Context(), ServiceUnit)
	if err != nil {
		return err
	}
	if !active {
		return pipeline.NewStepError(pipeline.ClassStateVerification, "crio service not active").
			WithSuggestion("inspect journalctl -u crio for the startup failure")
	}

	result, err := s.runner.Run(ctx.Context(), "crio", "version")
	if err != nil {
		return err
	}
	if !result.Success() {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("crio version failed: %s", strings.TrimSpace(result.Stderr)))
	}

	return s.versionMatches(result.Stdout)
}

func (s *ServiceStep) versionMatches(output string) error {
	match := crioVersionLine.FindStringSubmatch(output)
	if match == nil {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			"could not find a version in crio version output")
	}

	running, err := semver.NewVersion(match[1])
	if err != nil {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("unparseable runtime version %q", match[1])).WithUnderlying(err)
	}
	pinned, err := semver.NewVersion(strings.TrimPrefix(s.version, "v"))
	if err != nil {
		return fmt.Errorf("unparseable pinned version %q: %w", s.version, err)
	}

	if running.Major() != pinned.Major() || running.Minor() != pinned.Minor() {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("runtime version %s does not match pinned %s", running, s.version)).
			WithSuggestion("the repository stream and the pinned version have diverged; align them and re-run")
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *ServiceStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Start CRI-O service",
		fmt.Sprintf("Enables and starts the crio unit and confirms the running runtime reports version %s.", s.version),
		nil,
	)
}
