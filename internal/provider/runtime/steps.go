package runtime

import (
	"fmt"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/platform"
)

// RepoStep registers the CRI-O package repository with its signing key.
type RepoStep struct {
	plat platform.Platform
	repo platform.Repository
	id   pipeline.StepID
}

// NewRepoStep creates a new RepoStep for the pinned runtime version.
func NewRepoStep(plat platform.Platform, version string) *RepoStep {
	return &RepoStep{
		plat: plat,
		repo: RepositoryFor(plat.Family(), version),
		id:   pipeline.MustNewStepID("runtime:repo"),
	}
}

// ID returns the step identifier.
func (s *RepoStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *RepoStep) DependsOn() []pipeline.StepID {
	return nil
}

// Check determines whether the repository is already registered.
func (s *RepoStep) Check(_ pipeline.RunContext) (pipeline.StepStatus, error) {
	if s.plat.RepositoryConfigured(s.repo) {
		return pipeline.StatusSatisfied, nil
	}
	return pipeline.StatusNeedsApply, nil
}

// Plan returns the diff for this step.
func (s *RepoStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "repository", s.repo.Name, "", s.repo.BaseURL), nil
}

// Apply registers the repository and refreshes package metadata.
func (s *RepoStep) Apply(ctx pipeline.RunContext) error {
	if err := s.plat.AddRepository(ctx.Context(), s.repo); err != nil {
		return fmt.Errorf("register repository %s: %w", s.repo.Name, err)
	}
	if err := s.plat.RefreshMetadata(ctx.Context()); err != nil {
		return pipeline.NewStepError(pipeline.ClassNetwork, "package metadata refresh failed").
			WithSuggestion("the repository host may be unreachable; re-check connectivity").
			WithUnderlying(err)
	}
	return nil
}

// Verify re-checks the repository registration.
func (s *RepoStep) Verify(_ pipeline.RunContext) error {
	if !s.plat.RepositoryConfigured(s.repo) {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("repository %s not registered after apply", s.repo.Name))
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *RepoStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Register CRI-O repository",
		fmt.Sprintf("Adds %s with signature checking so the runtime installs from the stream matching the pinned Kubernetes minor.", s.repo.BaseURL),
		nil,
	)
}

// InstallStep installs the CRI-O package.
type InstallStep struct {
	plat platform.Platform
	id   pipeline.StepID
}

// NewInstallStep creates a new InstallStep.
func NewInstallStep(plat platform.Platform) *InstallStep {
	return &InstallStep{
		plat: plat,
		id:   pipeline.MustNewStepID("runtime:install"),
	}
}

// ID returns the step identifier.
func (s *InstallStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn requires the repository step to have run first.
func (s *InstallStep) DependsOn() []pipeline.StepID {
	return []pipeline.StepID{pipeline.MustNewStepID("runtime:repo")}
}

// Check determines whether the runtime package is already installed.
func (s *InstallStep) Check(ctx pipeline.RunContext) (pipeline.StepStatus, error) {
	installed, err := s.plat.PackageInstalled(ctx.Context(), PackageName)
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	if installed {
		return pipeline.StatusSatisfied, nil
	}
	return pipeline.StatusNeedsApply, nil
}

// Plan returns the diff for this step.
func (s *InstallStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "package", PackageName, "", "installed"), nil
}

// Apply installs the runtime package.
func (s *InstallStep) Apply(ctx pipeline.RunContext) error {
	if err := s.plat.InstallPackages(ctx.Context(), PackageName); err != nil {
		return pipeline.NewStepError(pipeline.ClassInstallation, fmt.Sprintf("install %s: %v", PackageName, err)).
			WithUnderlying(err)
	}
	return nil
}

// Verify re-checks the package database.
func (s *InstallStep) Verify(ctx pipeline.RunContext) error {
	installed, err := s.plat.PackageInstalled(ctx.Context(), PackageName)
	if err != nil {
		return err
	}
	if !installed {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("package %s not installed after apply", PackageName))
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *InstallStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Install CRI-O",
		"Installs the CRI-O container runtime package from the registered repository.",
		nil,
	)
}
