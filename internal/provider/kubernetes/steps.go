// Package kubernetes provides the kubeadm/kubelet/kubectl installation
// steps. The tools are installed and version-held; the kubelet is left
// stopped, since starting it before cluster join only produces crash loops.
package kubernetes

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/platform"
)

// Packages are the Kubernetes node tools, installed together and held at
// the pinned minor.
var Packages = []string{"kubelet", "kubeadm", "kubectl"}

// RepositoryFor builds the Kubernetes package repository definition for the
// given family and pinned minor version.
func RepositoryFor(family platform.Family, version string) platform.Repository {
	base := fmt.Sprintf("https://pkgs.k8s.io/core:/stable:/%s", version)

	repo := platform.Repository{
		Name:        "kubernetes",
		Description: fmt.Sprintf("Kubernetes %s", version),
	}
	switch family {
	case platform.FamilyRHEL:
		repo.BaseURL = base + "/rpm/"
		repo.KeyURL = base + "/rpm/repodata/repomd.xml.key"
		// Held out of routine dnf upgrades; installs lift the exclude
		// explicitly. Node upgrades are a deliberate operation.
		repo.ExcludePackages = []string{"kubelet", "kubeadm", "kubectl", "cri-tools", "kubernetes-cni"}
	case platform.FamilyDebian:
		repo.BaseURL = base + "/deb/"
		repo.KeyURL = base + "/deb/Release.key"
	}
	return repo
}

// RepoStep registers the Kubernetes package repository with its signing key.
type RepoStep struct {
	plat platform.Platform
	repo platform.Repository
	id   pipeline.StepID
}

// NewRepoStep creates a new RepoStep for the pinned Kubernetes version.
func NewRepoStep(plat platform.Platform, version string) *RepoStep {
	return &RepoStep{
		plat: plat,
		repo: RepositoryFor(plat.Family(), version),
		id:   pipeline.MustNewStepID("kubernetes:repo"),
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
		"Register Kubernetes repository",
		fmt.Sprintf("Adds %s with signature checking for the pinned Kubernetes minor.", s.repo.BaseURL),
		nil,
	)
}

// InstallStep installs kubelet, kubeadm, and kubectl, holds them at the
// installed version, and confirms the kubelet stays stopped.
type InstallStep struct {
	plat   platform.Platform
	prober *hoststate.Prober
	id     pipeline.StepID
}

// NewInstallStep creates a new InstallStep.
func NewInstallStep(plat platform.Platform, prober *hoststate.Prober) *InstallStep {
	return &InstallStep{
		plat:   plat,
		prober: prober,
		id:     pipeline.MustNewStepID("kubernetes:install"),
	}
}

// ID returns the step identifier.
func (s *InstallStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn requires the repository step to have run first.
func (s *InstallStep) DependsOn() []pipeline.StepID {
	return []pipeline.StepID{pipeline.MustNewStepID("kubernetes:repo")}
}

// Check determines whether all node tools are already installed.
func (s *InstallStep) Check(ctx pipeline.RunContext) (pipeline.StepStatus, error) {
	for _, pkg := range Packages {
		installed, err := s.plat.PackageInstalled(ctx.Context(), pkg)
		if err != nil {
			return pipeline.StatusUnknown, err
		}
		if !installed {
			return pipeline.StatusNeedsApply, nil
		}
	}
	return pipeline.StatusSatisfied, nil
}

// Plan returns the diff for this step.
func (s *InstallStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "package", strings.Join(Packages, ","), "", "installed+held"), nil
}

// Apply installs the tools version-held.
func (s *InstallStep) Apply(ctx pipeline.RunContext) error {
	if err := s.plat.InstallHeldPackages(ctx.Context(), "kubernetes", Packages...); err != nil {
		return pipeline.NewStepError(pipeline.ClassInstallation,
			fmt.Sprintf("install %s: %v", strings.Join(Packages, " "), err)).
			WithUnderlying(err)
	}
	return nil
}

// Verify confirms the tools are installed and the kubelet is not running.
// The kubelet must stay stopped until kubeadm join provides its config.
func (s *InstallStep) Verify(ctx pipeline.RunContext) error {
	for _, pkg := range Packages {
		installed, err := s.plat.PackageInstalled(ctx.Context(), pkg)
		if err != nil {
			return err
		}
		if !installed {
			return pipeline.NewStepError(pipeline.ClassStateVerification,
				fmt.Sprintf("package %s not installed after apply", pkg))
		}
	}

	active, err := s.prober.ServiceActive(ctx.Context(), "kubelet")
	if err != nil {
		return err
	}
	if active {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			"kubelet is running before cluster join").
			WithSuggestion("stop it with systemctl stop kubelet; kubeadm join starts it with proper config")
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *InstallStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Install Kubernetes node tools",
		fmt.Sprintf("Installs %s version-held at the pinned minor. The kubelet is left stopped until kubeadm join configures it.",
			strings.Join(Packages, ", ")),
		nil,
	)
}
