package network

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/platform"
	"github.com/felixgeelhaar/nodeprep/internal/validation"
)

// ConnectivityStep ensures the host can reach the package repositories the
// later steps pull from: the DNS utility package is installed, every
// configured repository host resolves, and each answers an HTTPS request.
type ConnectivityStep struct {
	hosts    []string
	plat     platform.Platform
	resolver Resolver
	client   Doer
	id       pipeline.StepID
}

// NewConnectivityStep creates a new ConnectivityStep for the given
// repository hosts.
func NewConnectivityStep(hosts []string, plat platform.Platform, resolver Resolver, client Doer) *ConnectivityStep {
	if resolver == nil {
		resolver = DefaultResolver()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ConnectivityStep{
		hosts:    hosts,
		plat:     plat,
		resolver: resolver,
		client:   client,
		id:       pipeline.MustNewStepID("network:connectivity"),
	}
}

// ID returns the step identifier.
func (s *ConnectivityStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *ConnectivityStep) DependsOn() []pipeline.StepID {
	return nil
}

// Check determines whether the DNS utility package is already installed and
// the repository hosts are reachable.
func (s *ConnectivityStep) Check(ctx pipeline.RunContext) (pipeline.StepStatus, error) {
	installed, err := s.plat.PackageInstalled(ctx.Context(), s.plat.DNSUtilityPackage())
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	if !installed {
		return pipeline.StatusNeedsApply, nil
	}
	if err := s.probe(ctx); err != nil {
		return pipeline.StatusNeedsApply, nil
	}
	return pipeline.StatusSatisfied, nil
}

// Plan returns the diff for this step.
func (s *ConnectivityStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "package", s.plat.DNSUtilityPackage(), "", "installed"), nil
}

// Apply probes reachability and then installs the DNS utility package. The
// probe comes first so an unreachable network aborts the run before the
// host is touched at all.
func (s *ConnectivityStep) Apply(ctx pipeline.RunContext) error {
	if err := s.probe(ctx); err != nil {
		return err
	}
	pkg := s.plat.DNSUtilityPackage()
	if err := validation.ValidatePackageName(pkg); err != nil {
		return fmt.Errorf("invalid package name: %w", err)
	}
	if err := s.plat.InstallPackages(ctx.Context(), pkg); err != nil {
		return pipeline.NewStepError(pipeline.ClassInstallation, fmt.Sprintf("install %s: %v", pkg, err)).
			WithUnderlying(err)
	}
	return nil
}

// Verify resolves every repository host and issues an HTTPS request to each.
func (s *ConnectivityStep) Verify(ctx pipeline.RunContext) error {
	installed, err := s.plat.PackageInstalled(ctx.Context(), s.plat.DNSUtilityPackage())
	if err != nil {
		return err
	}
	if !installed {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("package %s not installed after apply", s.plat.DNSUtilityPackage()))
	}
	return s.probe(ctx)
}

func (s *ConnectivityStep) probe(ctx pipeline.RunContext) error {
	for _, host := range s.hosts {
		if _, err := s.resolver.LookupHost(ctx.Context(), host); err != nil {
			return pipeline.NewStepError(pipeline.ClassNetwork, fmt.Sprintf("DNS resolution failed for %s", host)).
				WithSuggestion("check /etc/resolv.conf and upstream DNS reachability").
				WithUnderlying(err)
		}

		req, err := http.NewRequestWithContext(ctx.Context(), http.MethodHead, "https://"+host, nil)
		if err != nil {
			return fmt.Errorf("build request for %s: %w", host, err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return pipeline.NewStepError(pipeline.ClassNetwork, fmt.Sprintf("HTTPS request to %s failed", host)).
				WithSuggestion("check outbound connectivity, proxy settings, and firewall rules").
				WithUnderlying(err)
		}
		_ = resp.Body.Close()
		// Any HTTP status proves the host answers; repo paths are
		// validated later by the package manager itself.
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *ConnectivityStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Verify repository connectivity",
		fmt.Sprintf("Installs %s for DNS diagnostics and confirms that %s resolve and answer HTTPS before any host mutation begins.",
			s.plat.DNSUtilityPackage(), strings.Join(s.hosts, ", ")),
		nil,
	)
}
