// Package app wires the adapters, platform, and step providers into the
// nodeprep application and orchestrates plan and prepare runs.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/felixgeelhaar/nodeprep/internal/adapters/command"
	"github.com/felixgeelhaar/nodeprep/internal/adapters/filesystem"
	"github.com/felixgeelhaar/nodeprep/internal/adapters/logging"
	"github.com/felixgeelhaar/nodeprep/internal/domain/config"
	"github.com/felixgeelhaar/nodeprep/internal/domain/execution"
	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/platform"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
	"github.com/felixgeelhaar/nodeprep/internal/provider/cni"
	"github.com/felixgeelhaar/nodeprep/internal/provider/kubernetes"
	"github.com/felixgeelhaar/nodeprep/internal/provider/network"
	"github.com/felixgeelhaar/nodeprep/internal/provider/runtime"
	"github.com/felixgeelhaar/nodeprep/internal/provider/system"
	"github.com/felixgeelhaar/nodeprep/internal/provider/verify"
)

// Preparer is the main application orchestrator.
type Preparer struct {
	cfg      *config.Config
	fs       ports.FileSystem
	runner   ports.CommandRunner
	logger   ports.Logger
	plat     platform.Platform
	prober   *hoststate.Prober
	planner  *execution.Planner
	executor *execution.Executor
	resolver network.Resolver
	client   *http.Client
	geteuid  func() int
	out      io.Writer
}

// Option configures a Preparer before platform detection runs.
type Option func(*Preparer)

// WithFileSystem overrides the file system adapter (for tests).
func WithFileSystem(fs ports.FileSystem) Option {
	return func(p *Preparer) { p.fs = fs }
}

// WithRunner overrides the command runner (for tests).
func WithRunner(runner ports.CommandRunner) Option {
	return func(p *Preparer) { p.runner = runner }
}

// WithLogger overrides the logger.
func WithLogger(logger ports.Logger) Option {
	return func(p *Preparer) { p.logger = logger }
}

// WithProber overrides the host state prober (for tests).
func WithProber(prober *hoststate.Prober) Option {
	return func(p *Preparer) { p.prober = prober }
}

// WithPlatform skips detection and uses the given platform.
func WithPlatform(plat platform.Platform) Option {
	return func(p *Preparer) { p.plat = plat }
}

// WithResolver overrides the DNS resolver (for tests).
func WithResolver(resolver network.Resolver) Option {
	return func(p *Preparer) { p.resolver = resolver }
}

// WithHTTPClient overrides the HTTP client used for reachability probes
// and downloads (for tests).
func WithHTTPClient(client *http.Client) Option {
	return func(p *Preparer) { p.client = client }
}

// WithGeteuid overrides the privilege probe (for tests).
func WithGeteuid(fn func() int) Option {
	return func(p *Preparer) { p.geteuid = fn }
}

// New creates a Preparer for the given configuration. Output destined for
// the terminal goes to out; the run log additionally persists to
// cfg.LogFile unless a logger override is supplied.
func New(cfg *config.Config, out io.Writer, opts ...Option) (*Preparer, error) {
	p := &Preparer{
		cfg:      cfg,
		planner:  execution.NewPlanner(),
		executor: execution.NewExecutor(),
		geteuid:  os.Geteuid,
		out:      out,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.fs == nil {
		p.fs = filesystem.NewRealFileSystem()
	}
	if p.runner == nil {
		p.runner = command.NewRealRunner()
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.resolver == nil {
		p.resolver = network.DefaultResolver()
	}
	if p.logger == nil {
		runLog, err := logging.NewRunLog(cfg.LogFile, logging.WithConsole(out))
		if err != nil {
			return nil, fmt.Errorf("open run log %s: %w", cfg.LogFile, err)
		}
		p.logger = runLog
	}
	if p.plat == nil {
		plat, err := platform.Detect(p.fs, p.runner, platform.WithKeyFetcher(platform.HTTPKeyFetcher(p.client)))
		if err != nil {
			return nil, err
		}
		p.plat = plat
	}
	if p.prober == nil {
		p.prober = hoststate.NewProber(p.fs, p.runner)
	}

	return p, nil
}

// Platform returns the detected platform.
func (p *Preparer) Platform() platform.Platform {
	return p.plat
}

// EnsurePrivileged gates mutating runs on administrative privilege.
func (p *Preparer) EnsurePrivileged() error {
	if p.geteuid() == 0 {
		return nil
	}
	return pipeline.NewStepError(pipeline.ClassPermission, "root privileges required").
		WithSuggestion("re-run with sudo")
}

// Pipeline assembles the fixed step sequence for this host. The order is
// static; only platform capability decides whether a step appears at all.
func (p *Preparer) Pipeline() []pipeline.Step {
	steps := []pipeline.Step{
		network.NewConnectivityStep(p.cfg.Network.RepoHosts, p.plat, p.resolver, p.client),
		system.NewSwapStep(p.fs, p.runner, p.prober),
	}
	if p.plat.MACSupported() {
		steps = append(steps, system.NewSELinuxStep(p.plat, p.prober))
	}
	steps = append(steps,
		system.NewFirewallStep(p.plat),
		system.NewModulesStep(p.fs, p.runner, p.prober),
		system.NewSysctlStep(p.fs, p.runner, p.prober),
		runtime.NewRepoStep(p.plat, p.cfg.Runtime.Version),
		runtime.NewInstallStep(p.plat),
		runtime.NewConfigStep(p.fs, p.cfg.Runtime.Registries),
		runtime.NewServiceStep(p.runner, p.prober, p.cfg.Runtime.Version),
		kubernetes.NewRepoStep(p.plat, p.cfg.Kubernetes.Version),
		kubernetes.NewInstallStep(p.plat, p.prober),
		cni.NewBinariesStep(p.fs, p.client, p.cfg.CNI.Version, p.cfg.CNI.URLTemplate, p.cfg.CNI.SHA256, p.cfg.CNI.Dir,
			cni.WithProgressOutput(p.out)),
		verify.NewFinalStep(p.runner, p.prober, p.logger, system.RequiredSysctls),
	)
	return steps
}

// Plan checks every step read-only and returns the execution plan.
func (p *Preparer) Plan(ctx context.Context) (*execution.Plan, error) {
	return p.planner.Plan(ctx, p.Pipeline())
}

// Prepare runs the pipeline. With dryRun no host state is mutated.
func (p *Preparer) Prepare(ctx context.Context, dryRun bool) ([]execution.StepResult, error) {
	if !dryRun {
		if err := p.EnsurePrivileged(); err != nil {
			return nil, err
		}
	}

	p.logger.Info(ctx, fmt.Sprintf("preparing %s host for cluster join", p.plat.Name()))

	plan, err := p.Plan(ctx)
	if err != nil {
		return nil, err
	}

	results, execErr := p.executor.WithDryRun(dryRun).Execute(ctx, plan)
	p.logResults(ctx, results)

	if execErr != nil {
		p.logger.Error(ctx, fmt.Sprintf("preparation aborted: %v", execErr))
		return results, execErr
	}

	if dryRun {
		p.logger.Info(ctx, "dry run complete, no changes made")
	} else {
		p.logger.Info(ctx, "host prepared; join the cluster with kubeadm join")
	}
	return results, nil
}

func (p *Preparer) logResults(ctx context.Context, results []execution.StepResult) {
	for i := range results {
		id := results[i].StepID().String()
		switch results[i].Status() {
		case pipeline.StatusSatisfied:
			p.logger.Info(ctx, fmt.Sprintf("step %s ok", id))
		case pipeline.StatusFailed:
			p.logger.Error(ctx, fmt.Sprintf("step %s failed: %v", id, results[i].Error()))
		case pipeline.StatusSkipped:
			p.logger.Info(ctx, fmt.Sprintf("step %s skipped", id))
		case pipeline.StatusNeedsApply:
			p.logger.Info(ctx, fmt.Sprintf("step %s would apply", id))
		case pipeline.StatusUnknown:
			p.logger.Warn(ctx, fmt.Sprintf("step %s state unknown", id))
		}
	}
}
