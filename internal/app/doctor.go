package app

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/provider/runtime"
	"github.com/felixgeelhaar/nodeprep/internal/provider/system"
)

// StepCheck is the outcome of one step's verification.
type StepCheck struct {
	ID  pipeline.StepID
	Err error
}

// DoctorReport is a read-only view of the host: the facts the pipeline
// asserts plus every step's verification outcome.
type DoctorReport struct {
	Platform      string
	State         *hoststate.State
	FirewallOn    bool
	CrioActive    bool
	KubeletActive bool
	Checks        []StepCheck
}

// Doctor runs every step's Verify without applying anything and snapshots
// the host facts. The returned error is the first verification failure, so
// an unprepared host exits with that failure's class; the report is still
// populated so callers can render it before exiting.
func (p *Preparer) Doctor(ctx context.Context) (*DoctorReport, error) {
	state, err := hoststate.Snapshot(ctx, p.prober, system.RequiredModules, system.RequiredSysctls)
	if err != nil {
		return nil, err
	}

	report := &DoctorReport{
		Platform: fmt.Sprintf("%s (%s family)", p.plat.Name(), p.plat.Family()),
		State:    state,
	}

	state.SELinux, err = p.prober.SELinuxState(ctx)
	if err != nil {
		return nil, err
	}

	report.FirewallOn, err = p.plat.FirewallActive(ctx)
	if err != nil {
		return nil, err
	}

	// Service probes tolerate absent units: a fresh host has neither.
	report.CrioActive, _ = p.prober.ServiceActive(ctx, runtime.ServiceUnit)
	report.KubeletActive, _ = p.prober.ServiceActive(ctx, "kubelet")

	rc := pipeline.NewRunContext(ctx)
	var firstFailure error
	for _, step := range p.Pipeline() {
		verr := step.Verify(rc)
		report.Checks = append(report.Checks, StepCheck{ID: step.ID(), Err: verr})
		if verr != nil && firstFailure == nil {
			firstFailure = verr
		}
	}

	return report, firstFailure
}

// PrintDoctorReport renders the report to the output writer.
func (p *Preparer) PrintDoctorReport(report *DoctorReport) {
	p.printf("\nHost Diagnosis\n")
	p.printf("==============\n\n")
	p.printf("Platform:  %s\n", report.Platform)
	p.printf("Swap:      %s\n", boolWord(report.State.SwapOff(), "off", fmt.Sprintf("on (%d bytes)", report.State.SwapTotalBytes)))
	p.printf("SELinux:   runtime=%s configured=%s\n", report.State.SELinux.Runtime, report.State.SELinux.Configured)
	p.printf("Firewall:  %s\n", boolWord(!report.FirewallOn, "inactive", "active"))

	for _, mod := range system.RequiredModules {
		p.printf("Module:    %-14s %s\n", mod, boolWord(report.State.Modules[mod], "loaded", "missing"))
	}
	for _, key := range system.RequiredSysctls {
		value := report.State.Sysctl[key]
		if value == "" {
			value = "(absent)"
		}
		p.printf("Sysctl:    %s = %s\n", key, value)
	}

	p.printf("Service:   crio %s, kubelet %s\n",
		boolWord(report.CrioActive, "active", "inactive"),
		boolWord(report.KubeletActive, "active (should be stopped before join)", "stopped"))

	p.printf("\nVerification\n")
	p.printf("------------\n")
	for _, check := range report.Checks {
		if check.Err != nil {
			p.printf("✗ %-22s %v\n", check.ID.String(), check.Err)
		} else {
			p.printf("✓ %s\n", check.ID.String())
		}
	}
	p.printf("\n")
}

func boolWord(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
