// Package hoststate observes the host facts the provisioning steps assert:
// swap, SELinux mode, loaded kernel modules, sysctl values, service status.
// Probes query the relevant subsystem directly (meminfo, /proc/modules,
// /proc/sys, systemd) instead of string-matching tool output.
package hoststate

import (
	"context"
)

// SELinuxState pairs the runtime enforcement mode with the persisted one.
// A prepared host needs both to agree.
type SELinuxState struct {
	Runtime    string
	Configured string
}

// Relaxed reports whether enforcement is off now and across reboots.
func (s SELinuxState) Relaxed() bool {
	return modeRelaxed(s.Runtime) && modeRelaxed(s.Configured)
}

func modeRelaxed(mode string) bool {
	switch mode {
	case "Permissive", "permissive", "Disabled", "disabled":
		return true
	}
	return false
}

// State is a point-in-time snapshot of the host facts the pipeline cares
// about. Steps read it as their precondition and re-read it as their
// postcondition; nothing in here is cached across mutations.
type State struct {
	SwapTotalBytes  uint64
	FstabSwapActive []string
	SELinux         SELinuxState
	Modules         map[string]bool
	Sysctl          map[string]string
}

// SwapOff reports whether no swap is in use and none would return at boot.
func (s *State) SwapOff() bool {
	return s.SwapTotalBytes == 0 && len(s.FstabSwapActive) == 0
}

// Snapshot collects a full State using the prober.
// modules and sysctlKeys name the facts to include.
func Snapshot(ctx context.Context, p *Prober, modules []string, sysctlKeys []string) (*State, error) {
	state := &State{
		Modules: make(map[string]bool, len(modules)),
		Sysctl:  make(map[string]string, len(sysctlKeys)),
	}

	total, err := p.SwapTotal(ctx)
	if err != nil {
		return nil, err
	}
	state.SwapTotalBytes = total

	state.FstabSwapActive, err = p.ActiveFstabSwapLines()
	if err != nil {
		return nil, err
	}

	for _, mod := range modules {
		loaded, err := p.ModuleLoaded(mod)
		if err != nil {
			return nil, err
		}
		state.Modules[mod] = loaded
	}

	for _, key := range sysctlKeys {
		value, err := p.SysctlValue(key)
		if err != nil {
			return nil, err
		}
		state.Sysctl[key] = value
	}

	return state, nil
}
