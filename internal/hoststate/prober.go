package hoststate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/ini.v1"

	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// Default host paths probed by the Prober.
const (
	DefaultProcRoot      = "/proc"
	DefaultFstabPath     = "/etc/fstab"
	DefaultSELinuxConfig = "/etc/selinux/config"
)

// Prober reads host facts. Paths and the swap source are overridable so
// step tests can run against fixtures instead of the live host.
type Prober struct {
	fs            ports.FileSystem
	runner        ports.CommandRunner
	procRoot      string
	fstabPath     string
	selinuxConfig string
	swapTotal     func(ctx context.Context) (uint64, error)
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProcRoot overrides the /proc mount point (for tests).
func WithProcRoot(root string) ProberOption {
	return func(p *Prober) {
		p.procRoot = root
	}
}

// WithFstabPath overrides the fstab location (for tests).
func WithFstabPath(path string) ProberOption {
	return func(p *Prober) {
		p.fstabPath = path
	}
}

// WithSELinuxConfigPath overrides the SELinux config location (for tests).
func WithSELinuxConfigPath(path string) ProberOption {
	return func(p *Prober) {
		p.selinuxConfig = path
	}
}

// WithSwapProbe overrides the swap accounting source (for tests).
func WithSwapProbe(fn func(ctx context.Context) (uint64, error)) ProberOption {
	return func(p *Prober) {
		p.swapTotal = fn
	}
}

// NewProber creates a Prober over the given file system and command runner.
func NewProber(fs ports.FileSystem, runner ports.CommandRunner, opts ...ProberOption) *Prober {
	p := &Prober{
		fs:            fs,
		runner:        runner,
		procRoot:      DefaultProcRoot,
		fstabPath:     DefaultFstabPath,
		selinuxConfig: DefaultSELinuxConfig,
	}
	p.swapTotal = func(ctx context.Context) (uint64, error) {
		swap, err := mem.SwapMemoryWithContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("query swap accounting: %w", err)
		}
		return swap.Total, nil
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SwapTotal returns the total swap known to the kernel, in bytes.
// Zero means swap is fully off.
func (p *Prober) SwapTotal(ctx context.Context) (uint64, error) {
	return p.swapTotal(ctx)
}

// ActiveFstabSwapLines returns the uncommented swap entries in fstab.
// An empty result means no swap would be re-enabled at boot.
func (p *Prober) ActiveFstabSwapLines() ([]string, error) {
	data, err := p.fs.ReadFile(p.fstabPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", p.fstabPath, err)
	}

	var active []string
	for _, line := range strings.Split(string(data), "\n") {
		if IsSwapMount(line) {
			active = append(active, line)
		}
	}
	return active, nil
}

// IsSwapMount reports whether an fstab line is an uncommented swap entry.
func IsSwapMount(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	fields := strings.Fields(trimmed)
	// fstab: device mountpoint fstype options dump pass
	return len(fields) >= 3 && fields[2] == "swap"
}

// ModuleLoaded reports whether the named kernel module appears in the
// loaded-module list.
func (p *Prober) ModuleLoaded(name string) (bool, error) {
	data, err := p.fs.ReadFile(filepath.Join(p.procRoot, "modules"))
	if err != nil {
		return false, fmt.Errorf("read module list: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return true, nil
		}
	}
	return false, nil
}

// SysctlValue reads a sysctl key (dotted form) from /proc/sys.
func (p *Prober) SysctlValue(key string) (string, error) {
	path := filepath.Join(append([]string{p.procRoot, "sys"}, strings.Split(key, ".")...)...)
	data, err := p.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Key absent: the owning module is not loaded.
			return "", nil
		}
		return "", fmt.Errorf("read sysctl %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SELinuxState returns the runtime and persisted enforcement modes.
// On hosts without SELinux the runtime mode is "Disabled".
func (p *Prober) SELinuxState(ctx context.Context) (SELinuxState, error) {
	state := SELinuxState{Runtime: "Disabled", Configured: "disabled"}

	result, err := p.runner.Run(ctx, "getenforce")
	if err == nil && result.Success() {
		state.Runtime = strings.TrimSpace(result.Stdout)
	}

	data, err := p.fs.ReadFile(p.selinuxConfig)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, fmt.Errorf("read %s: %w", p.selinuxConfig, err)
	}

	cfg, err := ini.Load(data)
	if err != nil {
		return state, fmt.Errorf("parse %s: %w", p.selinuxConfig, err)
	}
	if key := cfg.Section("").Key("SELINUX"); key != nil && key.String() != "" {
		state.Configured = key.String()
	}

	return state, nil
}

// ServiceActive reports whether a systemd unit is active.
func (p *Prober) ServiceActive(ctx context.Context, unit string) (bool, error) {
	result, err := p.runner.Run(ctx, "systemctl", "is-active", unit)
	if err != nil {
		return false, fmt.Errorf("query unit %s: %w", unit, err)
	}
	return strings.TrimSpace(result.Stdout) == "active", nil
}

// ServiceEnabled reports whether a systemd unit is enabled at boot.
func (p *Prober) ServiceEnabled(ctx context.Context, unit string) (bool, error) {
	result, err := p.runner.Run(ctx, "systemctl", "is-enabled", unit)
	if err != nil {
		return false, fmt.Errorf("query unit %s: %w", unit, err)
	}
	return strings.TrimSpace(result.Stdout) == "enabled", nil
}
