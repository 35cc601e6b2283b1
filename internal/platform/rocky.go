package platform

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/felixgeelhaar/nodeprep/internal/ports"
	"github.com/felixgeelhaar/nodeprep/internal/validation"
)

// Rocky implements Platform for the RHEL family (dnf/rpm, firewalld, SELinux).
type Rocky struct {
	name     string
	fs       ports.FileSystem
	runner   ports.CommandRunner
	settings settings
}

func newRocky(name string, fs ports.FileSystem, runner ports.CommandRunner, s settings) *Rocky {
	return &Rocky{name: name, fs: fs, runner: runner, settings: s}
}

// Name identifies the detected distribution.
func (p *Rocky) Name() string {
	return p.name
}

// Family returns FamilyRHEL.
func (p *Rocky) Family() Family {
	return FamilyRHEL
}

// DNSUtilityPackage names the package providing nslookup/dig.
func (p *Rocky) DNSUtilityPackage() string {
	return "bind-utils"
}

// PackageInstalled queries the rpm database.
func (p *Rocky) PackageInstalled(ctx context.Context, pkg string) (bool, error) {
	if err := validation.ValidatePackageName(pkg); err != nil {
		return false, err
	}
	result, err := p.runner.Run(ctx, "rpm", "-q", pkg)
	if err != nil {
		return false, err
	}
	return result.Success(), nil
}

// InstallPackages installs packages via dnf. dnf converges: installing an
// already-present package is a no-op.
func (p *Rocky) InstallPackages(ctx context.Context, pkgs ...string) error {
	return p.install(ctx, "", pkgs)
}

// InstallHeldPackages installs from the named repository, lifting its
// exclude list for this one transaction. The exclude list itself is what
// holds the packages afterwards.
func (p *Rocky) InstallHeldPackages(ctx context.Context, repoName string, pkgs ...string) error {
	return p.install(ctx, repoName, pkgs)
}

func (p *Rocky) install(ctx context.Context, disableExcludesRepo string, pkgs []string) error {
	for _, pkg := range pkgs {
		if err := validation.ValidatePackageName(pkg); err != nil {
			return err
		}
	}

	args := []string{"install", "-y"}
	if disableExcludesRepo != "" {
		args = append(args, "--disableexcludes="+disableExcludesRepo)
	}
	args = append(args, pkgs...)

	result, err := p.runner.Run(ctx, "dnf", args...)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("dnf install %s failed: %s", strings.Join(pkgs, " "), strings.TrimSpace(result.Stderr))
	}
	return nil
}

// AddRepository writes a .repo file with signature checking enabled.
func (p *Rocky) AddRepository(_ context.Context, repo Repository) error {
	file := ini.Empty()
	section, err := file.NewSection(repo.Name)
	if err != nil {
		return fmt.Errorf("build repo %s: %w", repo.Name, err)
	}

	section.Key("name").SetValue(repo.Description)
	section.Key("baseurl").SetValue(repo.BaseURL)
	section.Key("enabled").SetValue("1")
	section.Key("gpgcheck").SetValue("1")
	section.Key("gpgkey").SetValue(repo.KeyURL)
	if len(repo.ExcludePackages) > 0 {
		section.Key("exclude").SetValue(strings.Join(repo.ExcludePackages, " "))
	}

	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return fmt.Errorf("render repo %s: %w", repo.Name, err)
	}

	return p.fs.WriteFile(p.repoPath(repo), buf.Bytes(), 0o644)
}

// RepositoryConfigured reports whether the .repo file exists.
func (p *Rocky) RepositoryConfigured(repo Repository) bool {
	return p.fs.Exists(p.repoPath(repo))
}

func (p *Rocky) repoPath(repo Repository) string {
	return filepath.Join(p.settings.yumRepoDir, repo.Name+".repo")
}

// RefreshMetadata refreshes the dnf metadata cache.
func (p *Rocky) RefreshMetadata(ctx context.Context) error {
	result, err := p.runner.Run(ctx, "dnf", "makecache")
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("dnf makecache failed: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// FirewallActive reports whether firewalld is running.
func (p *Rocky) FirewallActive(ctx context.Context) (bool, error) {
	result, err := p.runner.Run(ctx, "systemctl", "is-active", "firewalld")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(result.Stdout) == "active", nil
}

// DisableFirewall stops firewalld and removes it from the boot sequence.
func (p *Rocky) DisableFirewall(ctx context.Context) error {
	result, err := p.runner.Run(ctx, "systemctl", "disable", "--now", "firewalld")
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("disable firewalld failed: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// MACSupported reports SELinux management.
func (p *Rocky) MACSupported() bool {
	return true
}

var selinuxModeLine = regexp.MustCompile(`(?m)^SELINUX=\S+$`)

// SetMACPermissive sets SELinux to permissive now and across reboots.
// The config file is edited in place, preserving its comments.
func (p *Rocky) SetMACPermissive(ctx context.Context) error {
	result, err := p.runner.Run(ctx, "setenforce", "0")
	if err != nil {
		return err
	}
	// setenforce fails when SELinux is disabled outright; that state
	// already satisfies the step.
	if !result.Success() && !strings.Contains(result.Stderr, "disabled") {
		return fmt.Errorf("setenforce 0 failed: %s", strings.TrimSpace(result.Stderr))
	}

	data, err := p.fs.ReadFile(p.settings.selinuxConfig)
	if err != nil {
		return fmt.Errorf("read %s: %w", p.settings.selinuxConfig, err)
	}

	content := string(data)
	if selinuxModeLine.MatchString(content) {
		content = selinuxModeLine.ReplaceAllString(content, "SELINUX=permissive")
	} else {
		content = strings.TrimRight(content, "\n") + "\nSELINUX=permissive\n"
	}

	return p.fs.WriteFile(p.settings.selinuxConfig, []byte(content), 0o644)
}

// Ensure Rocky implements Platform.
var _ Platform = (*Rocky)(nil)
