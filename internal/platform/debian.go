package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/nodeprep/internal/ports"
	"github.com/felixgeelhaar/nodeprep/internal/validation"
)

// Debian implements Platform for the Debian family (apt/dpkg, ufw).
type Debian struct {
	name     string
	fs       ports.FileSystem
	runner   ports.CommandRunner
	settings settings
}

func newDebian(name string, fs ports.FileSystem, runner ports.CommandRunner, s settings) *Debian {
	return &Debian{name: name, fs: fs, runner: runner, settings: s}
}

// Name identifies the detected distribution.
func (p *Debian) Name() string {
	return p.name
}

// Family returns FamilyDebian.
func (p *Debian) Family() Family {
	return FamilyDebian
}

// DNSUtilityPackage names the package providing nslookup/dig.
func (p *Debian) DNSUtilityPackage() string {
	return "dnsutils"
}

// PackageInstalled queries the dpkg database.
func (p *Debian) PackageInstalled(ctx context.Context, pkg string) (bool, error) {
	if err := validation.ValidatePackageName(pkg); err != nil {
		return false, err
	}
	result, err := p.runner.Run(ctx, "dpkg-query", "-W", "-f=${db:Status-Status}", pkg)
	if err != nil {
		return false, err
	}
	// dpkg-query exits 1 for unknown packages.
	if !result.Success() {
		return false, nil
	}
	return strings.TrimSpace(result.Stdout) == "installed", nil
}

// InstallPackages installs packages via apt-get.
func (p *Debian) InstallPackages(ctx context.Context, pkgs ...string) error {
	for _, pkg := range pkgs {
		if err := validation.ValidatePackageName(pkg); err != nil {
			return err
		}
	}

	args := append([]string{"install", "-y"}, pkgs...)
	result, err := p.runner.Run(ctx, "apt-get", args...)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("apt-get install %s failed: %s", strings.Join(pkgs, " "), strings.TrimSpace(result.Stderr))
	}
	return nil
}

// InstallHeldPackages installs packages and pins them with apt-mark hold.
func (p *Debian) InstallHeldPackages(ctx context.Context, _ string, pkgs ...string) error {
	if err := p.InstallPackages(ctx, pkgs...); err != nil {
		return err
	}

	args := append([]string{"hold"}, pkgs...)
	result, err := p.runner.Run(ctx, "apt-mark", args...)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("apt-mark hold failed: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// AddRepository stages the signing key under the keyring directory and
// writes a signed-by sources.list entry referencing it.
func (p *Debian) AddRepository(ctx context.Context, repo Repository) error {
	key, err := p.settings.keyFetch(ctx, repo.KeyURL)
	if err != nil {
		return err
	}

	if err := p.fs.MkdirAll(p.settings.aptKeyringDir, 0o755); err != nil {
		return fmt.Errorf("create keyring dir: %w", err)
	}

	keyPath := p.keyPath(repo)
	if err := p.fs.WriteFile(keyPath, key, 0o644); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}

	line := fmt.Sprintf("deb [signed-by=%s] %s /\n", keyPath, repo.BaseURL)
	return p.fs.WriteFile(p.sourcesPath(repo), []byte(line), 0o644)
}

// RepositoryConfigured reports whether both the sources entry and its key exist.
func (p *Debian) RepositoryConfigured(repo Repository) bool {
	return p.fs.Exists(p.sourcesPath(repo)) && p.fs.Exists(p.keyPath(repo))
}

func (p *Debian) sourcesPath(repo Repository) string {
	return filepath.Join(p.settings.aptSourcesDir, repo.Name+".list")
}

func (p *Debian) keyPath(repo Repository) string {
	return filepath.Join(p.settings.aptKeyringDir, repo.Name+".asc")
}

// RefreshMetadata refreshes the apt package index.
func (p *Debian) RefreshMetadata(ctx context.Context) error {
	result, err := p.runner.Run(ctx, "apt-get", "update")
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("apt-get update failed: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// FirewallActive reports whether ufw is active. Hosts without ufw report
// inactive.
func (p *Debian) FirewallActive(ctx context.Context) (bool, error) {
	installed, err := p.PackageInstalled(ctx, "ufw")
	if err != nil || !installed {
		return false, err
	}

	result, err := p.runner.Run(ctx, "ufw", "status")
	if err != nil {
		return false, err
	}
	return strings.Contains(result.Stdout, "Status: active"), nil
}

// DisableFirewall disables ufw.
func (p *Debian) DisableFirewall(ctx context.Context) error {
	result, err := p.runner.Run(ctx, "ufw", "disable")
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("ufw disable failed: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// MACSupported returns false: the Debian family needs no MAC relaxation
// (container runtimes ship AppArmor-compatible profiles).
func (p *Debian) MACSupported() bool {
	return false
}

// SetMACPermissive is a no-op on the Debian family.
func (p *Debian) SetMACPermissive(_ context.Context) error {
	return nil
}

// Ensure Debian implements Platform.
var _ Platform = (*Debian)(nil)
