// Package platform abstracts the OS-family specific operations behind one
// capability interface: package installation, repository registration,
// firewall control, and mandatory-access-control relaxation. The variant is
// selected once at startup; provisioning steps never branch on the OS.
package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// Family is the OS package-management family.
type Family string

const (
	// FamilyRHEL covers Rocky, RHEL, Alma, CentOS Stream (dnf/rpm).
	FamilyRHEL Family = "rhel"
	// FamilyDebian covers Debian and Ubuntu (apt/dpkg).
	FamilyDebian Family = "debian"
)

// Repository describes a third-party package repository to register,
// including the signing key that gates it.
type Repository struct {
	// Name becomes the repo file name.
	Name string
	// Description is the human-readable repo title.
	Description string
	// BaseURL is the package base URL.
	BaseURL string
	// KeyURL is the signing key location. Registration always enables
	// signature checking against this key.
	KeyURL string
	// ExcludePackages are kept out of routine upgrades (RHEL family
	// writes them as an exclude list; installs lift it explicitly).
	ExcludePackages []string
}

// Platform is the per-OS-family capability set.
type Platform interface {
	// Name identifies the detected distribution (e.g. "rocky", "ubuntu").
	Name() string

	// Family returns the package-management family.
	Family() Family

	// DNSUtilityPackage names the package providing DNS lookup tools.
	DNSUtilityPackage() string

	// PackageInstalled reports whether a package is installed.
	PackageInstalled(ctx context.Context, pkg string) (bool, error)

	// InstallPackages installs packages, converging if already present.
	InstallPackages(ctx context.Context, pkgs ...string) error

	// InstallHeldPackages installs packages from the named repository and
	// protects them from routine upgrades afterwards.
	InstallHeldPackages(ctx context.Context, repoName string, pkgs ...string) error

	// AddRepository registers a package repository with signing key.
	AddRepository(ctx context.Context, repo Repository) error

	// RepositoryConfigured reports whether the repository is registered.
	RepositoryConfigured(repo Repository) bool

	// RefreshMetadata refreshes the package manager's metadata cache.
	RefreshMetadata(ctx context.Context) error

	// FirewallActive reports whether the host firewall is running.
	FirewallActive(ctx context.Context) (bool, error)

	// DisableFirewall stops the firewall now and at boot.
	DisableFirewall(ctx context.Context) error

	// MACSupported reports whether the platform manages a mandatory
	// access control system that must be relaxed (SELinux on the RHEL
	// family; the Debian family needs no relaxation).
	MACSupported() bool

	// SetMACPermissive relaxes MAC enforcement at runtime and persists it.
	SetMACPermissive(ctx context.Context) error
}

// KeyFetcher downloads signing-key material.
type KeyFetcher func(ctx context.Context, url string) ([]byte, error)

// HTTPKeyFetcher fetches a signing key over HTTPS.
func HTTPKeyFetcher(client *http.Client) KeyFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, url string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build key request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch signing key %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch signing key %s: status %d", url, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}

// OSReleasePath is where distribution identity is read from.
const OSReleasePath = "/etc/os-release"

// Detect selects the Platform variant for the current host by reading
// os-release. It fails on OS families nodeprep does not support.
func Detect(fs ports.FileSystem, runner ports.CommandRunner, opts ...Option) (Platform, error) {
	settings := newSettings(opts)

	data, err := fs.ReadFile(settings.osReleasePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", settings.osReleasePath, err)
	}

	release, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", settings.osReleasePath, err)
	}

	section := release.Section("")
	id := strings.Trim(section.Key("ID").String(), `"`)
	idLike := strings.Trim(section.Key("ID_LIKE").String(), `"`)

	switch family(id, idLike) {
	case FamilyRHEL:
		return newRocky(id, fs, runner, settings), nil
	case FamilyDebian:
		return newDebian(id, fs, runner, settings), nil
	}

	return nil, fmt.Errorf("unsupported distribution %q (supported families: rhel, debian)", id)
}

func family(id, idLike string) Family {
	rhelIDs := map[string]bool{"rhel": true, "rocky": true, "centos": true, "almalinux": true, "fedora": true}
	debianIDs := map[string]bool{"debian": true, "ubuntu": true}

	if rhelIDs[id] {
		return FamilyRHEL
	}
	if debianIDs[id] {
		return FamilyDebian
	}
	for _, like := range strings.Fields(idLike) {
		if rhelIDs[like] {
			return FamilyRHEL
		}
		if debianIDs[like] {
			return FamilyDebian
		}
	}
	return ""
}

// settings holds the host paths a variant writes to, overridable in tests.
type settings struct {
	osReleasePath string
	yumRepoDir    string
	aptSourcesDir string
	aptKeyringDir string
	selinuxConfig string
	keyFetch      KeyFetcher
}

// Option overrides a platform setting.
type Option func(*settings)

// WithOSReleasePath overrides the os-release location.
func WithOSReleasePath(path string) Option {
	return func(s *settings) { s.osReleasePath = path }
}

// WithYumRepoDir overrides the yum repo directory.
func WithYumRepoDir(dir string) Option {
	return func(s *settings) { s.yumRepoDir = dir }
}

// WithAptSourcesDir overrides the apt sources directory.
func WithAptSourcesDir(dir string) Option {
	return func(s *settings) { s.aptSourcesDir = dir }
}

// WithAptKeyringDir overrides the apt keyring directory.
func WithAptKeyringDir(dir string) Option {
	return func(s *settings) { s.aptKeyringDir = dir }
}

// WithSELinuxConfigPath overrides the SELinux config location.
func WithSELinuxConfigPath(path string) Option {
	return func(s *settings) { s.selinuxConfig = path }
}

// WithKeyFetcher overrides signing-key retrieval.
func WithKeyFetcher(fetch KeyFetcher) Option {
	return func(s *settings) { s.keyFetch = fetch }
}

func newSettings(opts []Option) settings {
	s := settings{
		osReleasePath: OSReleasePath,
		yumRepoDir:    "/etc/yum.repos.d",
		aptSourcesDir: "/etc/apt/sources.list.d",
		aptKeyringDir: "/etc/apt/keyrings",
		selinuxConfig: "/etc/selinux/config",
		keyFetch:      HTTPKeyFetcher(nil),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
