package platform_test

import (
	"context"
	"testing"

	"github.com/felixgeelhaar/nodeprep/internal/platform"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rockyOSRelease = `NAME="Rocky Linux"
VERSION="9.4 (Blue Onyx)"
ID="rocky"
ID_LIKE="rhel centos fedora"
`

const ubuntuOSRelease = `PRETTY_NAME="Ubuntu 24.04 LTS"
NAME="Ubuntu"
ID=ubuntu
ID_LIKE=debian
`

func detect(t *testing.T, osRelease string, runner ports.CommandRunner, fs ports.FileSystem) platform.Platform {
	t.Helper()

	require.NoError(t, fs.WriteFile("/etc/os-release", []byte(osRelease), 0o644))

	p, err := platform.Detect(fs, runner)
	require.NoError(t, err)
	return p
}

func TestDetect_Rocky(t *testing.T) {
	t.Parallel()

	p := detect(t, rockyOSRelease, ports.NewMockCommandRunner(), ports.NewMemFileSystem())

	assert.Equal(t, "rocky", p.Name())
	assert.Equal(t, platform.FamilyRHEL, p.Family())
	assert.Equal(t, "bind-utils", p.DNSUtilityPackage())
	assert.True(t, p.MACSupported())
}

func TestDetect_Ubuntu(t *testing.T) {
	t.Parallel()

	p := detect(t, ubuntuOSRelease, ports.NewMockCommandRunner(), ports.NewMemFileSystem())

	assert.Equal(t, "ubuntu", p.Name())
	assert.Equal(t, platform.FamilyDebian, p.Family())
	assert.Equal(t, "dnsutils", p.DNSUtilityPackage())
	assert.False(t, p.MACSupported())
}

func TestDetect_FamilyFallbackThroughIDLike(t *testing.T) {
	t.Parallel()

	p := detect(t, "ID=almalinux9-derivative\nID_LIKE=\"rhel centos\"\n",
		ports.NewMockCommandRunner(), ports.NewMemFileSystem())

	assert.Equal(t, platform.FamilyRHEL, p.Family())
}

func TestDetect_Unsupported(t *testing.T) {
	t.Parallel()

	fs := ports.NewMemFileSystem()
	require.NoError(t, fs.WriteFile("/etc/os-release", []byte("ID=alpine\n"), 0o644))

	_, err := platform.Detect(fs, ports.NewMockCommandRunner())
	assert.ErrorContains(t, err, "unsupported distribution")
}

func TestRocky_PackageInstalled(t *testing.T) {
	t.Parallel()

	runner := ports.NewMockCommandRunner()
	runner.AddResult("rpm", []string{"-q", "cri-o"}, ports.CommandResult{ExitCode: 0})
	runner.AddResult("rpm", []string{"-q", "kubeadm"}, ports.CommandResult{ExitCode: 1})

	p := detect(t, rockyOSRelease, runner, ports.NewMemFileSystem())

	installed, err := p.PackageInstalled(context.Background(), "cri-o")
	require.NoError(t, err)
	assert.True(t, installed)

	installed, err = p.PackageInstalled(context.Background(), "kubeadm")
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestRocky_InstallHeldPackages_LiftsExcludes(t *testing.T) {
	t.Parallel()

	runner := ports.NewMockCommandRunner()
	runner.AddResult("dnf",
		[]string{"install", "-y", "--disableexcludes=kubernetes", "kubelet", "kubeadm", "kubectl"},
		ports.CommandResult{ExitCode: 0})

	p := detect(t, rockyOSRelease, runner, ports.NewMemFileSystem())

	err := p.InstallHeldPackages(context.Background(), "kubernetes", "kubelet", "kubeadm", "kubectl")
	require.NoError(t, err)
}

func TestRocky_AddRepository(t *testing.T) {
	t.Parallel()

	fs := ports.NewMemFileSystem()
	p := detect(t, rockyOSRelease, ports.NewMockCommandRunner(), fs)

	repo := platform.Repository{
		Name:            "kubernetes",
		Description:     "Kubernetes v1.33",
		BaseURL:         "https://pkgs.k8s.io/core:/stable:/v1.33/rpm/",
		KeyURL:          "https://pkgs.k8s.io/core:/stable:/v1.33/rpm/repodata/repomd.xml.key",
		ExcludePackages: []string{"kubelet", "kubeadm", "kubectl", "cri-tools", "kubernetes-cni"},
	}

	require.False(t, p.RepositoryConfigured(repo))
	require.NoError(t, p.AddRepository(context.Background(), repo))
	assert.True(t, p.RepositoryConfigured(repo))

	data, err := fs.ReadFile("/etc/yum.repos.d/kubernetes.repo")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[kubernetes]")
	assert.Contains(t, content, "gpgcheck = 1")
	assert.Contains(t, content, "https://pkgs.k8s.io/core:/stable:/v1.33/rpm/")
	assert.Contains(t, content, "exclude")
}

func TestRocky_SetMACPermissive_EditsConfigInPlace(t *testing.T) {
	t.Parallel()

	fs := ports.NewMemFileSystem()
	require.NoError(t, fs.WriteFile("/etc/selinux/config", []byte(
		"# This file controls the state of SELinux on the system.\n"+
			"SELINUX=enforcing\n"+
			"SELINUXTYPE=targeted\n"), 0o644))

	runner := ports.NewMockCommandRunner()
	runner.AddResult("setenforce", []string{"0"}, ports.CommandResult{ExitCode: 0})

	p := detect(t, rockyOSRelease, runner, fs)

	require.NoError(t, p.SetMACPermissive(context.Background()))

	data, err := fs.ReadFile("/etc/selinux/config")
	require.NoError(t, err)
	assert.Contains(t, string(data), "SELINUX=permissive")
	assert.Contains(t, string(data), "SELINUXTYPE=targeted", "other settings must survive")
	assert.NotContains(t, string(data), "SELINUX=enforcing")
}

func TestRocky_DisableFirewall(t *testing.T) {
	t.Parallel()

	runner := ports.NewMockCommandRunner()
	runner.AddResult("systemctl", []string{"disable", "--now", "firewalld"}, ports.CommandResult{ExitCode: 0})
	runner.AddResult("systemctl", []string{"is-active", "firewalld"}, ports.CommandResult{ExitCode: 3, Stdout: "inactive\n"})

	p := detect(t, rockyOSRelease, runner, ports.NewMemFileSystem())

	require.NoError(t, p.DisableFirewall(context.Background()))

	active, err := p.FirewallActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestDebian_AddRepository_StagesKey(t *testing.T) {
	t.Parallel()

	fs := ports.NewMemFileSystem()
	require.NoError(t, fs.WriteFile("/etc/os-release", []byte(ubuntuOSRelease), 0o644))

	fetched := ""
	p, err := platform.Detect(fs, ports.NewMockCommandRunner(),
		platform.WithKeyFetcher(func(_ context.Context, url string) ([]byte, error) {
			fetched = url
			return []byte("-----BEGIN PGP PUBLIC KEY BLOCK-----\n"), nil
		}))
	require.NoError(t, err)

	repo := platform.Repository{
		Name:    "kubernetes",
		BaseURL: "https://pkgs.k8s.io/core:/stable:/v1.33/deb/",
		KeyURL:  "https://pkgs.k8s.io/core:/stable:/v1.33/deb/Release.key",
	}

	require.NoError(t, p.AddRepository(context.Background(), repo))
	assert.Equal(t, repo.KeyURL, fetched)
	assert.True(t, p.RepositoryConfigured(repo))

	list, err := fs.ReadFile("/etc/apt/sources.list.d/kubernetes.list")
	require.NoError(t, err)
	assert.Equal(t,
		"deb [signed-by=/etc/apt/keyrings/kubernetes.asc] https://pkgs.k8s.io/core:/stable:/v1.33/deb/ /\n",
		string(list))

	key, err := fs.ReadFile("/etc/apt/keyrings/kubernetes.asc")
	require.NoError(t, err)
	assert.Contains(t, string(key), "PGP PUBLIC KEY")
}

func TestDebian_InstallHeldPackages_Holds(t *testing.T) {
	t.Parallel()

	runner := ports.NewMockCommandRunner()
	runner.AddResult("apt-get", []string{"install", "-y", "kubelet", "kubeadm", "kubectl"}, ports.CommandResult{ExitCode: 0})
	runner.AddResult("apt-mark", []string{"hold", "kubelet", "kubeadm", "kubectl"}, ports.CommandResult{ExitCode: 0})

	p := detect(t, ubuntuOSRelease, runner, ports.NewMemFileSystem())

	require.NoError(t, p.InstallHeldPackages(context.Background(), "kubernetes", "kubelet", "kubeadm", "kubectl"))
	assert.True(t, runner.CalledWith("apt-mark", "hold", "kubelet", "kubeadm", "kubectl"))
}

func TestDebian_FirewallActive_NoUfw(t *testing.T) {
	t.Parallel()

	runner := ports.NewMockCommandRunner()
	runner.AddResult("dpkg-query", []string{"-W", "-f=${db:Status-Status}", "ufw"}, ports.CommandResult{ExitCode: 1})

	p := detect(t, ubuntuOSRelease, runner, ports.NewMemFileSystem())

	active, err := p.FirewallActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestInstallPackages_RejectsUnsafeNames(t *testing.T) {
	t.Parallel()

	p := detect(t, rockyOSRelease, ports.NewMockCommandRunner(), ports.NewMemFileSystem())

	err := p.InstallPackages(context.Background(), "cri-o; rm -rf /")
	assert.Error(t, err)
}
