// Package config loads and validates the nodeprep configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/nodeprep/internal/validation"
)

// DefaultPath is where nodeprep looks for its configuration file.
const DefaultPath = "/etc/nodeprep/nodeprep.yaml"

// Config is the full nodeprep configuration. Every field has a working
// default; a config file only overrides what it names.
type Config struct {
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	CNI        CNIConfig        `yaml:"cni"`
	Network    NetworkConfig    `yaml:"network"`
	LogFile    string           `yaml:"logFile"`
}

// RuntimeConfig pins the container runtime.
type RuntimeConfig struct {
	// Version is the CRI-O major.minor pin, e.g. "v1.33". The installed
	// runtime must report this major.minor or activation fails.
	Version string `yaml:"version"`
	// Registries is the unqualified-search registry list written to
	// the container registries configuration.
	Registries []string `yaml:"registries"`
}

// KubernetesConfig pins the cluster-join tooling.
type KubernetesConfig struct {
	// Version is the kubeadm/kubectl/kubelet minor pin, e.g. "v1.33".
	Version string `yaml:"version"`
}

// CNIConfig pins the network plugin binaries that get staged (not
// configured) on the host.
type CNIConfig struct {
	Version string `yaml:"version"`
	// URLTemplate expands to the release archive URL. %[1]s is the
	// version, %[2]s the architecture.
	URLTemplate string `yaml:"urlTemplate"`
	// SHA256 is the expected archive digest; empty skips the check.
	SHA256 string `yaml:"sha256"`
	// Dir is where the plugin binaries are unpacked.
	Dir string `yaml:"dir"`
}

// NetworkConfig drives the connectivity preflight.
type NetworkConfig struct {
	// RepoHosts are the package-repository hosts that must resolve and
	// be reachable before any mutating step runs.
	RepoHosts []string `yaml:"repoHosts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Version:    "v1.33",
			Registries: []string{"docker.io", "quay.io"},
		},
		Kubernetes: KubernetesConfig{
			Version: "v1.33",
		},
		CNI: CNIConfig{
			Version:     "v1.7.1",
			URLTemplate: "https://github.com/containernetworking/plugins/releases/download/%[1]s/cni-plugins-linux-%[2]s-%[1]s.tgz",
			Dir:         "/opt/cni/bin",
		},
		Network: NetworkConfig{
			RepoHosts: []string{"pkgs.k8s.io", "download.opensuse.org", "github.com"},
		},
		LogFile: "/var/log/nodeprep.log",
	}
}

// Load reads the configuration from path, overlaying the defaults.
// A missing file at the default path is not an error; a missing file at an
// explicitly requested path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, &UserError{
			Message:    "could not read configuration file",
			Context:    path,
			Suggestion: "check the path passed to --config",
			Underlying: err,
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &UserError{
			Message:    "configuration file is not valid YAML",
			Context:    path,
			Suggestion: "fix the syntax error reported below",
			Underlying: err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that would produce broken
// host state or unsafe command lines.
func (c *Config) Validate() error {
	if err := validation.ValidateVersion(c.Runtime.Version); err != nil {
		return invalid("runtime.version", err)
	}
	if err := validation.ValidateVersion(c.Kubernetes.Version); err != nil {
		return invalid("kubernetes.version", err)
	}
	if err := validation.ValidateVersion(c.CNI.Version); err != nil {
		return invalid("cni.version", err)
	}
	if err := validation.ValidateURL(fmt.Sprintf(c.CNI.URLTemplate, c.CNI.Version, "amd64")); err != nil {
		return invalid("cni.urlTemplate", err)
	}
	if c.CNI.Dir == "" {
		return invalid("cni.dir", fmt.Errorf("directory cannot be empty"))
	}
	if len(c.Network.RepoHosts) == 0 {
		return invalid("network.repoHosts", fmt.Errorf("at least one repository host is required"))
	}
	for _, host := range c.Network.RepoHosts {
		if err := validation.ValidateHost(host); err != nil {
			return invalid("network.repoHosts", err)
		}
	}
	for _, registry := range c.Runtime.Registries {
		if err := validation.ValidateHost(registry); err != nil {
			return invalid("runtime.registries", err)
		}
	}
	if c.LogFile == "" {
		return invalid("logFile", fmt.Errorf("log file path cannot be empty"))
	}
	return nil
}

func invalid(context string, err error) error {
	return &UserError{
		Message:    "invalid configuration value",
		Context:    context,
		Suggestion: "see nodeprep.yaml reference in the README",
		Underlying: err,
	}
}
