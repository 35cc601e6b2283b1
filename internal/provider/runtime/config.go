package runtime

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// Configuration files written by ConfigStep.
const (
	DefaultDropInPath     = "/etc/crio/crio.conf.d/10-nodeprep.conf"
	DefaultRegistriesPath = "/etc/containers/registries.conf"
)

// crioDropIn is the runtime drop-in. The kubelet and the runtime must agree
// on the cgroup driver; systemd is the one matching the host init system.
type crioDropIn struct {
	Crio struct {
		Runtime struct {
			CgroupManager string `toml:"cgroup_manager"`
			ConmonCgroup  string `toml:"conmon_cgroup"`
		} `toml:"runtime"`
	} `toml:"crio"`
}

// registriesConf is the container image registry search configuration.
type registriesConf struct {
	UnqualifiedSearchRegistries []string `toml:"unqualified-search-registries"`
}

// ConfigStep writes the CRI-O drop-in and the registry search list.
type ConfigStep struct {
	fs             ports.FileSystem
	registries     []string
	dropInPath     string
	registriesPath string
	id             pipeline.StepID
}

// NewConfigStep creates a new ConfigStep with the configured registry
// search list.
func NewConfigStep(fs ports.FileSystem, registries []string) *ConfigStep {
	return &ConfigStep{
		fs:             fs,
		registries:     registries,
		dropInPath:     DefaultDropInPath,
		registriesPath: DefaultRegistriesPath,
		id:             pipeline.MustNewStepID("runtime:config"),
	}
}

// ID returns the step identifier.
func (s *ConfigStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn requires the runtime package to be installed first.
func (s *ConfigStep) DependsOn() []pipeline.StepID {
	return []pipeline.StepID{pipeline.MustNewStepID("runtime:install")}
}

func (s *ConfigStep) renderDropIn() ([]byte, error) {
	var dropIn crioDropIn
	dropIn.Crio.Runtime.CgroupManager = "systemd"
	dropIn.Crio.Runtime.ConmonCgroup = "pod"
	return toml.Marshal(dropIn)
}

func (s *ConfigStep) renderRegistries() ([]byte, error) {
	return toml.Marshal(registriesConf{UnqualifiedSearchRegistries: s.registries})
}

// Check determines whether both files already hold the desired content.
func (s *ConfigStep) Check(_ pipeline.RunContext) (pipeline.StepStatus, error) {
	dropIn, err := s.renderDropIn()
	if err != nil {
		return pipeline.StatusUnknown, err
	}
	registries, err := s.renderRegistries()
	if err != nil {
		return pipeline.StatusUnknown, err
	}

	if s.fileMatches(s.dropInPath, dropIn) && s.fileMatches(s.registriesPath, registries) {
		return pipeline.StatusSatisfied, nil
	}
	return pipeline.StatusNeedsApply, nil
}

func (s *ConfigStep) fileMatches(path string, want []byte) bool {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Equal(data, want)
}

// Plan returns the diff for this step.
func (s *ConfigStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "runtime-config", s.dropInPath, "", "cgroup_manager=systemd"), nil
}

// Apply writes both configuration files.
func (s *ConfigStep) Apply(_ pipeline.RunContext) error {
	dropIn, err := s.renderDropIn()
	if err != nil {
		return fmt.Errorf("render runtime drop-in: %w", err)
	}
	registries, err := s.renderRegistries()
	if err != nil {
		return fmt.Errorf("render registries config: %w", err)
	}

	for path, data := range map[string][]byte{
		s.dropInPath:     dropIn,
		s.registriesPath: registries,
	} {
		if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		if err := s.fs.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// Verify parses the written files and checks the values, not the bytes, so
// hand-edits that preserve the settings still pass.
func (s *ConfigStep) Verify(_ pipeline.RunContext) error {
	data, err := s.fs.ReadFile(s.dropInPath)
	if err != nil {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("runtime drop-in missing: %v", err))
	}
	var dropIn crioDropIn
	if err := toml.Unmarshal(data, &dropIn); err != nil {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("runtime drop-in unparseable: %v", err))
	}
	if dropIn.Crio.Runtime.CgroupManager != "systemd" {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("cgroup_manager is %q, want systemd", dropIn.Crio.Runtime.CgroupManager))
	}

	data, err = s.fs.ReadFile(s.registriesPath)
	if err != nil {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("registries config missing: %v", err))
	}
	var registries registriesConf
	if err := toml.Unmarshal(data, &registries); err != nil {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("registries config unparseable: %v", err))
	}
	if len(registries.UnqualifiedSearchRegistries) == 0 {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			"registries config has no unqualified-search-registries")
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *ConfigStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Configure CRI-O",
		fmt.Sprintf("Writes %s selecting the systemd cgroup driver and %s with the image registry search list.",
			s.dropInPath, s.registriesPath),
		nil,
	)
}
