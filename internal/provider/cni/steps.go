// Package cni installs the standard CNI plugin binaries. Only the binaries:
// no network configuration is written, because the cluster's network add-on
// supplies it during or after join.
package cni

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// VersionMarker records which plugin release populated the directory, so
// re-runs skip the download when the pinned version is already unpacked.
const VersionMarker = ".nodeprep-cni-version"

// requiredPlugins are the binaries every network add-on assumes present.
var requiredPlugins = []string{"bridge", "host-local", "loopback"}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BinariesStep downloads the pinned CNI plugin release and unpacks it.
type BinariesStep struct {
	fs          ports.FileSystem
	client      Doer
	version     string
	urlTemplate string
	sha256      string
	dir         string
	arch        string
	progressOut io.Writer
	id          pipeline.StepID
}

// BinariesStepOption configures a BinariesStep.
type BinariesStepOption func(*BinariesStep)

// WithArch overrides the target architecture (defaults to the build arch).
func WithArch(arch string) BinariesStepOption {
	return func(s *BinariesStep) {
		s.arch = arch
	}
}

// WithProgressOutput sets where the download progress bar renders.
// Defaults to discarding it; the CLI passes the terminal.
func WithProgressOutput(w io.Writer) BinariesStepOption {
	return func(s *BinariesStep) {
		s.progressOut = w
	}
}

// NewBinariesStep creates a new BinariesStep. sha256 may be empty to skip
// digest verification.
func NewBinariesStep(fs ports.FileSystem, client Doer, version, urlTemplate, sha256, dir string, opts ...BinariesStepOption) *BinariesStep {
	if client == nil {
		client = http.DefaultClient
	}
	s := &BinariesStep{
		fs:          fs,
		client:      client,
		version:     version,
		urlTemplate: urlTemplate,
		sha256:      sha256,
		dir:         dir,
		arch:        runtime.GOARCH,
		progressOut: io.Discard,
		id:          pipeline.MustNewStepID("cni:binaries"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the step identifier.
func (s *BinariesStep) ID() pipeline.StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *BinariesStep) DependsOn() []pipeline.StepID {
	return nil
}

// URL returns the release archive URL for the pinned version and arch.
func (s *BinariesStep) URL() string {
	return fmt.Sprintf(s.urlTemplate, s.version, s.arch)
}

func (s *BinariesStep) markerPath() string {
	return filepath.Join(s.dir, VersionMarker)
}

// Check determines whether the pinned version is already unpacked.
func (s *BinariesStep) Check(_ pipeline.RunContext) (pipeline.StepStatus, error) {
	marker, err := s.fs.ReadFile(s.markerPath())
	if err != nil || strings.TrimSpace(string(marker)) != s.version {
		return pipeline.StatusNeedsApply, nil
	}
	for _, plugin := range requiredPlugins {
		if !s.fs.Exists(filepath.Join(s.dir, plugin)) {
			return pipeline.StatusNeedsApply, nil
		}
	}
	return pipeline.StatusSatisfied, nil
}

// Plan returns the diff for this step.
func (s *BinariesStep) Plan(_ pipeline.RunContext) (pipeline.Diff, error) {
	return pipeline.NewDiff(pipeline.DiffTypeAdd, "cni-plugins", s.version, "", s.dir), nil
}

// Apply downloads the release archive, verifies its digest when pinned,
// and unpacks the plugin binaries.
func (s *BinariesStep) Apply(ctx pipeline.RunContext) error {
	archive, err := s.download(ctx)
	if err != nil {
		return err
	}

	if s.sha256 != "" {
		sum := sha256.Sum256(archive)
		if got := hex.EncodeToString(sum[:]); got != s.sha256 {
			return pipeline.NewStepError(pipeline.ClassStateVerification,
				fmt.Sprintf("archive digest mismatch: got %s, want %s", got, s.sha256)).
				WithSuggestion("the release asset changed or the download was corrupted; re-check the pinned digest")
		}
	}

	if err := s.unpack(archive); err != nil {
		return err
	}

	return s.fs.WriteFile(s.markerPath(), []byte(s.version+"\n"), 0o644)
}

func (s *BinariesStep) download(ctx pipeline.RunContext) ([]byte, error) {
	url := s.URL()
	req, err := http.NewRequestWithContext(ctx.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, pipeline.NewStepError(pipeline.ClassNetwork,
			fmt.Sprintf("download %s failed", url)).WithUnderlying(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.NewStepError(pipeline.ClassNetwork,
			fmt.Sprintf("download %s: status %d", url, resp.StatusCode))
	}

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetDescription(fmt.Sprintf("cni-plugins %s", s.version)),
		progressbar.OptionSetWriter(s.progressOut),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&buf, bar), resp.Body); err != nil {
		return nil, pipeline.NewStepError(pipeline.ClassNetwork,
			fmt.Sprintf("download %s interrupted", url)).WithUnderlying(err)
	}
	return buf.Bytes(), nil
}

func (s *BinariesStep) unpack(archive []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(filepath.Clean(header.Name))
		if name == "." || name == ".." {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read %s from archive: %w", header.Name, err)
		}
		if err := s.fs.WriteFile(filepath.Join(s.dir, name), data, 0o755); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
}

// Verify confirms the marker matches the pin and the core plugins exist.
func (s *BinariesStep) Verify(_ pipeline.RunContext) error {
	marker, err := s.fs.ReadFile(s.markerPath())
	if err != nil {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("version marker missing in %s", s.dir))
	}
	if got := strings.TrimSpace(string(marker)); got != s.version {
		return pipeline.NewStepError(pipeline.ClassStateVerification,
			fmt.Sprintf("unpacked version %s does not match pinned %s", got, s.version))
	}

	for _, plugin := range requiredPlugins {
		if !s.fs.Exists(filepath.Join(s.dir, plugin)) {
			return pipeline.NewStepError(pipeline.ClassStateVerification,
				fmt.Sprintf("plugin binary %s missing from %s", plugin, s.dir))
		}
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *BinariesStep) Explain(_ pipeline.ExplainContext) pipeline.Explanation {
	return pipeline.NewExplanation(
		"Install CNI plugin binaries",
		fmt.Sprintf("Downloads containernetworking plugins %s and unpacks them into %s. Network configuration itself comes from the cluster's add-on after join.",
			s.version, s.dir),
		nil,
	)
}
