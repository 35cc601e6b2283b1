package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/nodeprep/internal/adapters/logging"
	"github.com/felixgeelhaar/nodeprep/internal/app"
	"github.com/felixgeelhaar/nodeprep/internal/domain/config"
	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

func TestFormatError_StepError(t *testing.T) {
	err := pipeline.NewStepError(pipeline.ClassNetwork, "DNS resolution failed for pkgs.k8s.io").
		WithSuggestion("check /etc/resolv.conf")

	verbose = false
	msg := formatError(err)
	assert.Contains(t, msg, "DNS resolution failed")
	assert.Contains(t, msg, "Suggestion: check /etc/resolv.conf")

	verbose = true
	defer func() { verbose = false }()
	msg = formatError(err)
	assert.Contains(t, msg, "[NETWORK]")
}

func TestFormatError_UserError(t *testing.T) {
	err := &config.UserError{
		Message:    "invalid runtime version",
		Context:    "runtime.version",
		Suggestion: "use a form like v1.33",
	}

	msg := formatError(err)
	assert.Contains(t, msg, "invalid runtime version (at runtime.version)")
	assert.Contains(t, msg, "Suggestion: use a form like v1.33")
}

func TestFormatError_Plain(t *testing.T) {
	assert.Equal(t, "boom", formatError(errors.New("boom")))
}

func TestPrintErrorTo(t *testing.T) {
	var buf bytes.Buffer
	printErrorTo(&buf, errors.New("something broke"))
	assert.Equal(t, "Error: something broke\n", buf.String())
}

// stubPreparer returns a newPreparer replacement wired against mocks.
func stubPreparer(t *testing.T) (func(*config.Config, io.Writer) (*app.Preparer, error), *ports.MockCommandRunner) {
	t.Helper()

	fs := ports.NewMemFileSystem()
	require.NoError(t, fs.WriteFile("/etc/os-release", []byte("ID=\"rocky\"\n"), 0o644))

	runner := ports.NewMockCommandRunner()
	runner.AddResult("rpm", []string{"-q", "bind-utils"}, ports.CommandResult{ExitCode: 1})
	runner.AddResult("rpm", []string{"-q", "cri-o"}, ports.CommandResult{ExitCode: 1})
	runner.AddResult("rpm", []string{"-q", "kubelet"}, ports.CommandResult{ExitCode: 1})
	runner.AddResult("systemctl", []string{"is-active", "firewalld"}, ports.CommandResult{ExitCode: 3, Stdout: "inactive\n"})
	runner.AddResult("systemctl", []string{"is-active", "crio"}, ports.CommandResult{ExitCode: 3, Stdout: "inactive\n"})
	runner.AddResult("systemctl", []string{"is-enabled", "crio"}, ports.CommandResult{ExitCode: 1, Stdout: "disabled\n"})

	require.NoError(t, fs.WriteFile("/proc/modules", nil, 0o644))

	prober := hoststate.NewProber(fs, runner,
		hoststate.WithSwapProbe(func(context.Context) (uint64, error) { return 0, nil }))

	build := func(cfg *config.Config, out io.Writer) (*app.Preparer, error) {
		return app.New(cfg, out,
			app.WithFileSystem(fs),
			app.WithRunner(runner),
			app.WithLogger(logging.NewNopLogger()),
			app.WithProber(prober),
			app.WithGeteuid(func() int { return 0 }))
	}
	return build, runner
}

func TestPlanCommand_PrintsPendingSteps(t *testing.T) {
	build, _ := stubPreparer(t)

	origNew := newPreparer
	newPreparer = build
	defer func() { newPreparer = origNew }()

	cfgPath := filepath.Join(t.TempDir(), "nodeprep.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logFile: /tmp/nodeprep-test.log\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"plan", "--config", cfgPath})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Node Preparation Plan")
	assert.Contains(t, out.String(), "network:connectivity")
	assert.Contains(t, out.String(), "runtime:install")
}

func TestPrepareCommand_DryRun(t *testing.T) {
	build, runner := stubPreparer(t)

	origNew := newPreparer
	newPreparer = build
	defer func() { newPreparer = origNew }()

	cfgPath := filepath.Join(t.TempDir(), "nodeprep.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logFile: /tmp/nodeprep-test.log\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"prepare", "--dry-run", "--config", cfgPath})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Execution Results")

	for _, call := range runner.Calls() {
		assert.NotEqual(t, "dnf", call.Command)
		assert.NotEqual(t, "swapoff", call.Command)
	}
}

func TestPrepareCommand_ConfigErrorSurfaces(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nodeprep.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("runtime:\n  version: nonsense\n"), 0o644))

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"prepare", "--config", cfgPath})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, pipeline.ExitGeneric, pipeline.ExitCodeFor(err))
}
