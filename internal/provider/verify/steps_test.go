package verify_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/nodeprep/internal/adapters/logging"
	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/hoststate"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
	"github.com/felixgeelhaar/nodeprep/internal/provider/verify"
)

type recordingLogger struct {
	*logging.NopLogger
	warnings []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{NopLogger: logging.NewNopLogger()}
}

func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...ports.Field) {
	l.warnings = append(l.warnings, msg)
}

var sysctlKeys = []string{
	"net.bridge.bridge-nf-call-iptables",
	"net.bridge.bridge-nf-call-ip6tables",
	"net.ipv4.ip_forward",
}

func writeSysctl(t *testing.T, fs *ports.MemFileSystem, key, value string) {
	t.Helper()
	path := filepath.Join(append([]string{"/proc", "sys"}, splitDots(key)...)...)
	require.NoError(t, fs.WriteFile(path, []byte(value+"\n"), 0o644))
}

func splitDots(key string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(key); i++ {
		if i == len(key) || key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	return parts
}

func TestFinalStep_ApplyLogsOperatorGuidance(t *testing.T) {
	t.Parallel()

	runner := ports.NewMockCommandRunner()
	runner.AddResult("crictl", []string{"--runtime-endpoint", verify.CrioSocket, "info"}, ports.CommandResult{ExitCode: 0, Stdout: "{}"})

	logger := newRecordingLogger()
	prober := hoststate.NewProber(ports.NewMemFileSystem(), runner)
	step := verify.NewFinalStep(runner, prober, logger, sysctlKeys)

	require.NoError(t, step.Apply(pipeline.NewRunContext(context.Background())))
	require.Len(t, logger.warnings, 1)
	assert.Contains(t, logger.warnings[0], "network add-on")
}

func TestFinalStep_ApplyFailsWhenRuntimeUnreachable(t *testing.T) {
	t.Parallel()

	runner := ports.NewMockCommandRunner()
	runner.AddResult("crictl", []string{"--runtime-endpoint", verify.CrioSocket, "info"}, ports.CommandResult{ExitCode: 1, Stderr: "connection refused"})

	prober := hoststate.NewProber(ports.NewMemFileSystem(), runner)
	step := verify.NewFinalStep(runner, prober, newRecordingLogger(), sysctlKeys)

	err := step.Apply(pipeline.NewRunContext(context.Background()))
	require.Error(t, err)
	assert.Equal(t, pipeline.ClassStateVerification, pipeline.ClassOf(err))
}

func TestFinalStep_VerifyRechecksSwapAndSysctl(t *testing.T) {
	t.Parallel()

	fs := ports.NewMemFileSystem()
	for _, key := range sysctlKeys {
		writeSysctl(t, fs, key, "1")
	}

	prober := hoststate.NewProber(fs, ports.NewMockCommandRunner(),
		hoststate.WithSwapProbe(func(context.Context) (uint64, error) { return 0, nil }))

	step := verify.NewFinalStep(ports.NewMockCommandRunner(), prober, newRecordingLogger(), sysctlKeys)
	require.NoError(t, step.Verify(pipeline.NewRunContext(context.Background())))
}

func TestFinalStep_VerifyFailsWhenSwapReturned(t *testing.T) {
	t.Parallel()

	prober := hoststate.NewProber(ports.NewMemFileSystem(), ports.NewMockCommandRunner(),
		hoststate.WithSwapProbe(func(context.Context) (uint64, error) { return 1 << 30, nil }))

	step := verify.NewFinalStep(ports.NewMockCommandRunner(), prober, newRecordingLogger(), sysctlKeys)

	err := step.Verify(pipeline.NewRunContext(context.Background()))
	require.Error(t, err)
	assert.Equal(t, pipeline.ClassStateVerification, pipeline.ClassOf(err))
	assert.Contains(t, err.Error(), "swap re-enabled")
}

func TestFinalStep_CheckAlwaysRuns(t *testing.T) {
	t.Parallel()

	prober := hoststate.NewProber(ports.NewMemFileSystem(), ports.NewMockCommandRunner())
	step := verify.NewFinalStep(ports.NewMockCommandRunner(), prober, newRecordingLogger(), sysctlKeys)

	status, err := step.Check(pipeline.NewRunContext(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusNeedsApply, status)
}
