package cni_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/nodeprep/internal/domain/pipeline"
	"github.com/felixgeelhaar/nodeprep/internal/ports"
	"github.com/felixgeelhaar/nodeprep/internal/provider/cni"
)

// pluginArchive builds a minimal release tarball the way the upstream
// project lays it out: ./<plugin> regular files.
func pluginArchive(t *testing.T, plugins ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, plugin := range plugins {
		content := []byte("#!/bin/sh\nexit 0\n")
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "./" + plugin,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestBinariesStep_ApplyDownloadsAndUnpacks(t *testing.T) {
	t.Parallel()

	archive := pluginArchive(t, "bridge", "host-local", "loopback", "vlan")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "v1.7.1")
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	sum := sha256.Sum256(archive)
	fs := ports.NewMemFileSystem()
	step := cni.NewBinariesStep(fs, server.Client(),
		"v1.7.1", server.URL+"/%[1]s/cni-plugins-linux-%[2]s-%[1]s.tgz", hex.EncodeToString(sum[:]), "/opt/cni/bin",
		cni.WithArch("amd64"))

	status, err := step.Check(pipeline.NewRunContext(context.Background()))
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusNeedsApply, status)

	require.NoError(t, step.Apply(pipeline.NewRunContext(context.Background())))

	assert.True(t, fs.Exists("/opt/cni/bin/bridge"))
	assert.True(t, fs.Exists("/opt/cni/bin/loopback"))
	assert.True(t, fs.Exists("/opt/cni/bin/vlan"))

	require.NoError(t, step.Verify(pipeline.NewRunContext(context.Background())))

	status, err = step.Check(pipeline.NewRunContext(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSatisfied, status)
}

func TestBinariesStep_ApplyRejectsDigestMismatch(t *testing.T) {
	t.Parallel()

	archive := pluginArchive(t, "bridge")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	fs := ports.NewMemFileSystem()
	step := cni.NewBinariesStep(fs, server.Client(),
		"v1.7.1", server.URL+"/%[1]s-%[2]s.tgz", "deadbeef", "/opt/cni/bin")

	err := step.Apply(pipeline.NewRunContext(context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
	assert.False(t, fs.Exists("/opt/cni/bin/bridge"))
}

func TestBinariesStep_ApplyDownloadFailureIsNetworkClass(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	step := cni.NewBinariesStep(ports.NewMemFileSystem(), server.Client(),
		"v1.7.1", server.URL+"/%[1]s-%[2]s.tgz", "", "/opt/cni/bin")

	err := step.Apply(pipeline.NewRunContext(context.Background()))
	require.Error(t, err)
	assert.Equal(t, pipeline.ClassNetwork, pipeline.ClassOf(err))
	assert.Equal(t, pipeline.ExitNetwork, pipeline.ExitCodeFor(err))
}

func TestBinariesStep_VerifyFailsOnVersionDrift(t *testing.T) {
	t.Parallel()

	fs := ports.NewMemFileSystem()
	require.NoError(t, fs.WriteFile("/opt/cni/bin/"+cni.VersionMarker, []byte("v1.6.0\n"), 0o644))

	step := cni.NewBinariesStep(fs, nil, "v1.7.1", "https://example.com/%[1]s-%[2]s.tgz", "", "/opt/cni/bin")

	err := step.Verify(pipeline.NewRunContext(context.Background()))
	require.Error(t, err)
	assert.Equal(t, pipeline.ClassStateVerification, pipeline.ClassOf(err))
	assert.Contains(t, err.Error(), "v1.6.0")
}

func TestBinariesStep_URLExpandsVersionAndArch(t *testing.T) {
	t.Parallel()

	step := cni.NewBinariesStep(ports.NewMemFileSystem(), nil,
		"v1.7.1", "https://github.com/containernetworking/plugins/releases/download/%[1]s/cni-plugins-linux-%[2]s-%[1]s.tgz", "", "/opt/cni/bin",
		cni.WithArch("arm64"))

	assert.Equal(t,
		"https://github.com/containernetworking/plugins/releases/download/v1.7.1/cni-plugins-linux-arm64-v1.7.1.tgz",
		step.URL())
}
