package validation_test

import (
	"testing"

	"github.com/felixgeelhaar/nodeprep/internal/validation"
	"github.com/stretchr/testify/assert"
)

func TestValidatePackageName(t *testing.T) {
	t.Parallel()

	valid := []string{"cri-o", "kubeadm", "bind-utils", "containernetworking-plugins", "kubelet-1.33.2"}
	for _, name := range valid {
		assert.NoError(t, validation.ValidatePackageName(name), name)
	}

	invalid := []string{"", "cri-o; rm -rf /", "pkg name", "pkg|tee", "-leading", "a\x00b"}
	for _, name := range invalid {
		assert.Error(t, validation.ValidatePackageName(name), name)
	}
}

func TestValidateVersion(t *testing.T) {
	t.Parallel()

	valid := []string{"v1.33", "1.33", "1.33.2", "v1.7.1"}
	for _, v := range valid {
		assert.NoError(t, validation.ValidateVersion(v), v)
	}

	invalid := []string{"", "latest", "v1.33.x", "1.33;true", "v1.2.3.4"}
	for _, v := range invalid {
		assert.Error(t, validation.ValidateVersion(v), v)
	}
}

func TestValidateHost(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validation.ValidateHost("pkgs.k8s.io"))
	assert.NoError(t, validation.ValidateHost("download.opensuse.org"))
	assert.Error(t, validation.ValidateHost(""))
	assert.Error(t, validation.ValidateHost("host name"))
	assert.Error(t, validation.ValidateHost("-bad.example.com"))
}

func TestValidateURL(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validation.ValidateURL("https://github.com/containernetworking/plugins/releases"))
	assert.Error(t, validation.ValidateURL("http://insecure.example.com"))
	assert.Error(t, validation.ValidateURL("https://example.com/a;b"))
	assert.Error(t, validation.ValidateURL(""))
}
