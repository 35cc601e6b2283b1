// Package runtime provides the CRI-O container runtime steps: repository
// registration, package installation, configuration, and service startup.
package runtime

import (
	"fmt"

	"github.com/felixgeelhaar/nodeprep/internal/platform"
)

// PackageName is the runtime package installed on both families.
const PackageName = "cri-o"

// ServiceUnit is the systemd unit the runtime runs as.
const ServiceUnit = "crio"

// RepositoryFor builds the CRI-O package repository definition for the
// given family. CRI-O publishes per-minor-version streams; the repository
// tracks the same major.minor as the pinned Kubernetes release.
func RepositoryFor(family platform.Family, version string) platform.Repository {
	base := fmt.Sprintf("https://pkgs.k8s.io/addons:/cri-o:/stable:/%s", version)

	repo := platform.Repository{
		Name:        "cri-o",
		Description: fmt.Sprintf("CRI-O %s", version),
	}
	switch family {
	case platform.FamilyRHEL:
		repo.BaseURL = base + "/rpm/"
		repo.KeyURL = base + "/rpm/repodata/repomd.xml.key"
	case platform.FamilyDebian:
		repo.BaseURL = base + "/deb/"
		repo.KeyURL = base + "/deb/Release.key"
	}
	return repo
}
