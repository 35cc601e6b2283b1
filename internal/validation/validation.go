// Package validation provides input validation utilities.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// packageNamePattern allows the characters valid in rpm/deb package names.
	packageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.+-]*$`)

	// versionPattern allows semver-style pins like "v1.33" or "1.33.2".
	versionPattern = regexp.MustCompile(`^v?\d+(?:\.\d+){0,2}$`)

	// hostPattern allows DNS host names.
	hostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

	// Dangerous characters that should never appear in values passed to
	// the package manager or service manager.
	dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "{", "}", "<", ">", "!", "\n", "\r", " "}
)

// ValidatePackageName validates an rpm/deb package name.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("package name too long (max 255 characters)")
	}
	if strings.ContainsRune(name, '\x00') {
		return fmt.Errorf("package name contains null byte")
	}
	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("package name contains invalid character: %q", char)
		}
	}
	if !packageNamePattern.MatchString(name) {
		return fmt.Errorf("invalid package name format: %q", name)
	}
	return nil
}

// ValidateVersion validates a version pin like "v1.33" or "1.33.2".
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version cannot be empty")
	}
	if !versionPattern.MatchString(version) {
		return fmt.Errorf("invalid version format: %q (expected e.g. v1.33)", version)
	}
	return nil
}

// ValidateHost validates a DNS host name.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if len(host) > 253 {
		return fmt.Errorf("host too long (max 253 characters)")
	}
	if !hostPattern.MatchString(host) {
		return fmt.Errorf("invalid host name: %q", host)
	}
	return nil
}

// ValidateURL validates an https download or repository URL.
func ValidateURL(url string) error {
	if url == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("URL must use https: %q", url)
	}
	for _, char := range []string{";", "|", "`", " ", "\n", "\r"} {
		if strings.Contains(url, char) {
			return fmt.Errorf("URL contains invalid character: %q", char)
		}
	}
	return nil
}
